// Package llm generates birthday greetings with an OpenAI chat model and
// records every call in the gpt_queries_logs audit table.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("llm: api key not configured")

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

const defaultModel = "gpt-4o-mini"

const systemPrompt = "Ти корпоративний асистент. Пиши короткі теплі привітання з днем народження українською мовою, " +
	"звертаючись до людини на ім'я. Не більше трьох речень, без хештегів."

// QueryLog stores one audit record per model call. *repo.Store implements it.
type QueryLog interface {
	AppendGPTQueryLog(ctx context.Context, l *domain.GPTQueryLog) error
}

// Greeter asks the model for a greeting.
type Greeter struct {
	client  openai.Client
	model   string
	log     QueryLog
	timeout time.Duration
	enabled bool
}

// Option customizes a Greeter.
type Option func(*greeterOptions)

type greeterOptions struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option { return func(o *greeterOptions) { o.baseURL = u } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(o *greeterOptions) { o.http = hc } }

// WithTimeout bounds one completion call.
func WithTimeout(d time.Duration) Option { return func(o *greeterOptions) { o.timeout = d } }

// NewGreeter builds a Greeter. With an empty apiKey every call fails with
// ErrNoAPIKey and callers fall back to their template.
func NewGreeter(apiKey, model string, ql QueryLog, opts ...Option) *Greeter {
	o := greeterOptions{timeout: 20 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	hc := o.http
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(1),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &Greeter{
		client:  openai.NewClient(reqOpts...),
		model:   model,
		log:     ql,
		timeout: o.timeout,
		enabled: strings.TrimSpace(apiKey) != "",
	}
}

func prompt(employeeName string) string {
	return fmt.Sprintf("Привітай з днем народження колегу: %s.", employeeName)
}

// Greeting returns a greeting for employeeName.
func (g *Greeter) Greeting(ctx context.Context, employeeName string) (string, error) {
	if !g.enabled {
		return "", ErrNoAPIKey
	}
	tr := otel.Tracer("llm/Greeter")
	ctx, span := tr.Start(ctx, "Greeting", trace.WithAttributes(attribute.String("llm.model", g.model)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	user := prompt(employeeName)
	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.9),
	})

	var text string
	if err == nil {
		if len(resp.Choices) > 0 {
			text = strings.TrimSpace(resp.Choices[0].Message.Content)
		}
		if text == "" {
			err = ErrEmptyCompletion
		}
	}
	g.record(ctx, user, text, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("llm greeting: %w", err)
	}
	return text, nil
}

func (g *Greeter) record(ctx context.Context, prompt, response string, callErr error, took time.Duration) {
	if g.log == nil {
		return
	}
	entry := &domain.GPTQueryLog{
		Model:      g.model,
		Prompt:     prompt,
		Response:   response,
		DurationMS: took.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	// The call context may already be past its deadline.
	if err := g.log.AppendGPTQueryLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn().Err(err).Msg("gpt query log append failed")
	}
}
