// Package notify delivers text messages to Telegram chats through the Bot
// API sendMessage method.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-staff-assistant/internal/config"
)

const maxBody = 2048

// DeliveryError reports a message that was not accepted. RateLimited is set
// when the final attempt was answered with 429.
type DeliveryError struct {
	ChatID      int64
	Status      int
	Body        string
	RateLimited bool
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram send to %d: %v", e.ChatID, e.Err)
	case e.RateLimited:
		return fmt.Sprintf("telegram send to %d: rate limited (retry after %s)", e.ChatID, e.RetryAfter)
	default:
		return fmt.Sprintf("telegram send to %d: status %d: %s", e.ChatID, e.Status, e.Body)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Telegram is a paced sendMessage client.
type Telegram struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Telegram client.
type Option func(*Telegram)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Telegram) {
		if hc != nil {
			t.http = hc
		}
	}
}

// WithSleep replaces the wait used before the 429 retry.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Telegram) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

// NewTelegram builds a client from cfg. RPS <= 0 disables pacing.
func NewTelegram(cfg config.TelegramConfig, opts ...Option) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	t := &Telegram{
		base:  strings.TrimRight(cfg.APIURL, "/"),
		token: cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts text to chatID as HTML. A 429 answer is retried exactly once
// after the advertised delay; any other failure is returned as is.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	tr := otel.Tracer("notify/Telegram")
	ctx, span := tr.Start(ctx, "Send", trace.WithAttributes(attribute.Int64("chat_id", chatID)))
	defer span.End()

	err := t.attempt(ctx, chatID, text)
	var de *DeliveryError
	if errors.As(err, &de) && de.RateLimited {
		sendsTotal.WithLabelValues("rate_limited").Inc()
		if serr := t.sleep(ctx, de.RetryAfter); serr != nil {
			err = &DeliveryError{ChatID: chatID, Err: serr}
		} else {
			err = t.attempt(ctx, chatID, text)
		}
	}
	if err != nil {
		sendsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return err
	}
	sendsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (t *Telegram) attempt(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}

	form := url.Values{
		"chat_id":    {strconv.FormatInt(chatID, 10)},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	endpoint := t.base + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error text.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	var ar apiResponse
	_ = json.Unmarshal(body, &ar)

	if resp.StatusCode == http.StatusTooManyRequests {
		retry := time.Duration(ar.Parameters.RetryAfter) * time.Second
		if retry <= 0 {
			retry = time.Second
		}
		return &DeliveryError{ChatID: chatID, Status: resp.StatusCode, Body: string(body), RateLimited: true, RetryAfter: retry}
	}
	if resp.StatusCode != http.StatusOK || !ar.OK {
		return &DeliveryError{ChatID: chatID, Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
