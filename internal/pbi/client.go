// Package pbi is the directory/BI authority client. It obtains short-lived
// bearer tokens with a password grant and executes DAX queries against a
// Power BI dataset, returning rows keyed by normalized column name.
//
// The client never caches tokens: every Execute call acquires a fresh bearer
// so a job run that outlives a token cannot fail halfway. The query text is
// passed through verbatim; this package is not a query builder.
package pbi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-staff-assistant/internal/config"
)

// maxBodyLog caps how much of an error body is kept for diagnostics.
const maxBodyLog = 4096

// Client talks to the token and executeQueries endpoints.
type Client struct {
	cfg  config.PBIConfig
	http *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests use httptest clients).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a Client with a bounded per-request timeout and a traced
// transport.
func New(cfg config.PBIConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Token exchanges the configured credentials for a bearer token.
func (c *Client) Token(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"resource":   {c.cfg.Resource},
		"client_id":  {c.cfg.ClientID},
		"username":   {c.cfg.Username},
		"password":   {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Status: resp.StatusCode, Body: clip(string(body))}
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("decode token: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &AuthError{Status: resp.StatusCode, Body: "access_token missing"}
	}
	return tr.AccessToken, nil
}

type queryRequest struct {
	Queries            []queryItem        `json:"queries"`
	SerializerSettings serializerSettings `json:"serializerSettings"`
}

type queryItem struct {
	Query string `json:"query"`
}

type serializerSettings struct {
	IncludeNulls bool `json:"includeNulls"`
}

type queryResponse struct {
	Results []struct {
		Tables []struct {
			Rows []map[string]any `json:"rows"`
		} `json:"tables"`
	} `json:"results"`
}

// Execute runs one DAX query and returns the rows of its first table.
// An empty result is an empty Table, not an error.
func (c *Client) Execute(ctx context.Context, query string) (Table, error) {
	tr := otel.Tracer("pbi/Client")
	ctx, span := tr.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("pbi.dataset", c.cfg.DatasetID),
			attribute.Int("pbi.query_bytes", len(query)),
		),
	)
	defer span.End()

	start := time.Now()
	table, err := c.execute(ctx, query)
	outcome := "ok"
	var ae *AuthError
	switch {
	case errors.As(err, &ae):
		outcome = "auth_error"
	case err != nil:
		outcome = "upstream_error"
	}
	queryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.Int("pbi.rows", len(table)))
	return table, nil
}

func (c *Client) execute(ctx context.Context, query string) (Table, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(queryRequest{
		Queries:            []queryItem{{Query: query}},
		SerializerSettings: serializerSettings{IncludeNulls: true},
	})
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	endpoint := fmt.Sprintf("%s/v1.0/myorg/datasets/%s/executeQueries", c.cfg.APIURL, url.PathEscape(c.cfg.DatasetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: clip(string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var qr queryResponse
	if err := dec.Decode(&qr); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
	}
	if len(qr.Results) == 0 || len(qr.Results[0].Tables) == 0 {
		return Table{}, nil
	}
	raw := qr.Results[0].Tables[0].Rows
	out := make(Table, 0, len(raw))
	for _, r := range raw {
		out = append(out, normalizeRow(r))
	}
	return out, nil
}

func clip(s string) string {
	if len(s) <= maxBodyLog {
		return s
	}
	return s[:maxBodyLog] + "…"
}
