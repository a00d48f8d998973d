// Package nbu reads official exchange rates published by the National Bank
// of Ukraine.
package nbu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const exchangePath = "/NBUStatService/v1/statdirectory/exchange"

// Client fetches rates from the NBU statistics API.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for base (e.g. "https://bank.gov.ua"). A nil hc gets a
// traced client with a 15s timeout.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

type rateItem struct {
	Code         string      `json:"cc"`
	Rate         json.Number `json:"rate"`
	ExchangeDate string      `json:"exchangedate"`
}

// USDRate returns the official UAH per USD rate and the date it applies to.
func (c *Client) USDRate(ctx context.Context) (decimal.Decimal, time.Time, error) {
	return c.Rate(ctx, "USD")
}

// Rate returns the official rate for the ISO currency code.
func (c *Client) Rate(ctx context.Context, code string) (decimal.Decimal, time.Time, error) {
	ctx, span := otel.Tracer("nbu/Client").Start(ctx, "Rate")
	defer span.End()

	endpoint := c.base + exchangePath + "?valcode=" + strings.ToUpper(code) + "&json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("nbu: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, time.Time{}, fmt.Errorf("nbu: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var items []rateItem
	if err := dec.Decode(&items); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("nbu: decode: %w", err)
	}
	for _, it := range items {
		if !strings.EqualFold(it.Code, code) {
			continue
		}
		rate, err := decimal.NewFromString(it.Rate.String())
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("nbu: rate %q: %w", it.Rate, err)
		}
		day, err := time.Parse("02.01.2006", it.ExchangeDate)
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("nbu: exchangedate %q: %w", it.ExchangeDate, err)
		}
		return rate, day, nil
	}
	return decimal.Zero, time.Time{}, fmt.Errorf("nbu: no rate for %s", code)
}
