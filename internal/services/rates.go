package services

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// RatesService appends the official USD rate to exchange_rates.
type RatesService struct {
	Source RateSource
	Store  Store
	Clock  Clock
}

// Refresh fetches and stores one observation.
func (s *RatesService) Refresh(ctx context.Context) (*domain.ExchangeRate, error) {
	tr := otel.Tracer("services/RatesService")
	ctx, span := tr.Start(ctx, "Refresh")
	defer span.End()

	rate, _, err := s.Source.USDRate(ctx)
	if err != nil {
		return nil, err
	}
	r := &domain.ExchangeRate{
		Timestamp: s.Clock.Now().UTC(),
		Currency:  domain.CurrencyUSD,
		Rate:      rate,
	}
	if err := s.Store.AppendExchangeRate(ctx, r); err != nil {
		return nil, storeErr("append exchange rate", err)
	}
	return r, nil
}
