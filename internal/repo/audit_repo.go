// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the append-only audit tables: exchange
// rates, outbound message logs and language-model query logs.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// AppendExchangeRate stores one rate observation.
func AppendExchangeRate(ctx context.Context, db *gorm.DB, r *domain.ExchangeRate) error {
	return db.WithContext(ctx).Create(r).Error
}

// LatestExchangeRate returns the newest observation for currency, or ErrNotFound.
func LatestExchangeRate(ctx context.Context, db *gorm.DB, currency string) (*domain.ExchangeRate, error) {
	var r domain.ExchangeRate
	err := db.WithContext(ctx).
		Where("currency = ?", currency).
		Order("timestamp DESC, id DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AppendBotLog stores one outbound notification attempt.
func AppendBotLog(ctx context.Context, db *gorm.DB, l *domain.BotLog) error {
	return db.WithContext(ctx).Create(l).Error
}

// AppendGPTQueryLog stores one language-model call.
func AppendGPTQueryLog(ctx context.Context, db *gorm.DB, l *domain.GPTQueryLog) error {
	return db.WithContext(ctx).Create(l).Error
}
