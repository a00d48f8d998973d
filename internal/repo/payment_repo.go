// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Payment
// model. A (phone, payment number) group is the unit of replacement: the
// synchronizer never edits individual payment rows.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// PendingPayment is an unnotified payment joined with its owner's chat id.
type PendingPayment struct {
	domain.Payment
	TelegramID   int64
	EmployeeName string
}

// ReplacePayments deletes every payment of (phone, paymentNumber) and inserts
// rows in their place, in one transaction. Inserted rows are unnotified.
func ReplacePayments(ctx context.Context, db *gorm.DB, phone, paymentNumber string, rows []domain.Payment) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("phone_number = ? AND payment_number = ?", phone, paymentNumber).
			Delete(&domain.Payment{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		fresh := make([]domain.Payment, len(rows))
		for i, r := range rows {
			r.ID = 0
			r.PhoneNumber = phone
			r.PaymentNumber = paymentNumber
			r.IsNotified = false
			fresh[i] = r
		}
		return tx.Create(&fresh).Error
	})
}

// PaymentsByPhones returns all payments owned by any of phones.
func PaymentsByPhones(ctx context.Context, db *gorm.DB, phones []string) ([]domain.Payment, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	var out []domain.Payment
	err := db.WithContext(ctx).
		Where("phone_number IN ?", phones).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// PendingPayments returns unnotified payments whose owner is an active user
// with a known chat id, oldest first.
func PendingPayments(ctx context.Context, db *gorm.DB) ([]PendingPayment, error) {
	var out []PendingPayment
	err := db.WithContext(ctx).
		Table("payments").
		Select("payments.*, users.telegram_id AS telegram_id, users.employee_name AS employee_name").
		Joins("JOIN users ON users.phone_number = payments.phone_number").
		Where("payments.is_notified = ? AND users.status = ? AND users.telegram_id <> 0", false, domain.StatusActive).
		Order("payments.id ASC").
		Scan(&out).Error
	return out, err
}

// MarkPaymentNotified flips is_notified for one payment. It reports false
// when the row was already notified or no longer exists.
func MarkPaymentNotified(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND is_notified = ?", id, false).
		Update("is_notified", true)
	return res.RowsAffected > 0, res.Error
}
