package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// InsertDevaluationIfAbsent inserts rec unless a row with the same payment
// number exists. It reports whether a row was inserted; existing rows are
// never updated.
func InsertDevaluationIfAbsent(ctx context.Context, db *gorm.DB, rec *domain.DevaluationRecord) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_number"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PendingDevaluations returns rows not yet notified, oldest first.
func PendingDevaluations(ctx context.Context, db *gorm.DB) ([]domain.DevaluationRecord, error) {
	var out []domain.DevaluationRecord
	err := db.WithContext(ctx).
		Where("is_notified = ?", false).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// MarkDevaluationNotified flips is_notified once; a second call reports false.
func MarkDevaluationNotified(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DevaluationRecord{}).
		Where("id = ? AND is_notified = ?", id, false).
		Update("is_notified", true)
	return res.RowsAffected > 0, res.Error
}
