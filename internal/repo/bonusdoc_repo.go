package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// BonusDocNumbers returns the set of known document numbers.
func BonusDocNumbers(ctx context.Context, db *gorm.DB) (map[string]struct{}, error) {
	var nums []string
	if err := db.WithContext(ctx).Model(&domain.BonusDoc{}).Pluck("doc_number", &nums).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(nums))
	for _, n := range nums {
		out[n] = struct{}{}
	}
	return out, nil
}

// InsertBonusDocsIfAbsent bulk-inserts docs, ignoring any whose doc number
// already exists regardless of period. It returns the number inserted.
func InsertBonusDocsIfAbsent(ctx context.Context, db *gorm.DB, docs []domain.BonusDoc, now time.Time) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	rows := make([]domain.BonusDoc, len(docs))
	for i, d := range docs {
		d.IsNotified = false
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now.UTC()
		}
		rows[i] = d
	}
	// doc_number is unique on its own, so any conflict (including the
	// composite primary key) means the document is already tracked.
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return res.RowsAffected, res.Error
}

// PendingBonusDocs returns documents not yet notified, oldest first.
func PendingBonusDocs(ctx context.Context, db *gorm.DB) ([]domain.BonusDoc, error) {
	var out []domain.BonusDoc
	err := db.WithContext(ctx).
		Where("is_notified = ?", false).
		Order("created_at ASC, doc_number ASC").
		Find(&out).Error
	return out, err
}

// MarkBonusDocsNotified flips is_notified for the given documents in one
// update, touching only rows that are still unnotified.
func MarkBonusDocsNotified(ctx context.Context, db *gorm.DB, docNumbers []string) (int64, error) {
	if len(docNumbers) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.BonusDoc{}).
		Where("doc_number IN ? AND is_notified = ?", docNumbers, false).
		Update("is_notified", true)
	return res.RowsAffected, res.Error
}
