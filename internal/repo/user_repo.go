// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// carry no business rules; the identity policy lives in the services layer.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertUser inserts a user keyed by phone or, when the phone already exists,
// updates its telegram identity, employee name and status. JoinedAt is only
// written on insert.
func UpsertUser(ctx context.Context, db *gorm.DB, phone string, telegramID int64, telegramName, employeeName, status string, now time.Time) (*domain.User, error) {
	u := &domain.User{
		PhoneNumber:  phone,
		TelegramID:   telegramID,
		TelegramName: telegramName,
		EmployeeName: employeeName,
		JoinedAt:     now.UTC(),
		Status:       status,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"telegram_id", "telegram_name", "employee_name", "status", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return nil, err
	}
	return UserByPhone(ctx, db, phone)
}

// UserByPhone fetches a user by normalized phone, or ErrNotFound.
func UserByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("phone_number = ?", phone).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// AllUsers returns every user ordered by id.
func AllUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// ActiveUsers returns users with status=active ordered by id.
func ActiveUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// UsersByEmployeeName groups all users by their stored employee name.
func UsersByEmployeeName(ctx context.Context, db *gorm.DB) (map[string][]domain.User, error) {
	users, err := AllUsers(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.User)
	for _, u := range users {
		out[u.EmployeeName] = append(out[u.EmployeeName], u)
	}
	return out, nil
}

// ApplyUserStatus moves the user identified by phone to the given employee
// name and status in one transaction. Re-activation resets JoinedAt to now;
// deactivation deletes the user's payments. It reports whether anything
// changed and returns ErrNotFound for an unknown phone.
func ApplyUserStatus(ctx context.Context, db *gorm.DB, phone, employeeName, status string, now time.Time) (bool, error) {
	changed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.Where("phone_number = ?", phone).First(&u).Error; err != nil {
			return err
		}

		updates := map[string]any{}
		if u.EmployeeName != employeeName {
			updates["employee_name"] = employeeName
		}
		if u.Status != status {
			updates["status"] = status
			if status == domain.StatusActive {
				updates["joined_at"] = now.UTC()
			}
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = now.UTC()

		if err := tx.Model(&domain.User{}).Where("id = ?", u.ID).Updates(updates).Error; err != nil {
			return err
		}
		if u.Status == domain.StatusActive && status == domain.StatusDeleted {
			if err := tx.Where("phone_number = ?", phone).Delete(&domain.Payment{}).Error; err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// IsNotFound reports whether err means "no such row".
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
