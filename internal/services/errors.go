// Package services implements the synchronization and notification engine:
// identity reconciliation, payment sync, devaluation and bonus-document
// watchers, birthday greetings, monthly reminders and exchange rates.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
package services

import (
	"errors"
	"fmt"
)

// ErrNotInDirectory is returned by Identify when the phone does not belong
// to an active employee of the directory of record.
var ErrNotInDirectory = errors.New("phone not found among active directory employees")

// StoreError wraps a failed local-store operation. The surrounding
// transaction has rolled back and the current job run aborts.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
