package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
	"github.com/tbourn/go-staff-assistant/internal/repo"
)

// Directory runs a query against the BI dataset. *pbi.Client implements it.
type Directory interface {
	Execute(ctx context.Context, query string) (pbi.Table, error)
}

// Notifier delivers one text message to one chat. *notify.Telegram
// implements it.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Greeter produces a birthday greeting for an employee.
type Greeter interface {
	Greeting(ctx context.Context, employeeName string) (string, error)
}

// RateSource returns the official UAH per USD rate.
type RateSource interface {
	USDRate(ctx context.Context) (rate decimal.Decimal, date time.Time, err error)
}

// Workdays answers calendar questions for date-gated jobs.
type Workdays interface {
	IsFirstWorkdayOfMonth(t time.Time) bool
}

// Clock is the time source.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Store is the local-store capability set used by the services. *repo.Store
// implements it.
type Store interface {
	UpsertUser(ctx context.Context, phone string, telegramID int64, telegramName, employeeName, status string, now time.Time) (*domain.User, error)
	UserByPhone(ctx context.Context, phone string) (*domain.User, error)
	AllUsers(ctx context.Context) ([]domain.User, error)
	ActiveUsers(ctx context.Context) ([]domain.User, error)
	UsersByEmployeeName(ctx context.Context) (map[string][]domain.User, error)
	ApplyUserStatus(ctx context.Context, phone, employeeName, status string, now time.Time) (bool, error)

	ReplacePayments(ctx context.Context, phone, paymentNumber string, rows []domain.Payment) error
	PaymentsByPhones(ctx context.Context, phones []string) ([]domain.Payment, error)
	PendingPayments(ctx context.Context) ([]repo.PendingPayment, error)
	MarkPaymentNotified(ctx context.Context, id uint) (bool, error)

	InsertDevaluationIfAbsent(ctx context.Context, rec *domain.DevaluationRecord) (bool, error)
	PendingDevaluations(ctx context.Context) ([]domain.DevaluationRecord, error)
	MarkDevaluationNotified(ctx context.Context, id uint) (bool, error)

	BonusDocNumbers(ctx context.Context) (map[string]struct{}, error)
	InsertBonusDocsIfAbsent(ctx context.Context, docs []domain.BonusDoc, now time.Time) (int64, error)
	PendingBonusDocs(ctx context.Context) ([]domain.BonusDoc, error)
	MarkBonusDocsNotified(ctx context.Context, docNumbers []string) (int64, error)

	AppendExchangeRate(ctx context.Context, r *domain.ExchangeRate) error
	AppendBotLog(ctx context.Context, l *domain.BotLog) error
}

var _ Store = (*repo.Store)(nil)
