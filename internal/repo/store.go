package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// Store binds the repository functions to one database handle so services
// can depend on a method set instead of *gorm.DB.
type Store struct {
	DB *gorm.DB
}

// NewStore returns a Store over db.
func NewStore(db *gorm.DB) *Store { return &Store{DB: db} }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) UpsertUser(ctx context.Context, phone string, telegramID int64, telegramName, employeeName, status string, now time.Time) (*domain.User, error) {
	return UpsertUser(ctx, s.DB, phone, telegramID, telegramName, employeeName, status, now)
}

func (s *Store) UserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return UserByPhone(ctx, s.DB, phone)
}

func (s *Store) AllUsers(ctx context.Context) ([]domain.User, error) { return AllUsers(ctx, s.DB) }

func (s *Store) ActiveUsers(ctx context.Context) ([]domain.User, error) {
	return ActiveUsers(ctx, s.DB)
}

func (s *Store) UsersByEmployeeName(ctx context.Context) (map[string][]domain.User, error) {
	return UsersByEmployeeName(ctx, s.DB)
}

func (s *Store) ApplyUserStatus(ctx context.Context, phone, employeeName, status string, now time.Time) (bool, error) {
	return ApplyUserStatus(ctx, s.DB, phone, employeeName, status, now)
}

func (s *Store) ReplacePayments(ctx context.Context, phone, paymentNumber string, rows []domain.Payment) error {
	return ReplacePayments(ctx, s.DB, phone, paymentNumber, rows)
}

func (s *Store) PaymentsByPhones(ctx context.Context, phones []string) ([]domain.Payment, error) {
	return PaymentsByPhones(ctx, s.DB, phones)
}

func (s *Store) PendingPayments(ctx context.Context) ([]PendingPayment, error) {
	return PendingPayments(ctx, s.DB)
}

func (s *Store) MarkPaymentNotified(ctx context.Context, id uint) (bool, error) {
	return MarkPaymentNotified(ctx, s.DB, id)
}

func (s *Store) InsertDevaluationIfAbsent(ctx context.Context, rec *domain.DevaluationRecord) (bool, error) {
	return InsertDevaluationIfAbsent(ctx, s.DB, rec)
}

func (s *Store) PendingDevaluations(ctx context.Context) ([]domain.DevaluationRecord, error) {
	return PendingDevaluations(ctx, s.DB)
}

func (s *Store) MarkDevaluationNotified(ctx context.Context, id uint) (bool, error) {
	return MarkDevaluationNotified(ctx, s.DB, id)
}

func (s *Store) BonusDocNumbers(ctx context.Context) (map[string]struct{}, error) {
	return BonusDocNumbers(ctx, s.DB)
}

func (s *Store) InsertBonusDocsIfAbsent(ctx context.Context, docs []domain.BonusDoc, now time.Time) (int64, error) {
	return InsertBonusDocsIfAbsent(ctx, s.DB, docs, now)
}

func (s *Store) PendingBonusDocs(ctx context.Context) ([]domain.BonusDoc, error) {
	return PendingBonusDocs(ctx, s.DB)
}

func (s *Store) MarkBonusDocsNotified(ctx context.Context, docNumbers []string) (int64, error) {
	return MarkBonusDocsNotified(ctx, s.DB, docNumbers)
}

func (s *Store) AppendExchangeRate(ctx context.Context, r *domain.ExchangeRate) error {
	return AppendExchangeRate(ctx, s.DB, r)
}

func (s *Store) LatestExchangeRate(ctx context.Context, currency string) (*domain.ExchangeRate, error) {
	return LatestExchangeRate(ctx, s.DB, currency)
}

func (s *Store) AppendBotLog(ctx context.Context, l *domain.BotLog) error {
	return AppendBotLog(ctx, s.DB, l)
}

func (s *Store) AppendGPTQueryLog(ctx context.Context, l *domain.GPTQueryLog) error {
	return AppendGPTQueryLog(ctx, s.DB, l)
}

func (s *Store) RecordJobRun(ctx context.Context, run *domain.JobRun) error {
	return RecordJobRun(ctx, s.DB, run)
}

func (s *Store) CountJobRuns(ctx context.Context, job string) (int64, error) {
	return CountJobRuns(ctx, s.DB, job)
}

func (s *Store) ListJobRunsPage(ctx context.Context, job string, offset, limit int) ([]domain.JobRun, error) {
	return ListJobRunsPage(ctx, s.DB, job, offset, limit)
}

func (s *Store) JobRunsStats(ctx context.Context, job string) (int64, *time.Time, error) {
	return JobRunsStats(ctx, s.DB, job)
}
