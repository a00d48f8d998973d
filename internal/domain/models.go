// Package domain defines the persistence models for the staff assistant:
// users identified against the employee directory, payment facts mirrored
// from the BI dataset, devaluation analysis rows, bonus documents, exchange
// rates, and append-only audit logs. These types are mapped with GORM and
// form the core data layer of the synchronization engine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// User statuses. Only the identity reconciler moves a user between them.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Payment currencies.
const (
	CurrencyUAH = "UAH"
	CurrencyUSD = "USD"
)

// User is a chat user bound to an employee of the directory of record.
//
// Fields:
//   - PhoneNumber: normalized nine-digit phone tail; unique.
//   - TelegramID: chat id used for outbound notifications.
//   - EmployeeName: directory name; may change over time.
//   - JoinedAt: first identification, reset on re-activation. Payments
//     dated before it are never synchronized.
//   - Status: "active" or "deleted".
type User struct {
	ID           uint      `json:"id"            gorm:"primaryKey"`
	PhoneNumber  string    `json:"phone_number"  gorm:"type:varchar(32);not null;uniqueIndex:ux_users_phone"`
	TelegramID   int64     `json:"telegram_id"   gorm:"not null;default:0;index"`
	TelegramName string    `json:"telegram_name" gorm:"type:varchar(255);not null;default:''"`
	EmployeeName string    `json:"employee_name" gorm:"type:varchar(255);not null;default:'';index:idx_users_employee"`
	JoinedAt     time.Time `json:"joined_at"     gorm:"not null"`
	Status       string    `json:"status"        gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','deleted')"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsActive reports whether the user currently receives notifications.
func (u User) IsActive() bool { return u.Status == StatusActive }

// Payment is one salary, bonus or prize row. Several rows may share a
// PaymentNumber (split payments); the group for a (phone, payment number)
// pair is always replaced as a whole.
type Payment struct {
	ID            uint            `json:"id"             gorm:"primaryKey"`
	PhoneNumber   string          `json:"phone_number"   gorm:"type:varchar(32);not null;index:idx_payments_phone_doc,priority:1"`
	Amount        decimal.Decimal `json:"amount"         gorm:"type:numeric(14,2);not null"`
	Currency      string          `json:"currency"       gorm:"type:varchar(3);not null;check:currency IN ('UAH','USD')"`
	PaymentDate   time.Time       `json:"payment_date"   gorm:"type:date;not null"`
	PaymentNumber string          `json:"payment_number" gorm:"type:varchar(64);not null;index:idx_payments_phone_doc,priority:2"`
	AccrualMonth  string          `json:"accrual_month"  gorm:"type:varchar(64);not null;default:''"`
	IsNotified    bool            `json:"is_notified"    gorm:"not null;default:false;index"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// DevaluationRecord is one row of the devaluation analysis. It is inserted
// once and never changed apart from the notified flag.
type DevaluationRecord struct {
	ID                 uint                `json:"id"                  gorm:"primaryKey"`
	Client             string              `json:"client"              gorm:"type:varchar(255);not null;default:''"`
	PaymentNumber      string              `json:"payment_number"      gorm:"type:varchar(64);not null;uniqueIndex:ux_devaluation_payment"`
	Contract           string              `json:"contract"            gorm:"type:varchar(255);not null;default:''"`
	ContractDate       *time.Time          `json:"contract_date"       gorm:"type:date"`
	PaymentDate        *time.Time          `json:"payment_date"        gorm:"type:date"`
	ContractRate       decimal.NullDecimal `json:"contract_rate"       gorm:"type:numeric(14,4)"`
	PaymentRate        decimal.NullDecimal `json:"payment_rate"        gorm:"type:numeric(14,4)"`
	DevaluationPercent decimal.NullDecimal `json:"devaluation_percent" gorm:"type:numeric(10,4)"`
	ContractSum        decimal.NullDecimal `json:"contract_sum"        gorm:"type:numeric(16,2)"`
	PaymentSum         decimal.NullDecimal `json:"payment_sum"         gorm:"type:numeric(16,2)"`
	Compensation       decimal.NullDecimal `json:"compensation"        gorm:"type:numeric(16,2)"`
	Manager            string              `json:"manager"             gorm:"type:varchar(255);not null;default:''"`
	IsNotified         bool                `json:"is_notified"         gorm:"not null;default:false;index"`
	CreatedAt          time.Time           `json:"created_at"`
}

// TableName returns the database table name for DevaluationRecord.
func (DevaluationRecord) TableName() string { return "devaluation_analysis" }

// BonusDoc tracks a bonus payout document. DocNumber is globally unique;
// a later observation with a different period never rewrites Period.
type BonusDoc struct {
	DocNumber  string    `json:"doc_number"  gorm:"type:varchar(64);primaryKey;uniqueIndex:ux_bonus_docs_doc_number"`
	Period     string    `json:"period"      gorm:"type:varchar(16);primaryKey"`
	IsNotified bool      `json:"is_notified" gorm:"not null;default:false;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for BonusDoc.
func (BonusDoc) TableName() string { return "bonus_docs" }

// ExchangeRate is an append-only observation of an official rate.
type ExchangeRate struct {
	ID        uint            `json:"id"        gorm:"primaryKey"`
	Timestamp time.Time       `json:"timestamp" gorm:"not null;index"`
	Currency  string          `json:"currency"  gorm:"type:varchar(3);not null"`
	Rate      decimal.Decimal `json:"rate"      gorm:"type:numeric(14,6);not null"`
}

// TableName returns the database table name for ExchangeRate.
func (ExchangeRate) TableName() string { return "exchange_rates" }

// BotLog records every outbound notification attempt.
type BotLog struct {
	ID         uint              `json:"id"          gorm:"primaryKey"`
	TelegramID int64             `json:"telegram_id" gorm:"not null;index"`
	Kind       string            `json:"kind"        gorm:"type:varchar(32);not null"`
	Text       string            `json:"text"        gorm:"type:text;not null"`
	Delivered  bool              `json:"delivered"   gorm:"not null"`
	Error      string            `json:"error"       gorm:"type:text;not null;default:''"`
	Meta       datatypes.JSONMap `json:"meta"`
	CreatedAt  time.Time         `json:"created_at"  gorm:"index"`
}

// TableName returns the database table name for BotLog.
func (BotLog) TableName() string { return "bot_logs" }

// GPTQueryLog records every call to the language model provider.
type GPTQueryLog struct {
	ID         uint      `json:"id"          gorm:"primaryKey"`
	Model      string    `json:"model"       gorm:"type:varchar(64);not null"`
	Prompt     string    `json:"prompt"      gorm:"type:text;not null"`
	Response   string    `json:"response"    gorm:"type:text;not null;default:''"`
	Error      string    `json:"error"       gorm:"type:text;not null;default:''"`
	DurationMS int64     `json:"duration_ms" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for GPTQueryLog.
func (GPTQueryLog) TableName() string { return "gpt_queries_logs" }

// Job run outcomes as observed by the scheduler.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// JobRun is the operational record of one scheduled (or manual) job run.
type JobRun struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Job        string    `json:"job"         gorm:"type:varchar(64);not null;index:idx_job_runs_job_started,priority:1"`
	Outcome    string    `json:"outcome"     gorm:"type:varchar(16);not null;check:outcome IN ('completed','skipped','failed')"`
	StartedAt  time.Time `json:"started_at"  gorm:"not null;index:idx_job_runs_job_started,priority:2"`
	DurationMS int64     `json:"duration_ms" gorm:"not null"`
	Error      string    `json:"error,omitempty" gorm:"type:text;not null;default:''"`
}

// TableName returns the database table name for JobRun.
func (JobRun) TableName() string { return "job_runs" }
