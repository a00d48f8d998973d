package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// Notification kinds, used as bot_logs.kind and as a metric label.
const (
	KindPayment     = "payment"
	KindDevaluation = "devaluation"
	KindBonusDoc    = "bonus_doc"
	KindBirthday    = "birthday"
	KindReminder    = "reminder"
)

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Outbound notification attempts by kind and result.",
	},
	[]string{"kind", "result"},
)

var syncRowsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sync_rows_total",
		Help: "Rows processed by synchronization jobs by job and action.",
	},
	[]string{"job", "action"},
)

func init() {
	prometheus.MustRegister(notificationsTotal, syncRowsTotal)
}

// loggerFrom returns the job logger carried by ctx, or the global logger.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// outbox sends a message and records the attempt in bot_logs. A failure to
// write the audit row never changes the delivery result.
type outbox struct {
	notifier Notifier
	store    Store
}

func (o outbox) send(ctx context.Context, kind string, chatID int64, text string, meta map[string]any) error {
	err := o.notifier.Send(ctx, chatID, text)

	entry := &domain.BotLog{
		TelegramID: chatID,
		Kind:       kind,
		Text:       text,
		Delivered:  err == nil,
		Meta:       meta,
	}
	result := "delivered"
	if err != nil {
		entry.Error = err.Error()
		result = "failed"
		loggerFrom(ctx).Warn().Err(err).Str("kind", kind).Int64("chat_id", chatID).Msg("delivery failed")
	}
	notificationsTotal.WithLabelValues(kind, result).Inc()

	if lerr := o.store.AppendBotLog(ctx, entry); lerr != nil {
		loggerFrom(ctx).Warn().Err(lerr).Str("kind", kind).Msg("bot log append failed")
	}
	return err
}
