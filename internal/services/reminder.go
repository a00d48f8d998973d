package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ReminderService broadcasts the monthly reminder on the first workday of
// each month.
type ReminderService struct {
	Store    Store
	Notifier Notifier
	Calendar Workdays
	Clock    Clock
	Location *time.Location
	Text     string
}

// Run sends Text to every active user when today is the first workday of
// the month in Location and does nothing otherwise. due reports which case
// applied.
func (s *ReminderService) Run(ctx context.Context) (rep NotifyReport, due bool, err error) {
	tr := otel.Tracer("services/ReminderService")
	ctx, span := tr.Start(ctx, "Run")
	defer span.End()

	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	now := s.Clock.Now().In(loc)
	if !s.Calendar.IsFirstWorkdayOfMonth(now) {
		return rep, false, nil
	}
	span.SetAttributes(attribute.Bool("due", true))

	active, err := s.Store.ActiveUsers(ctx)
	if err != nil {
		return rep, true, storeErr("load active users", err)
	}
	out := outbox{notifier: s.Notifier, store: s.Store}
	seen := map[int64]struct{}{}
	for _, u := range active {
		if u.TelegramID == 0 {
			continue
		}
		if _, dup := seen[u.TelegramID]; dup {
			continue
		}
		seen[u.TelegramID] = struct{}{}
		rep.Pending++
		meta := map[string]any{"month": now.Format("2006-01")}
		if err := out.send(ctx, KindReminder, u.TelegramID, s.Text, meta); err != nil {
			rep.Failed++
			continue
		}
		rep.Delivered++
	}
	return rep, true, nil
}
