package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BirthdayService greets active users whose birthday is today in Location.
type BirthdayService struct {
	Dir      Directory
	Store    Store
	Notifier Notifier
	Greeter  Greeter
	Clock    Clock
	Location *time.Location
}

// firstName returns the given name from a "Surname Name Patronymic" string,
// title-cased.
func firstName(employeeName string) string {
	parts := strings.Fields(employeeName)
	name := employeeName
	if len(parts) >= 2 {
		name = parts[1]
	}
	return cases.Title(language.Ukrainian).String(strings.ToLower(name))
}

// FallbackGreeting is sent when the greeting generator fails.
func FallbackGreeting(employeeName string) string {
	return fmt.Sprintf("🎉 %s, вітаємо з днем народження! Бажаємо здоров'я, натхнення та успіхів у всіх справах!",
		html.EscapeString(firstName(employeeName)))
}

// Dispatch sends one greeting to each distinct chat of today's birthday
// employees that are active users.
func (s *BirthdayService) Dispatch(ctx context.Context) (NotifyReport, error) {
	tr := otel.Tracer("services/BirthdayService")
	ctx, span := tr.Start(ctx, "Dispatch")
	defer span.End()

	var rep NotifyReport
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	today := s.Clock.Now().In(loc).Format("01-02")
	span.SetAttributes(attribute.String("month_day", today))

	table, err := s.Dir.Execute(ctx, birthdaysQuery(today))
	if err != nil {
		return rep, err
	}
	active, err := s.Store.ActiveUsers(ctx)
	if err != nil {
		return rep, storeErr("load active users", err)
	}
	byName := chatIDsByName(active)

	lg := loggerFrom(ctx)
	out := outbox{notifier: s.Notifier, store: s.Store}
	seen := map[int64]struct{}{}
	for _, row := range table {
		name := row.String(colEmployee)
		for _, chatID := range byName[name] {
			if _, dup := seen[chatID]; dup {
				continue
			}
			seen[chatID] = struct{}{}
			rep.Pending++

			text := ""
			if s.Greeter != nil {
				g, err := s.Greeter.Greeting(ctx, name)
				if err != nil {
					lg.Warn().Err(err).Msg("greeting generator failed; using template")
				} else if g = strings.TrimSpace(g); g != "" {
					// Messages go out with parse_mode=HTML.
					text = html.EscapeString(g)
				}
			}
			if text == "" {
				text = FallbackGreeting(name)
			}
			if err := out.send(ctx, KindBirthday, chatID, text, map[string]any{"employee_name": name}); err != nil {
				rep.Failed++
				continue
			}
			rep.Delivered++
		}
	}
	return rep, nil
}
