package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
)

// ImportReport summarizes one import cycle.
type ImportReport struct {
	UpstreamRows int
	Skipped      int
	Inserted     int
}

// DevaluationService imports devaluation analysis rows and alerts admins
// and the responsible manager. Each row is notified at most once.
type DevaluationService struct {
	Dir      Directory
	Store    Store
	Notifier Notifier

	AdminChatIDs []int64
}

func devaluationFromRow(row pbi.Row) (*domain.DevaluationRecord, error) {
	rec := &domain.DevaluationRecord{
		Client:        row.String("client"),
		PaymentNumber: row.String("payment_number"),
		Contract:      row.String("contract"),
		Manager:       row.String("manager"),
	}
	if rec.PaymentNumber == "" {
		return nil, &pbi.DataError{Column: "payment_number", Reason: "missing"}
	}
	for col, dst := range map[string]**time.Time{
		"contract_date": &rec.ContractDate,
		"payment_date":  &rec.PaymentDate,
	} {
		t, ok, err := row.Date(col)
		if err != nil {
			return nil, err
		}
		if ok {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			*dst = &d
		}
	}
	for col, dst := range map[string]*decimal.NullDecimal{
		"contract_rate":       &rec.ContractRate,
		"payment_rate":        &rec.PaymentRate,
		"devaluation_percent": &rec.DevaluationPercent,
		"contract_sum":        &rec.ContractSum,
		"payment_sum":         &rec.PaymentSum,
		"compensation":        &rec.Compensation,
	} {
		d, ok, err := row.Number(col)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = decimal.NewNullDecimal(d)
		}
	}
	return rec, nil
}

// Import projects the upstream devaluation table and inserts rows whose
// payment number is not yet stored. Existing rows are never updated.
func (s *DevaluationService) Import(ctx context.Context) (ImportReport, error) {
	tr := otel.Tracer("services/DevaluationService")
	ctx, span := tr.Start(ctx, "Import")
	defer span.End()

	var rep ImportReport
	table, err := s.Dir.Execute(ctx, devaluationQuery)
	if err != nil {
		return rep, err
	}
	rep.UpstreamRows = len(table)

	lg := loggerFrom(ctx)
	for _, row := range table {
		rec, err := devaluationFromRow(row)
		if err != nil {
			rep.Skipped++
			lg.Warn().Err(err).Msg("skipping devaluation row")
			continue
		}
		inserted, err := s.Store.InsertDevaluationIfAbsent(ctx, rec)
		if err != nil {
			return rep, storeErr("insert devaluation", err)
		}
		if inserted {
			rep.Inserted++
		}
	}
	span.SetAttributes(attribute.Int("inserted", rep.Inserted))
	syncRowsTotal.WithLabelValues("devaluation", "inserted").Add(float64(rep.Inserted))
	return rep, nil
}

// Notify alerts the admin chats and the row's manager about every pending
// row. The flag is flipped once every recipient has been attempted, whether
// or not the sends succeeded.
func (s *DevaluationService) Notify(ctx context.Context) (NotifyReport, error) {
	tr := otel.Tracer("services/DevaluationService")
	ctx, span := tr.Start(ctx, "Notify")
	defer span.End()

	var rep NotifyReport
	pending, err := s.Store.PendingDevaluations(ctx)
	if err != nil {
		return rep, storeErr("load pending devaluations", err)
	}
	rep.Pending = len(pending)
	if len(pending) == 0 {
		return rep, nil
	}

	active, err := s.Store.ActiveUsers(ctx)
	if err != nil {
		return rep, storeErr("load active users", err)
	}
	managers := chatIDsByName(active)

	out := outbox{notifier: s.Notifier, store: s.Store}
	for _, rec := range pending {
		recipients := uniqueChatIDs(s.AdminChatIDs, managers[rec.Manager])
		text := devaluationMessage(rec)
		meta := map[string]any{"devaluation_id": rec.ID, "payment_number": rec.PaymentNumber}
		for _, chatID := range recipients {
			if err := out.send(ctx, KindDevaluation, chatID, text, meta); err != nil {
				rep.Failed++
			} else {
				rep.Delivered++
			}
		}
		if _, err := s.Store.MarkDevaluationNotified(ctx, rec.ID); err != nil {
			return rep, storeErr("mark devaluation notified", err)
		}
	}
	return rep, nil
}

// chatIDsByName maps employee names to the chat ids of active users.
func chatIDsByName(users []domain.User) map[string][]int64 {
	out := make(map[string][]int64)
	for _, u := range users {
		if u.IsActive() && u.TelegramID != 0 && u.EmployeeName != "" {
			out[u.EmployeeName] = append(out[u.EmployeeName], u.TelegramID)
		}
	}
	return out
}

func uniqueChatIDs(lists ...[]int64) []int64 {
	seen := map[int64]struct{}{}
	var out []int64
	for _, l := range lists {
		for _, id := range l {
			if id == 0 {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func fmtDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "—"
	}
	return d.Decimal.StringFixed(places)
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return "—"
	}
	return t.Format("02.01.2006")
}

func devaluationMessage(r domain.DevaluationRecord) string {
	var b strings.Builder
	b.WriteString("📉 <b>Девальвація за оплатою</b>\n")
	fmt.Fprintf(&b, "Клієнт: %s\n", html.EscapeString(r.Client))
	fmt.Fprintf(&b, "Оплата: %s від %s\n", html.EscapeString(r.PaymentNumber), fmtDate(r.PaymentDate))
	fmt.Fprintf(&b, "Договір: %s від %s\n", html.EscapeString(r.Contract), fmtDate(r.ContractDate))
	fmt.Fprintf(&b, "Курс договору / оплати: %s / %s\n", fmtDecimal(r.ContractRate, 4), fmtDecimal(r.PaymentRate, 4))
	fmt.Fprintf(&b, "Девальвація: %s%%\n", fmtDecimal(r.DevaluationPercent, 2))
	fmt.Fprintf(&b, "Сума договору / оплати: %s / %s\n", fmtDecimal(r.ContractSum, 2), fmtDecimal(r.PaymentSum, 2))
	fmt.Fprintf(&b, "Компенсація: <b>%s</b>", fmtDecimal(r.Compensation, 2))
	if r.Manager != "" {
		fmt.Fprintf(&b, "\nМенеджер: %s", html.EscapeString(r.Manager))
	}
	return b.String()
}
