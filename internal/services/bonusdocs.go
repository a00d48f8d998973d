package services

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
)

// BonusDocService keeps the catalog of bonus payout documents and tells the
// employees listed on each new document.
type BonusDocService struct {
	Dir      Directory
	Store    Store
	Notifier Notifier
	Clock    Clock
}

// normalizePeriod renders date-like periods as YYYY-MM-DD, maps blanks and
// the no-date sentinel to "" and keeps any other text as delivered.
func normalizePeriod(row pbi.Row) string {
	t, ok, err := row.Date(colPeriod)
	switch {
	case err != nil:
		return row.String(colPeriod)
	case ok:
		return t.Format(time.DateOnly)
	default:
		return ""
	}
}

// Sync inserts documents not seen before. A document already known under a
// different period is left untouched.
func (s *BonusDocService) Sync(ctx context.Context) (ImportReport, error) {
	tr := otel.Tracer("services/BonusDocService")
	ctx, span := tr.Start(ctx, "Sync")
	defer span.End()

	var rep ImportReport
	table, err := s.Dir.Execute(ctx, bonusDocsQuery)
	if err != nil {
		return rep, err
	}
	rep.UpstreamRows = len(table)

	known, err := s.Store.BonusDocNumbers(ctx)
	if err != nil {
		return rep, storeErr("load bonus doc numbers", err)
	}

	lg := loggerFrom(ctx)
	var fresh []domain.BonusDoc
	for _, row := range table {
		num := row.String(colDocNumber)
		if num == "" {
			rep.Skipped++
			lg.Warn().Err(&pbi.DataError{Column: colDocNumber, Reason: "missing"}).Msg("skipping bonus doc row")
			continue
		}
		if _, ok := known[num]; ok {
			continue
		}
		known[num] = struct{}{}
		fresh = append(fresh, domain.BonusDoc{DocNumber: num, Period: normalizePeriod(row)})
	}

	n, err := s.Store.InsertBonusDocsIfAbsent(ctx, fresh, s.Clock.Now())
	if err != nil {
		return rep, storeErr("insert bonus docs", err)
	}
	rep.Inserted = int(n)
	span.SetAttributes(attribute.Int("inserted", rep.Inserted))
	syncRowsTotal.WithLabelValues("bonus_docs", "inserted").Add(float64(n))
	return rep, nil
}

// Notify resolves the employees of every pending document, messages each
// distinct active chat once, and flips the documents that reached at least
// one recipient in a single update. Documents with no successful send stay
// pending for the next cycle.
func (s *BonusDocService) Notify(ctx context.Context) (NotifyReport, error) {
	tr := otel.Tracer("services/BonusDocService")
	ctx, span := tr.Start(ctx, "Notify")
	defer span.End()

	var rep NotifyReport
	pending, err := s.Store.PendingBonusDocs(ctx)
	if err != nil {
		return rep, storeErr("load pending bonus docs", err)
	}
	rep.Pending = len(pending)
	if len(pending) == 0 {
		return rep, nil
	}

	active, err := s.Store.ActiveUsers(ctx)
	if err != nil {
		return rep, storeErr("load active users", err)
	}
	byName := chatIDsByName(active)

	var toMark []string
	flush := func() error {
		if len(toMark) == 0 {
			return nil
		}
		if _, err := s.Store.MarkBonusDocsNotified(ctx, toMark); err != nil {
			return storeErr("mark bonus docs notified", err)
		}
		return nil
	}

	out := outbox{notifier: s.Notifier, store: s.Store}
	lg := loggerFrom(ctx)
	for _, doc := range pending {
		table, err := s.Dir.Execute(ctx, bonusDocEmployeesQuery(doc.DocNumber))
		if err != nil {
			// Docs delivered earlier in this cycle are flipped before aborting.
			if ferr := flush(); ferr != nil {
				lg.Error().Err(ferr).Msg("flushing notified bonus docs")
			}
			return rep, err
		}

		seen := map[int64]struct{}{}
		delivered := false
		text := bonusDocMessage(doc)
		for _, row := range table {
			for _, chatID := range byName[row.String(colEmployee)] {
				if _, dup := seen[chatID]; dup {
					continue
				}
				seen[chatID] = struct{}{}
				meta := map[string]any{"doc_number": doc.DocNumber}
				if err := out.send(ctx, KindBonusDoc, chatID, text, meta); err != nil {
					rep.Failed++
					continue
				}
				rep.Delivered++
				delivered = true
			}
		}
		if delivered {
			toMark = append(toMark, doc.DocNumber)
		}
	}
	if err := flush(); err != nil {
		return rep, err
	}
	span.SetAttributes(attribute.Int("marked", len(toMark)))
	return rep, nil
}

func bonusDocMessage(d domain.BonusDoc) string {
	if d.Period == "" {
		return fmt.Sprintf("📄 <b>Бонусна виплата</b>\nСформовано документ %s.", html.EscapeString(d.DocNumber))
	}
	return fmt.Sprintf("📄 <b>Бонусна виплата</b>\nСформовано документ %s за період %s.",
		html.EscapeString(d.DocNumber), html.EscapeString(d.Period))
}
