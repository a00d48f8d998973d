// Package services – PaymentService
//
// This file implements the payment synchronizer. One upstream query returns
// the payment facts of every active user; rows are grouped per (phone,
// document) into sorted tuple multisets and compared with the local store,
// and only documents whose multiset differs are replaced. A separate pass
// notifies owners of unnotified rows.
package services

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
	"github.com/tbourn/go-staff-assistant/internal/repo"
)

// PaymentReport summarizes one sync cycle.
type PaymentReport struct {
	Users        int
	UpstreamRows int
	Skipped      int // malformed upstream rows
	Documents    int // distinct (phone, document) keys seen upstream
	Replaced     int
	Pruned       int
}

// NotifyReport summarizes one notification pass.
type NotifyReport struct {
	Pending   int
	Delivered int
	Failed    int
}

// PaymentService synchronizes and notifies payments.
type PaymentService struct {
	Dir      Directory
	Store    Store
	Notifier Notifier
	Clock    Clock

	// PruneStale replaces documents that vanished upstream with the empty set.
	PruneStale bool
}

type docKey struct {
	phone  string
	number string
}

// paymentTuple is the comparable identity of one payment row.
type paymentTuple struct {
	amount   string // two decimals
	currency string
	date     string // YYYY-MM-DD
	accrual  string // trimmed raw text
}

func (t paymentTuple) String() string {
	return t.amount + "|" + t.currency + "|" + t.date + "|" + t.accrual
}

func tupleOf(p domain.Payment) paymentTuple {
	return paymentTuple{
		amount:   p.Amount.StringFixed(2),
		currency: p.Currency,
		date:     p.PaymentDate.UTC().Format(time.DateOnly),
		accrual:  strings.TrimSpace(p.AccrualMonth),
	}
}

// multiset is a sorted list of tuple keys; equal multisets compare equal.
type multiset []string

func toMultiset(rows []domain.Payment) multiset {
	m := make(multiset, len(rows))
	for i, r := range rows {
		m[i] = tupleOf(r).String()
	}
	sort.Strings(m)
	return m
}

func (m multiset) equal(o multiset) bool {
	if len(m) != len(o) {
		return false
	}
	for i := range m {
		if m[i] != o[i] {
			return false
		}
	}
	return true
}

// paymentFromRow converts one upstream row. The currency is USD when the USD
// sum is non-zero, otherwise UAH with the UAH sum.
func paymentFromRow(row pbi.Row) (phone string, p domain.Payment, err error) {
	phone = row.String(colPhone)
	p.PaymentNumber = row.String(colDocNumber)
	if phone == "" {
		return "", p, &pbi.DataError{Column: colPhone, Reason: "missing"}
	}
	if p.PaymentNumber == "" {
		return "", p, &pbi.DataError{Column: colDocNumber, Reason: "missing"}
	}

	date, ok, err := row.Date(colDocDate)
	if err != nil {
		return "", p, err
	}
	if !ok {
		return "", p, &pbi.DataError{Column: colDocDate, Value: row[colDocDate], Reason: "no date"}
	}
	y, mo, d := date.Date()
	p.PaymentDate = time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)

	usd, usdOK, err := row.Number(colSumUSD)
	if err != nil {
		return "", p, err
	}
	uah, uahOK, err := row.Number(colSumUAH)
	if err != nil {
		return "", p, err
	}
	switch {
	case usdOK && !usd.IsZero():
		p.Amount, p.Currency = usd, domain.CurrencyUSD
	case uahOK:
		p.Amount, p.Currency = uah, domain.CurrencyUAH
	case usdOK:
		p.Amount, p.Currency = decimal.Zero, domain.CurrencyUAH
	default:
		return "", p, &pbi.DataError{Column: colSumUAH, Reason: "no amount"}
	}
	p.Amount = p.Amount.Round(2)
	p.AccrualMonth = strings.TrimSpace(row.String(colAccrualMonth))
	p.PhoneNumber = phone
	return phone, p, nil
}

// SyncAll reconciles the payments of every active user against the BI
// dataset with a single upstream query and a single local read.
func (s *PaymentService) SyncAll(ctx context.Context) (PaymentReport, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "SyncAll")
	defer span.End()

	var rep PaymentReport
	users, err := s.Store.ActiveUsers(ctx)
	if err != nil {
		return rep, storeErr("load active users", err)
	}
	rep.Users = len(users)
	if len(users) == 0 {
		return rep, nil
	}

	phones := make([]string, len(users))
	synced := make(map[string]struct{}, len(users))
	for i, u := range users {
		phones[i] = u.PhoneNumber
		synced[u.PhoneNumber] = struct{}{}
	}

	table, err := s.Dir.Execute(ctx, paymentsQuery(users))
	if err != nil {
		return rep, err
	}
	rep.UpstreamRows = len(table)

	lg := loggerFrom(ctx)
	upstream := make(map[docKey][]domain.Payment)
	for _, row := range table {
		phone, p, err := paymentFromRow(row)
		if err != nil {
			rep.Skipped++
			lg.Warn().Err(err).Msg("skipping payment row")
			continue
		}
		if _, ok := synced[phone]; !ok {
			rep.Skipped++
			lg.Warn().Str("phone", phone).Msg("skipping payment row for unknown phone")
			continue
		}
		k := docKey{phone: phone, number: p.PaymentNumber}
		upstream[k] = append(upstream[k], p)
	}
	rep.Documents = len(upstream)

	stored, err := s.Store.PaymentsByPhones(ctx, phones)
	if err != nil {
		return rep, storeErr("load payments", err)
	}
	local := make(map[docKey][]domain.Payment)
	for _, p := range stored {
		k := docKey{phone: p.PhoneNumber, number: p.PaymentNumber}
		local[k] = append(local[k], p)
	}

	// Deterministic write order.
	keys := make([]docKey, 0, len(upstream))
	for k := range upstream {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].phone != keys[j].phone {
			return keys[i].phone < keys[j].phone
		}
		return keys[i].number < keys[j].number
	})

	for _, k := range keys {
		rows := upstream[k]
		if toMultiset(rows).equal(toMultiset(local[k])) {
			continue
		}
		if err := s.Store.ReplacePayments(ctx, k.phone, k.number, rows); err != nil {
			return rep, storeErr(fmt.Sprintf("replace payments %s/%s", k.phone, k.number), err)
		}
		rep.Replaced++
	}

	if s.PruneStale {
		for k := range local {
			if _, ok := upstream[k]; ok {
				continue
			}
			if err := s.Store.ReplacePayments(ctx, k.phone, k.number, nil); err != nil {
				return rep, storeErr(fmt.Sprintf("prune payments %s/%s", k.phone, k.number), err)
			}
			rep.Pruned++
		}
	}

	span.SetAttributes(
		attribute.Int("users", rep.Users),
		attribute.Int("upstream.rows", rep.UpstreamRows),
		attribute.Int("replaced", rep.Replaced),
	)
	syncRowsTotal.WithLabelValues("payments", "replaced").Add(float64(rep.Replaced))
	syncRowsTotal.WithLabelValues("payments", "skipped").Add(float64(rep.Skipped))
	syncRowsTotal.WithLabelValues("payments", "pruned").Add(float64(rep.Pruned))
	return rep, nil
}

// NotifyPending sends one message per unnotified payment and flips the flag
// only after a successful delivery.
func (s *PaymentService) NotifyPending(ctx context.Context) (NotifyReport, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "NotifyPending")
	defer span.End()

	var rep NotifyReport
	pending, err := s.Store.PendingPayments(ctx)
	if err != nil {
		return rep, storeErr("load pending payments", err)
	}
	rep.Pending = len(pending)

	out := outbox{notifier: s.Notifier, store: s.Store}
	for _, p := range pending {
		meta := map[string]any{"payment_id": p.ID, "payment_number": p.PaymentNumber}
		if err := out.send(ctx, KindPayment, p.TelegramID, paymentMessage(p), meta); err != nil {
			rep.Failed++
			continue
		}
		if _, err := s.Store.MarkPaymentNotified(ctx, p.ID); err != nil {
			return rep, storeErr("mark payment notified", err)
		}
		rep.Delivered++
	}
	return rep, nil
}

func paymentMessage(p repo.PendingPayment) string {
	var b strings.Builder
	b.WriteString("💰 <b>Нова виплата</b>\n")
	fmt.Fprintf(&b, "Документ: %s\n", html.EscapeString(p.PaymentNumber))
	fmt.Fprintf(&b, "Сума: %s %s\n", p.Amount.StringFixed(2), p.Currency)
	fmt.Fprintf(&b, "Дата: %s", p.PaymentDate.UTC().Format("02.01.2006"))
	if p.AccrualMonth != "" {
		fmt.Fprintf(&b, "\nПеріод нарахування: %s", html.EscapeString(p.AccrualMonth))
	}
	return b.String()
}
