package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
)

const paymentsMatch = "'Payments'[DocNumber]"

func payRow(phone, date, doc string, uah, usd any, accrual string) pbi.Row {
	return pbi.Row{
		"phone":         phone,
		"employee_name": "X",
		"joined_at":     "2025-01-01T00:00:00",
		"doc_date":      date,
		"doc_number":    doc,
		"sum_uah":       uah,
		"sum_usd":       usd,
		"accrual_month": accrual,
	}
}

type paymentFixture struct {
	svc *PaymentService
	dir *fakeDirectory
	n   *fakeNotifier
	db  *gorm.DB
}

func newPaymentFixture(t *testing.T) paymentFixture {
	t.Helper()
	st, db := newTestStore(t)
	dir := &fakeDirectory{}
	n := &fakeNotifier{fail: map[int64]error{}}
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	svc := &PaymentService{Dir: dir, Store: st, Notifier: n, Clock: &fakeClock{t: now}}

	joined := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := st.UpsertUser(context.Background(), "931234567", 77, "x", "X", domain.StatusActive, joined); err != nil {
		t.Fatal(err)
	}
	return paymentFixture{svc: svc, dir: dir, n: n, db: db}
}

func (f paymentFixture) stored(t *testing.T) []domain.Payment {
	t.Helper()
	rows, err := f.svc.Store.PaymentsByPhones(context.Background(), []string{"931234567"})
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestSyncAll_NewPayment_ThenNotifyOnce(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", nil, json.Number("500"), "2025-03"),
	}, nil)

	rep, err := f.svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if rep.Replaced != 1 || rep.Documents != 1 || rep.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	rows := f.stored(t)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := tupleOf(rows[0])
	if got.amount != "500.00" || got.currency != "USD" || got.date != "2025-04-01" || got.accrual != "2025-03" || rows[0].IsNotified {
		t.Fatalf("unexpected stored row: %+v", rows[0])
	}

	q := f.dir.lastQuery()
	if !strings.Contains(q, `"931234567"`) || !strings.Contains(q, `"2025-01-01T00:00:00"`) || !strings.Contains(q, "DATATABLE") {
		t.Fatalf("query should inline the active users table:\n%s", q)
	}

	nrep, err := f.svc.NotifyPending(ctx)
	if err != nil {
		t.Fatalf("NotifyPending: %v", err)
	}
	if nrep.Delivered != 1 || len(f.n.to(77)) != 1 || !strings.Contains(f.n.to(77)[0], "7001") {
		t.Fatalf("expected one message for doc 7001, got %+v / %v", nrep, f.n.sent)
	}
	if !f.stored(t)[0].IsNotified {
		t.Fatalf("flag should be flipped after delivery")
	}

	nrep, _ = f.svc.NotifyPending(ctx)
	if nrep.Pending != 0 || f.n.count() != 1 {
		t.Fatalf("second pass must not resend: %+v", nrep)
	}
}

func TestSyncAll_Correction_ReplacesGroupAndNotifiesNewRows(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", nil, json.Number("500"), "2025-03"),
	}, nil)
	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.NotifyPending(ctx); err != nil {
		t.Fatal(err)
	}

	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", nil, json.Number("200"), "2025-03"),
		payRow("931234567", "2025-04-01T00:00:00", "7001", nil, "300,00", "2025-03"),
	}, nil)
	rep, err := f.svc.SyncAll(ctx)
	if err != nil || rep.Replaced != 1 {
		t.Fatalf("SyncAll correction: %+v %v", rep, err)
	}
	rows := f.stored(t)
	if len(rows) != 2 {
		t.Fatalf("expected the two new rows, got %+v", rows)
	}
	sum := decimal.Zero
	for _, r := range rows {
		if r.IsNotified || r.Currency != domain.CurrencyUSD {
			t.Fatalf("unexpected row: %+v", r)
		}
		sum = sum.Add(r.Amount)
	}
	if sum.StringFixed(2) != "500.00" {
		t.Fatalf("rows should sum to 500, got %s", sum)
	}

	before := f.n.count()
	nrep, _ := f.svc.NotifyPending(ctx)
	if nrep.Delivered != 2 || f.n.count()-before != 2 {
		t.Fatalf("expected notifications only for the two new rows: %+v", nrep)
	}
}

func TestSyncAll_UnchangedUpstream_IsNoOp(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", json.Number("1000.5"), json.Number("0"), " 2025-03 "),
		payRow("931234567", "2025-04-01T00:00:00", "7001", json.Number("1000.5"), json.Number("0"), "2025-03"),
		payRow("931234567", "2025-04-05T00:00:00", "7002", "1234,56", nil, "березень"),
	}, nil)

	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	first := f.stored(t)

	rep, err := f.svc.SyncAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Replaced != 0 {
		t.Fatalf("unchanged upstream must not write: %+v", rep)
	}
	second := f.stored(t)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("unexpected row counts %d/%d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("rows were rewritten")
		}
	}
	var found bool
	for _, r := range second {
		if r.PaymentNumber == "7002" {
			found = true
			if r.Amount.StringFixed(2) != "1234.56" || r.Currency != domain.CurrencyUAH {
				t.Fatalf("comma decimal not parsed: %+v", r)
			}
		}
	}
	if !found {
		t.Fatalf("doc 7002 missing")
	}
}

func TestSyncAll_SkipsMalformedRows(t *testing.T) {
	f := newPaymentFixture(t)
	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "1899-12-30T00:00:00", "7001", json.Number("1"), nil, ""), // no date
		payRow("931234567", "not a date", "7002", json.Number("1"), nil, ""),
		payRow("931234567", "2025-04-01T00:00:00", "", json.Number("1"), nil, ""),
		payRow("931234567", "2025-04-01T00:00:00", "7003", "abc", nil, ""),
		payRow("999999999", "2025-04-01T00:00:00", "7004", json.Number("1"), nil, ""),
		payRow("931234567", "2025-04-01T00:00:00", "7005", json.Number("1"), nil, ""),
	}, nil)

	rep, err := f.svc.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if rep.Skipped != 5 || rep.Replaced != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	rows := f.stored(t)
	if len(rows) != 1 || rows[0].PaymentNumber != "7005" {
		t.Fatalf("only the valid row should be stored: %+v", rows)
	}
}

func TestSyncAll_StaleDocuments_KeptUnlessPruning(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", json.Number("1"), nil, ""),
		payRow("931234567", "2025-04-01T00:00:00", "7002", json.Number("2"), nil, ""),
	}, nil)
	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", json.Number("1"), nil, ""),
	}, nil)
	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	if len(f.stored(t)) != 2 {
		t.Fatalf("stale document should be kept by default")
	}

	f.svc.PruneStale = true
	rep, err := f.svc.SyncAll(ctx)
	if err != nil || rep.Pruned != 1 {
		t.Fatalf("expected one pruned document: %+v %v", rep, err)
	}
	rows := f.stored(t)
	if len(rows) != 1 || rows[0].PaymentNumber != "7001" {
		t.Fatalf("unexpected rows after pruning: %+v", rows)
	}
}

func TestSyncAll_NoActiveUsers_SkipsUpstream(t *testing.T) {
	st, _ := newTestStore(t)
	dir := &fakeDirectory{}
	svc := &PaymentService{Dir: dir, Store: st, Notifier: &fakeNotifier{}, Clock: &fakeClock{t: time.Now()}}
	rep, err := svc.SyncAll(context.Background())
	if err != nil || rep.Users != 0 {
		t.Fatalf("unexpected: %+v %v", rep, err)
	}
	if dir.calls("") != 0 {
		t.Fatalf("no upstream query expected")
	}
}

func TestSyncAll_UpstreamError_NoMutation(t *testing.T) {
	f := newPaymentFixture(t)
	f.dir.on(paymentsMatch, nil, &pbi.UpstreamError{Status: 503, Body: "busy"})
	_, err := f.svc.SyncAll(context.Background())
	var ue *pbi.UpstreamError
	if !errors.As(err, &ue) || ue.Status != 503 {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(f.stored(t)) != 0 {
		t.Fatalf("no rows expected")
	}
}

func TestSyncAll_StoreFailure_IsStoreError(t *testing.T) {
	f := newPaymentFixture(t)
	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", json.Number("1"), nil, ""),
	}, nil)
	if err := f.db.Migrator().DropTable(&domain.Payment{}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.SyncAll(context.Background())
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestNotifyPending_DeliveryFailure_LeavesFlag(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	f.dir.on(paymentsMatch, pbi.Table{
		payRow("931234567", "2025-04-01T00:00:00", "7001", json.Number("1"), nil, ""),
	}, nil)
	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	f.n.fail[77] = errDelivery

	rep, err := f.svc.NotifyPending(ctx)
	if err != nil {
		t.Fatalf("NotifyPending: %v", err)
	}
	if rep.Failed != 1 || f.stored(t)[0].IsNotified {
		t.Fatalf("failed delivery must leave the flag: %+v", rep)
	}

	delete(f.n.fail, 77)
	rep, _ = f.svc.NotifyPending(ctx)
	if rep.Delivered != 1 || !f.stored(t)[0].IsNotified {
		t.Fatalf("retry on next cycle should deliver: %+v", rep)
	}
}
