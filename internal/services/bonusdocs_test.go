package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
)

const bonusCatalogMatch = "'BonusPayments'[Period]"

func employeesOf(doc string) string { return `'BonusPayments'[DocNumber] = "` + doc + `"` }

func newBonusDocs(t *testing.T) (*BonusDocService, *fakeDirectory, *fakeNotifier) {
	t.Helper()
	st, _ := newTestStore(t)
	dir := &fakeDirectory{}
	n := &fakeNotifier{fail: map[int64]error{}}
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := &BonusDocService{Dir: dir, Store: st, Notifier: n, Clock: &fakeClock{t: now}}

	ctx := context.Background()
	_, _ = st.UpsertUser(ctx, "111111111", 1, "x", "X", domain.StatusActive, now)
	_, _ = st.UpsertUser(ctx, "222222222", 2, "y", "Y", domain.StatusActive, now)
	_, _ = st.UpsertUser(ctx, "333333333", 3, "z", "Z", domain.StatusDeleted, now)
	return svc, dir, n
}

func TestBonusDocs_FanOut(t *testing.T) {
	svc, dir, n := newBonusDocs(t)
	ctx := context.Background()
	dir.on(bonusCatalogMatch, pbi.Table{
		{"doc_number": "BN-42", "period": "2025-03-01T00:00:00"},
	}, nil)
	dir.on(employeesOf("BN-42"), pbi.Table{
		{"employee_name": "X"}, {"employee_name": "Y"}, {"employee_name": "Z"}, {"employee_name": "X"},
	}, nil)

	rep, err := svc.Sync(ctx)
	if err != nil || rep.Inserted != 1 {
		t.Fatalf("Sync: %+v %v", rep, err)
	}
	nrep, err := svc.Notify(ctx)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if nrep.Delivered != 2 || n.count() != 2 || len(n.to(1)) != 1 || len(n.to(2)) != 1 {
		t.Fatalf("expected exactly one message to X and Y: %+v %v", nrep, n.sent)
	}
	pending, _ := svc.Store.PendingBonusDocs(ctx)
	if len(pending) != 0 {
		t.Fatalf("BN-42 should be notified")
	}
}

func TestBonusDocs_ReimportIsNoOp_AndPeriodNotRewritten(t *testing.T) {
	svc, dir, n := newBonusDocs(t)
	ctx := context.Background()
	dir.on(bonusCatalogMatch, pbi.Table{
		{"doc_number": "BN-42", "period": "2025-03-01T00:00:00"},
		{"doc_number": "", "period": "2025-03-01"},
	}, nil)
	dir.on(employeesOf("BN-42"), pbi.Table{{"employee_name": "X"}}, nil)

	if rep, err := svc.Sync(ctx); err != nil || rep.Inserted != 1 || rep.Skipped != 1 {
		t.Fatalf("first sync: %+v %v", rep, err)
	}

	dir.on(bonusCatalogMatch, pbi.Table{
		{"doc_number": "BN-42", "period": "2025-04-01"},
	}, nil)
	if rep, err := svc.Sync(ctx); err != nil || rep.Inserted != 0 {
		t.Fatalf("re-import inserted: %+v %v", rep, err)
	}
	pending, _ := svc.Store.PendingBonusDocs(ctx)
	if len(pending) != 1 || pending[0].Period != "2025-03-01" {
		t.Fatalf("period must keep its first value: %+v", pending)
	}

	if _, err := svc.Notify(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	nrep, _ := svc.Notify(ctx)
	if nrep.Pending != 0 || n.count() != 1 {
		t.Fatalf("re-import must not reopen or resend: %+v", nrep)
	}
}

func TestBonusDocs_NoSuccessfulSend_StaysPending(t *testing.T) {
	svc, dir, n := newBonusDocs(t)
	ctx := context.Background()
	dir.on(bonusCatalogMatch, pbi.Table{
		{"doc_number": "BN-1", "period": "2025-03-01"},
		{"doc_number": "BN-2", "period": "2025-03-01"},
		{"doc_number": "BN-3", "period": "2025-03-01"},
	}, nil)
	dir.on(employeesOf("BN-1"), pbi.Table{{"employee_name": "X"}}, nil) // delivery fails
	dir.on(employeesOf("BN-2"), pbi.Table{{"employee_name": "Z"}}, nil) // no active recipient
	dir.on(employeesOf("BN-3"), pbi.Table{{"employee_name": "X"}, {"employee_name": "Y"}}, nil)
	n.fail[1] = errDelivery

	if _, err := svc.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	rep, err := svc.Notify(ctx)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if rep.Delivered != 1 || rep.Failed != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	pending, _ := svc.Store.PendingBonusDocs(ctx)
	got := map[string]bool{}
	for _, d := range pending {
		got[d.DocNumber] = true
	}
	if len(pending) != 2 || !got["BN-1"] || !got["BN-2"] {
		t.Fatalf("BN-1 and BN-2 should stay pending, got %+v", pending)
	}
}

func TestBonusDocs_UpstreamErrorMidLoop_FlushesDelivered(t *testing.T) {
	svc, dir, _ := newBonusDocs(t)
	ctx := context.Background()
	_, _ = svc.Store.InsertBonusDocsIfAbsent(ctx, []domain.BonusDoc{
		{DocNumber: "A-1", Period: "2025-03-01", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{DocNumber: "A-2", Period: "2025-03-01", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}, time.Now())
	dir.on(employeesOf("A-1"), pbi.Table{{"employee_name": "X"}}, nil)
	dir.on(employeesOf("A-2"), nil, &pbi.UpstreamError{Status: 500})

	_, err := svc.Notify(ctx)
	if !errors.As(err, new(*pbi.UpstreamError)) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	pending, _ := svc.Store.PendingBonusDocs(ctx)
	if len(pending) != 1 || pending[0].DocNumber != "A-2" {
		t.Fatalf("A-1 should be flipped before aborting: %+v", pending)
	}
}

func TestBonusDocs_PeriodNormalization(t *testing.T) {
	svc, dir, n := newBonusDocs(t)
	ctx := context.Background()
	dir.on(bonusCatalogMatch, pbi.Table{
		{"doc_number": "BN-7", "period": "1899-12-30T00:00:00"},
		{"doc_number": "BN-8", "period": "Q1 2025"},
		{"doc_number": "BN-9", "period": "  "},
	}, nil)
	dir.on(employeesOf("BN-7"), pbi.Table{{"employee_name": "X"}}, nil)

	if rep, err := svc.Sync(ctx); err != nil || rep.Inserted != 3 {
		t.Fatalf("Sync: %+v %v", rep, err)
	}
	pending, _ := svc.Store.PendingBonusDocs(ctx)
	got := map[string]string{}
	for _, d := range pending {
		got[d.DocNumber] = d.Period
	}
	if got["BN-7"] != "" || got["BN-8"] != "Q1 2025" || got["BN-9"] != "" {
		t.Fatalf("unexpected periods: %v", got)
	}

	if _, err := svc.Notify(ctx); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	msgs := n.to(1)
	if len(msgs) != 1 || strings.Contains(msgs[0], "1899") || strings.Contains(msgs[0], "за період") {
		t.Fatalf("sentinel period leaked into message: %v", msgs)
	}
}
