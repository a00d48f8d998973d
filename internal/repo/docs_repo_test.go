package repo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

func TestInsertDevaluationIfAbsent_NeverUpdates(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	rec := &domain.DevaluationRecord{
		Client:        "ACME",
		PaymentNumber: "PAY-1",
		Compensation:  decimal.NewNullDecimal(decimal.RequireFromString("12.50")),
		Manager:       "X",
	}
	ok, err := InsertDevaluationIfAbsent(ctx, db, rec)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}

	again := &domain.DevaluationRecord{Client: "Other", PaymentNumber: "PAY-1"}
	ok, err = InsertDevaluationIfAbsent(ctx, db, again)
	if err != nil || ok {
		t.Fatalf("duplicate insert should be ignored: ok=%v err=%v", ok, err)
	}

	pending, err := PendingDevaluations(ctx, db)
	if err != nil || len(pending) != 1 {
		t.Fatalf("PendingDevaluations: %v %+v", err, pending)
	}
	if pending[0].Client != "ACME" || pending[0].Compensation.Decimal.StringFixed(2) != "12.50" {
		t.Fatalf("stored row mutated: %+v", pending[0])
	}

	flipped, err := MarkDevaluationNotified(ctx, db, pending[0].ID)
	if err != nil || !flipped {
		t.Fatalf("flip: %v %v", flipped, err)
	}
	flipped, _ = MarkDevaluationNotified(ctx, db, pending[0].ID)
	if flipped {
		t.Fatalf("second flip must report false")
	}
}

func TestBonusDocs_InsertIfAbsent_IgnoresPeriodChange(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	n, err := InsertBonusDocsIfAbsent(ctx, db, []domain.BonusDoc{
		{DocNumber: "BN-42", Period: "2025-03-01"},
		{DocNumber: "BN-43", Period: "2025-03-01"},
	}, now)
	if err != nil || n != 2 {
		t.Fatalf("initial insert: n=%d err=%v", n, err)
	}

	n, err = InsertBonusDocsIfAbsent(ctx, db, []domain.BonusDoc{
		{DocNumber: "BN-42", Period: "2025-04-01"},
		{DocNumber: "BN-44", Period: "2025-04-01"},
	}, now)
	if err != nil || n != 1 {
		t.Fatalf("second insert: n=%d err=%v", n, err)
	}

	var doc domain.BonusDoc
	if err := db.Where("doc_number = ?", "BN-42").First(&doc).Error; err != nil {
		t.Fatalf("read BN-42: %v", err)
	}
	if doc.Period != "2025-03-01" {
		t.Fatalf("period was rewritten: %q", doc.Period)
	}

	set, err := BonusDocNumbers(ctx, db)
	if err != nil || len(set) != 3 {
		t.Fatalf("BonusDocNumbers: %v %v", set, err)
	}
	if _, ok := set["BN-44"]; !ok {
		t.Fatalf("BN-44 missing from %v", set)
	}

	if n, err := InsertBonusDocsIfAbsent(ctx, db, nil, now); err != nil || n != 0 {
		t.Fatalf("empty insert: n=%d err=%v", n, err)
	}
}

func TestMarkBonusDocsNotified_OnlyUnnotified(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = InsertBonusDocsIfAbsent(ctx, db, []domain.BonusDoc{
		{DocNumber: "A", Period: "2025-01-01"},
		{DocNumber: "B", Period: "2025-01-01"},
	}, now)

	n, err := MarkBonusDocsNotified(ctx, db, []string{"A"})
	if err != nil || n != 1 {
		t.Fatalf("first mark: n=%d err=%v", n, err)
	}
	n, err = MarkBonusDocsNotified(ctx, db, []string{"A", "B", "missing"})
	if err != nil || n != 1 {
		t.Fatalf("second mark should only touch B: n=%d err=%v", n, err)
	}
	pending, _ := PendingBonusDocs(ctx, db)
	if len(pending) != 0 {
		t.Fatalf("expected no pending docs, got %+v", pending)
	}
	if n, err := MarkBonusDocsNotified(ctx, db, nil); err != nil || n != 0 {
		t.Fatalf("empty mark: n=%d err=%v", n, err)
	}
}

func TestAuditAppends(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	t0 := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	for i, rate := range []string{"41.10", "41.25"} {
		r := &domain.ExchangeRate{Timestamp: t0.Add(time.Duration(i) * time.Hour), Currency: domain.CurrencyUSD, Rate: decimal.RequireFromString(rate)}
		if err := AppendExchangeRate(ctx, db, r); err != nil {
			t.Fatalf("AppendExchangeRate: %v", err)
		}
	}
	latest, err := LatestExchangeRate(ctx, db, domain.CurrencyUSD)
	if err != nil || latest.Rate.StringFixed(2) != "41.25" {
		t.Fatalf("LatestExchangeRate: %+v %v", latest, err)
	}
	if _, err := LatestExchangeRate(ctx, db, "EUR"); !IsNotFound(err) {
		t.Fatalf("expected not found for EUR, got %v", err)
	}

	if err := AppendBotLog(ctx, db, &domain.BotLog{TelegramID: 1, Kind: "payment", Text: "hi", Delivered: true, Meta: map[string]any{"payment_id": 7}}); err != nil {
		t.Fatalf("AppendBotLog: %v", err)
	}
	var bl domain.BotLog
	if err := db.First(&bl).Error; err != nil || bl.Meta["payment_id"] == nil {
		t.Fatalf("bot log meta not stored: %+v %v", bl, err)
	}

	if err := AppendGPTQueryLog(ctx, db, &domain.GPTQueryLog{Model: "m", Prompt: "p", Response: "r", DurationMS: 3}); err != nil {
		t.Fatalf("AppendGPTQueryLog: %v", err)
	}
}
