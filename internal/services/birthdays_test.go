package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
)

func newBirthdays(t *testing.T, now time.Time, g Greeter) (*BirthdayService, *fakeDirectory, *fakeNotifier) {
	t.Helper()
	st, _ := newTestStore(t)
	dir := &fakeDirectory{}
	n := &fakeNotifier{fail: map[int64]error{}}
	kyiv, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ctx := context.Background()
	_, _ = st.UpsertUser(ctx, "501111111", 10, "", "ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ", domain.StatusActive, now)
	_, _ = st.UpsertUser(ctx, "502222222", 20, "", "Left Person", domain.StatusDeleted, now)
	return &BirthdayService{
		Dir: dir, Store: st, Notifier: n, Greeter: g,
		Clock: &fakeClock{t: now}, Location: kyiv,
	}, dir, n
}

func TestBirthdays_UsesGreeter(t *testing.T) {
	g := &fakeGreeter{text: "  Вітаємо, Тарасе!  "}
	svc, dir, n := newBirthdays(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC), g)
	dir.on("'Employees'[Birthday]", pbi.Table{
		{"employee_name": "ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ"},
		{"employee_name": "Left Person"},
		{"employee_name": "Not A User"},
	}, nil)

	rep, err := svc.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rep.Delivered != 1 || n.count() != 1 {
		t.Fatalf("expected one greeting, got %+v", rep)
	}
	if got := n.to(10); len(got) != 1 || got[0] != "Вітаємо, Тарасе!" {
		t.Fatalf("greeting text: %v", got)
	}
	if len(g.got) != 1 || g.got[0] != "ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ" {
		t.Fatalf("greeter called with %v", g.got)
	}
}

func TestBirthdays_GeneratedTextIsHTMLEscaped(t *testing.T) {
	g := &fakeGreeter{text: "Здоров'я & щастя <3"}
	svc, dir, n := newBirthdays(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC), g)
	dir.on("'Employees'[Birthday]", pbi.Table{{"employee_name": "ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ"}}, nil)

	if _, err := svc.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := n.to(10); len(got) != 1 || got[0] != "Здоров&#39;я &amp; щастя &lt;3" {
		t.Fatalf("generated greeting must be escaped, got %v", got)
	}
}

func TestBirthdays_FallbackOnGreeterError(t *testing.T) {
	g := &fakeGreeter{err: errors.New("provider down")}
	svc, dir, n := newBirthdays(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC), g)
	dir.on("'Employees'[Birthday]", pbi.Table{{"employee_name": "ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ"}}, nil)

	if _, err := svc.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := n.to(10)
	if len(got) != 1 || got[0] != FallbackGreeting("ШЕВЧЕНКО ТАРАС ГРИГОРОВИЧ") {
		t.Fatalf("expected fallback greeting, got %v", got)
	}
	if !strings.HasPrefix(strings.TrimPrefix(got[0], "🎉 "), "Тарас,") {
		t.Fatalf("first name not title-cased: %q", got[0])
	}
}

func TestBirthdays_MonthDayInLocation(t *testing.T) {
	// 22:30 UTC on March 8 is already March 9 in Kyiv.
	svc, dir, _ := newBirthdays(t, time.Date(2025, 3, 8, 22, 30, 0, 0, time.UTC), &fakeGreeter{})
	if _, err := svc.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if q := dir.lastQuery(); !strings.Contains(q, `"03-09"`) {
		t.Fatalf("expected 03-09 in query, got:\n%s", q)
	}
}

func TestBirthdays_UpstreamErrorPropagates(t *testing.T) {
	svc, dir, n := newBirthdays(t, time.Now(), nil)
	dir.on("'Employees'[Birthday]", nil, &pbi.UpstreamError{Status: 503})

	_, err := svc.Dispatch(context.Background())
	var ue *pbi.UpstreamError
	if !errors.As(err, &ue) || ue.Status != 503 {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if n.count() != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestFirstName(t *testing.T) {
	cases := map[string]string{
		"ПЕТРЕНКО ОЛЕНА ІВАНІВНА": "Олена",
		"Single":   "Single",
		"doe john": "John",
	}
	for in, want := range cases {
		if got := firstName(in); got != want {
			t.Fatalf("firstName(%q) = %q, want %q", in, got, want)
		}
	}
}
