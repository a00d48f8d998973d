package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-staff-assistant/internal/pbi"
	"github.com/tbourn/go-staff-assistant/internal/repo"
)

// ----- Store -----

func newTestStore(t *testing.T) (*repo.Store, *gorm.DB) {
	t.Helper()
	dsn := "file:services_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewStore(db), db
}

// ----- Fake directory -----

// fakeDirectory answers queries by the first registered substring they
// contain, and records every query text.
type fakeDirectory struct {
	mu      sync.Mutex
	routes  []route
	queries []string
}

type route struct {
	match string
	table pbi.Table
	err   error
}

func (d *fakeDirectory) on(match string, table pbi.Table, err error) *fakeDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Later registrations take precedence.
	d.routes = append([]route{{match: match, table: table, err: err}}, d.routes...)
	return d
}

func (d *fakeDirectory) Execute(_ context.Context, query string) (pbi.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, query)
	for _, r := range d.routes {
		if strings.Contains(query, r.match) {
			return r.table, r.err
		}
	}
	return pbi.Table{}, nil
}

func (d *fakeDirectory) calls(match string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queries {
		if strings.Contains(q, match) {
			n++
		}
	}
	return n
}

func (d *fakeDirectory) lastQuery() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queries) == 0 {
		return ""
	}
	return d.queries[len(d.queries)-1]
}

// ----- Fake notifier -----

type sent struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]error
}

var errDelivery = errors.New("delivery failed")

func (n *fakeNotifier) Send(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{chatID: chatID, text: text})
	if err := n.fail[chatID]; err != nil {
		return err
	}
	return nil
}

func (n *fakeNotifier) to(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.chatID == chatID {
			out = append(out, s.text)
		}
	}
	return out
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// ----- Fake clock / greeter / calendar -----

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fakeGreeter struct {
	text string
	err  error
	got  []string
}

func (g *fakeGreeter) Greeting(_ context.Context, name string) (string, error) {
	g.got = append(g.got, name)
	return g.text, g.err
}

type fakeCalendar struct{ first bool }

func (c fakeCalendar) IsFirstWorkdayOfMonth(time.Time) bool { return c.first }

// ----- Rows -----

func dirRow(name, phone, status string) pbi.Row {
	return pbi.Row{"employee_name": name, "phone": phone, "status": status}
}
