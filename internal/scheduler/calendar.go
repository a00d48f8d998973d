package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Calendar knows weekends and configured public holidays.
type Calendar struct {
	holidays map[string]struct{}
}

// NewCalendar parses YYYY-MM-DD holiday dates.
func NewCalendar(holidays []string) (*Calendar, error) {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[h] = struct{}{}
	}
	return c, nil
}

// IsWorkday reports whether t's calendar date is neither a weekend day nor a
// holiday. The date is taken in t's own location.
func (c *Calendar) IsWorkday(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format(time.DateOnly)]
	return !holiday
}

// IsFirstWorkdayOfMonth reports whether t is a workday and no earlier day of
// the same month is.
func (c *Calendar) IsFirstWorkdayOfMonth(t time.Time) bool {
	if !c.IsWorkday(t) {
		return false
	}
	for d := time.Date(t.Year(), t.Month(), 1, 12, 0, 0, 0, t.Location()); d.Day() < t.Day(); d = d.AddDate(0, 0, 1) {
		if c.IsWorkday(d) {
			return false
		}
	}
	return true
}
