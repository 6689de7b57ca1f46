// Package timeutil provides calendar-day arithmetic in a configurable timezone.
// Day boundaries drive daily claims, voice XP budgets and weekly leaderboards,
// so every such computation goes through a Calendar rather than time.Local.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Clock abstracts the wall clock so engine code stays deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct{ T time.Time }

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// Calendar computes day, week and month boundaries in a single location.
type Calendar struct {
	loc *time.Location
}

// UTC is the default calendar.
var UTC = Calendar{loc: time.UTC}

// NewCalendar loads the named IANA timezone. An empty name means UTC.
func NewCalendar(name string) (Calendar, error) {
	if name == "" {
		return UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return Calendar{loc: loc}, nil
}

// CalendarIn wraps an already loaded location.
func CalendarIn(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the calendar's timezone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// In converts a time to the calendar's timezone.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// StartOfDay returns local midnight of the day containing t.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.Location())
}

// EndOfDay returns the first instant of the following day.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1)
}

// StartOfWeek returns Monday 00:00 of the week containing t.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	l := c.In(t)
	weekday := int(l.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return c.StartOfDay(l.AddDate(0, 0, -(weekday - 1)))
}

// StartOfMonth returns the first day of the month containing t.
func (c Calendar) StartOfMonth(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, c.Location())
}

// IsSameDay checks if two times fall on the same calendar day.
func (c Calendar) IsSameDay(t1, t2 time.Time) bool {
	return c.DaysBetween(t1, t2) == 0
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
// It counts date changes, so it stays correct across DST shifts.
func (c Calendar) DaysBetween(t1, t2 time.Time) int {
	a, b := c.In(t1), c.In(t2)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// FormatDate renders t as YYYY-MM-DD in the calendar's timezone.
func (c Calendar) FormatDate(t time.Time) string {
	return c.In(t).Format("2006-01-02")
}
