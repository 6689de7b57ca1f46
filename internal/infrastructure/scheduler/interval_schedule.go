package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job every Interval after the previous start.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule rejects non-positive intervals, which would make the
// job due on every tick.
func NewIntervalSchedule(interval time.Duration) (*IntervalSchedule, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return &IntervalSchedule{Interval: interval}, nil
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ParseSchedule returns the cron schedule for expr, or an interval schedule
// of fallback when expr is empty.
func ParseSchedule(expr string, fallback time.Duration) (Schedule, error) {
	if expr == "" {
		s, err := NewIntervalSchedule(fallback)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	c, err := ParseCronExpression(expr)
	if err != nil {
		return nil, err
	}
	return c, nil
}
