package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule wraps a standard 5-field expression:
// minute hour day-of-month month day-of-week.
//
//   - "*/15 * * * *"  every 15 minutes
//   - "0 3 * * *"     every day at 03:00
//   - "0 8 * 3-7 1-5" weekdays at 08:00 during the first semester
//
// Descriptors such as @hourly, @daily and @weekly are accepted too.
type CronSchedule struct {
	raw  string
	spec cron.Schedule
}

// ParseCron parses a cron expression or descriptor.
func ParseCron(expr string) (*CronSchedule, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return &CronSchedule{raw: expr, spec: spec}, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// when nothing matches within five years.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.spec.Next(t)
}

// String returns the original expression.
func (c *CronSchedule) String() string {
	return c.raw
}

// ParseSchedule accepts "@every <duration>" or anything ParseCron accepts.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, spec)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCron(spec)
}
