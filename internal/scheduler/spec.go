package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Spec is a job cadence: either a fixed period or a daily wall-clock time.
type Spec struct {
	every  time.Duration
	daily  bool
	hour   int
	minute int
	loc    *time.Location
}

// minPeriod bounds periodic specs from below, including the zero Spec.
const minPeriod = time.Second

// Every returns a Spec that fires once per d. Periods under a second are
// raised to one second.
func Every(d time.Duration) Spec {
	return Spec{every: max(d, minPeriod)}
}

func (s Spec) period() time.Duration {
	return max(s.every, minPeriod)
}

// DailyAt returns a Spec that fires every day at hh:mm in loc.
func DailyAt(hhmm string, loc *time.Location) (Spec, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return Spec{}, fmt.Errorf("scheduler: daily time %q: %w", hhmm, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return Spec{daily: true, hour: t.Hour(), minute: t.Minute(), loc: loc}, nil
}

// Parse reads "15m", "every 15m" or "daily 09:01".
func Parse(s string, loc *time.Location) (Spec, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "daily "); ok {
		return DailyAt(strings.TrimSpace(rest), loc)
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "every "))
	d, err := time.ParseDuration(s)
	if err != nil {
		return Spec{}, fmt.Errorf("scheduler: schedule %q: %w", s, err)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("scheduler: schedule %q: period must be positive", s)
	}
	return Every(d), nil
}

// First returns the first due time of a job registered at now. Periodic
// jobs first fire one period after registration.
func (s Spec) First(now time.Time) time.Time {
	if s.daily {
		return s.nextDaily(now)
	}
	return now.Add(s.period())
}

// Next returns the due time following prev. Periodic jobs keep a fixed
// rate measured from the nominal due time; slots that already passed by now
// are skipped rather than run back to back.
func (s Spec) Next(prev, now time.Time) time.Time {
	if s.daily {
		return s.nextDaily(now)
	}
	every := s.period()
	next := prev.Add(every)
	if !next.After(now) {
		missed := now.Sub(next)/every + 1
		next = next.Add(missed * every)
	}
	return next
}

func (s Spec) nextDaily(now time.Time) time.Time {
	local := now.In(s.loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !at.After(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return at
}

func (s Spec) String() string {
	if s.daily {
		return fmt.Sprintf("daily %02d:%02d %s", s.hour, s.minute, s.loc)
	}
	return "every " + s.period().String()
}
