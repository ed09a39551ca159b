// Package recurrence evaluates 5-field cron expressions (minute, hour,
// day-of-month, month, weekday) used as entry recurrences.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// ErrInvalidRecurrence is returned when an expression cannot be parsed or
// can never produce an occurrence.
var ErrInvalidRecurrence = errors.New("invalid recurrence expression")

// parser accepts the conventional 5-field syntax only: no seconds field and
// no "@daily" style descriptors.
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// probeFrom anchors the reachability check in Parse. Any satisfiable
// expression fires within robfig's five year search window from here,
// including 29 February.
var probeFrom = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Schedule is a parsed recurrence expression.
type Schedule struct {
	expr string
	spec cronlib.Schedule
}

// Parse validates expr and returns its Schedule.
func Parse(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Schedule{}, fmt.Errorf("%w: empty expression", ErrInvalidRecurrence)
	}
	if n := len(strings.Fields(trimmed)); n != 5 {
		return Schedule{}, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidRecurrence, expr, n)
	}

	spec, err := parser.Parse(trimmed)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecurrence, expr, err)
	}
	if spec.Next(probeFrom).IsZero() {
		return Schedule{}, fmt.Errorf("%w: %q never matches any date", ErrInvalidRecurrence, expr)
	}

	return Schedule{expr: trimmed, spec: spec}, nil
}

// Validate reports whether expr is a usable recurrence.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the normalised expression.
func (s Schedule) String() string { return s.expr }

// Next returns the first matching instant strictly after t, evaluated in
// t's location. The result is always minute-aligned.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	if s.spec == nil {
		return time.Time{}, fmt.Errorf("%w: zero schedule", ErrInvalidRecurrence)
	}
	next := s.spec.Next(t)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q has no occurrence after %s", ErrInvalidRecurrence, s.expr, t.Format(time.RFC3339))
	}
	return next, nil
}

// Until returns how long after now the next occurrence of expr falls.
// The duration is always positive: a now that matches expr exactly yields
// the following occurrence, not zero. expr is re-parsed on every call so a
// corrupted stored value surfaces as ErrInvalidRecurrence.
func Until(expr string, now time.Time) (time.Duration, error) {
	s, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	next, err := s.Next(now)
	if err != nil {
		return 0, err
	}
	return next.Sub(now), nil
}

// Next returns now plus Until(expr, now).
func Next(expr string, now time.Time) (time.Time, error) {
	d, err := Until(expr, now)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}

// Upcoming returns the next n occurrences of expr after now.
func Upcoming(expr string, now time.Time, n int) ([]time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := now
	for range n {
		next, err := s.Next(t)
		if err != nil {
			return out, err
		}
		out = append(out, next)
		t = next
	}
	return out, nil
}
