package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	maxHour    = 23
	maxMinute  = 59
	maxWeekday = 6

	// lookaheadDays covers one full week plus the starting day, which is
	// enough to find the next matching weekday for any non-empty day set.
	lookaheadDays = 8
)

// Engine computes schedule occurrences. Times of day and civil dates are
// interpreted in Location (UTC when nil). Engine holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	Location *time.Location
}

// NewEngine returns an Engine for the given location. A nil location means UTC.
func NewEngine(loc *time.Location) *Engine {
	return &Engine{Location: loc}
}

func (e *Engine) loc() *time.Location {
	if e == nil || e.Location == nil {
		return time.UTC
	}

	return e.Location
}

// ParseTimeOfDay parses a 24-hour "HH:MM" (or "H:MM") time of day.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || hh == "" || len(mm) != 2 || len(hh) > 2 {
		return 0, 0, fmt.Errorf("time of day %q: want HH:MM", s)
	}

	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > maxHour {
		return 0, 0, fmt.Errorf("time of day %q: hour out of range", s)
	}

	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > maxMinute {
		return 0, 0, fmt.Errorf("time of day %q: minute out of range", s)
	}

	return hour, minute, nil
}

// Validate checks a recurrence definition and returns every violation found,
// joined. Each violation matches ErrInvalidSchedule.
func (e *Engine) Validate(s Schedule) error {
	var errs []error

	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, invalid("name", "must not be empty"))
	}

	if s.DurationMinutes <= 0 || s.DurationMinutes > MaxDurationMinutes {
		errs = append(errs, invalid("durationMinutes", "must be in 1-%d, got %d", MaxDurationMinutes, s.DurationMinutes))
	}

	if _, _, err := ParseTimeOfDay(s.StartTime); err != nil {
		errs = append(errs, invalid("startTime", "%v", err))
	}

	switch {
	case s.Repeat < RepeatOnce || s.Repeat > RepeatCustom:
		errs = append(errs, invalid("repeat", "unknown pattern %d", int(s.Repeat)))
	case s.Repeat.needsDays():
		errs = append(errs, validateDays(s.DaysOfWeek)...)
	case len(s.DaysOfWeek) > 0:
		errs = append(errs, invalid("daysOfWeek", "must be empty for repeat=%s", s.Repeat))
	}

	if s.StartDate.IsZero() {
		errs = append(errs, invalid("startDate", "is required"))
	}

	if !s.EndDate.IsZero() && civilBefore(s.EndDate, s.StartDate) {
		errs = append(errs, invalid("endDate", "%s is before startDate %s",
			FormatDate(s.EndDate), FormatDate(s.StartDate)))
	}

	return errors.Join(errs...)
}

func validateDays(days []int) []error {
	if len(days) == 0 {
		return []error{invalid("daysOfWeek", "must not be empty for weekly/custom schedules")}
	}

	var errs []error

	seen := make(map[int]bool, len(days))
	for _, d := range days {
		if d < 0 || d > maxWeekday {
			errs = append(errs, invalid("daysOfWeek", "day %d out of range 0-6", d))

			continue
		}

		if seen[d] {
			errs = append(errs, invalid("daysOfWeek", "duplicate day %d", d))
		}

		seen[d] = true
	}

	return errs
}

// NextRun returns the first occurrence strictly after now, or false when the
// schedule has no future occurrence (disabled, expired, or a one-shot that
// already ran or lies in the past). An occurrence exactly equal to now is
// considered elapsed.
func (e *Engine) NextRun(s Schedule, now time.Time) (time.Time, bool) {
	if !s.Enabled || s.StartDate.IsZero() {
		return time.Time{}, false
	}

	hour, minute, err := ParseTimeOfDay(s.StartTime)
	if err != nil {
		return time.Time{}, false
	}

	loc := e.loc()
	now = now.In(loc)
	at := func(day time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	}

	if s.Repeat == RepeatOnce {
		inst := at(s.StartDate)
		if s.RunCount > 0 || !inst.After(now) || !e.beforeEnd(s, inst) {
			return time.Time{}, false
		}

		return inst, true
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if first := e.civil(s.StartDate); first.After(day) {
		day = first
	}

	for i := range lookaheadDays {
		d := day.AddDate(0, 0, i)

		inst := at(d)
		if !inst.After(now) || !matchesDay(s, d.Weekday()) {
			continue
		}

		// Candidates are visited in chronological order, so the first one
		// past the end date means every later one is too.
		if !e.beforeEnd(s, inst) {
			return time.Time{}, false
		}

		return inst, true
	}

	return time.Time{}, false
}

// Refresh returns a copy of s with NextRun recomputed for now. Call it after
// creating or editing a schedule.
func (e *Engine) Refresh(s Schedule, now time.Time) Schedule {
	out := s.Clone()
	out.NextRun, _ = e.NextRun(out, now)

	return out
}

// RecordRun returns a copy of s after a run fired at firedAt: RunCount is
// incremented, LastRun set and NextRun recomputed relative to firedAt.
func (e *Engine) RecordRun(s Schedule, firedAt time.Time) Schedule {
	out := s.Clone()
	out.RunCount++
	out.LastRun = firedAt
	out.NextRun, _ = e.NextRun(out, firedAt)

	return out
}

// Due reports whether the schedule's bookkept NextRun has been reached.
func (e *Engine) Due(s Schedule, now time.Time) bool {
	return s.Enabled && !s.NextRun.IsZero() && !s.NextRun.After(now)
}

// civil returns midnight of d's calendar date in the engine location.
func (e *Engine) civil(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, e.loc())
}

// beforeEnd reports whether inst falls on or before the schedule's end date.
func (e *Engine) beforeEnd(s Schedule, inst time.Time) bool {
	if s.EndDate.IsZero() {
		return true
	}

	return inst.Before(e.civil(s.EndDate).AddDate(0, 0, 1))
}

func matchesDay(s Schedule, wd time.Weekday) bool {
	if !s.Repeat.needsDays() {
		return true
	}

	for _, d := range s.DaysOfWeek {
		if d == int(wd) {
			return true
		}
	}

	return false
}

func civilBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}
