// Package schedule implements the recurrence rules for irrigation schedules:
// validation, next-run computation and run bookkeeping. Every computation
// takes the reference time as an explicit argument; nothing in this package
// reads the wall clock.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Repeat selects the recurrence pattern of a Schedule. The numeric values
// are part of the wire format (see SyncMessage) and must not be reordered.
type Repeat int

const (
	RepeatOnce Repeat = iota
	RepeatDaily
	RepeatWeekly
	RepeatCustom
)

// MaxDurationMinutes caps a single run at one day.
const MaxDurationMinutes = 24 * 60

var repeatNames = [...]string{
	RepeatOnce:   "once",
	RepeatDaily:  "daily",
	RepeatWeekly: "weekly",
	RepeatCustom: "custom",
}

func (r Repeat) String() string {
	if r < RepeatOnce || r > RepeatCustom {
		return fmt.Sprintf("repeat(%d)", int(r))
	}

	return repeatNames[r]
}

// ParseRepeat converts a textual repeat name ("once", "daily", "weekly",
// "custom") to a Repeat. Matching is case-insensitive.
func ParseRepeat(s string) (Repeat, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for i, name := range repeatNames {
		if name == needle {
			return Repeat(i), nil
		}
	}

	return 0, fmt.Errorf("schedule: unknown repeat %q", s)
}

// MarshalText renders the repeat by name so JSON, YAML and TOML documents
// stay readable.
func (r Repeat) MarshalText() ([]byte, error) {
	if r < RepeatOnce || r > RepeatCustom {
		return nil, fmt.Errorf("schedule: invalid repeat %d", int(r))
	}

	return []byte(r.String()), nil
}

// UnmarshalText parses a repeat name.
func (r *Repeat) UnmarshalText(text []byte) error {
	parsed, err := ParseRepeat(string(text))
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

// needsDays reports whether the pattern is driven by DaysOfWeek.
func (r Repeat) needsDays() bool {
	return r == RepeatWeekly || r == RepeatCustom
}

// Schedule is a recurrence definition attached to an irrigation path.
//
// StartDate and EndDate are civil dates: only their year, month and day are
// used, and they are interpreted in the Engine's location. A zero EndDate
// means the schedule never expires. LastRun and NextRun are zero when the
// schedule has never run or has no upcoming occurrence.
type Schedule struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	StartTime       string    `json:"startTime" yaml:"start_time"`
	DurationMinutes int       `json:"durationMinutes" yaml:"duration_minutes"`
	Repeat          Repeat    `json:"repeat" yaml:"repeat"`
	DaysOfWeek      []int     `json:"daysOfWeek,omitempty" yaml:"days_of_week,omitempty"`
	StartDate       time.Time `json:"startDate" yaml:"start_date"`
	EndDate         time.Time `json:"endDate,omitzero" yaml:"end_date,omitempty"`
	LastRun         time.Time `json:"lastRun,omitzero" yaml:"last_run,omitempty"`
	NextRun         time.Time `json:"nextRun,omitzero" yaml:"next_run,omitempty"`
	RunCount        int       `json:"runCount" yaml:"run_count"`
	CreatedAt       time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" yaml:"updated_at"`
}

// Duration returns the irrigation run length.
func (s *Schedule) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	if s.DaysOfWeek != nil {
		s.DaysOfWeek = append([]int(nil), s.DaysOfWeek...)
	}

	return s
}

// dateLayout is the civil-date format accepted on the command line and in
// export documents.
const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD civil date. The result is midnight UTC and
// only its calendar fields are meaningful.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: invalid date %q (want YYYY-MM-DD): %w", s, err)
	}

	return d, nil
}

// FormatDate renders a civil date as YYYY-MM-DD, or "" for the zero time.
func FormatDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}

	return d.Format(dateLayout)
}
