package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

func dailyAt(start string) Schedule {
	return Schedule{
		ID:              "s1",
		Name:            "Morning",
		Enabled:         true,
		StartTime:       start,
		DurationMinutes: 60,
		Repeat:          RepeatDaily,
		StartDate:       utc(2024, 1, 1, 0, 0),
	}
}

// --- ParseTimeOfDay ---

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	h, m, err := ParseTimeOfDay("06:05")
	require.NoError(t, err)
	assert.Equal(t, 6, h)
	assert.Equal(t, 5, m)

	h, m, err = ParseTimeOfDay("7:30")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 30, m)

	for _, bad := range []string{"", "24:00", "12:60", "12", "12:5", "ab:cd", "123:00", "-1:00"} {
		_, _, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

// --- Validate ---

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	assert.NoError(t, e.Validate(dailyAt("06:00")))

	weekly := dailyAt("06:00")
	weekly.Repeat = RepeatWeekly
	weekly.DaysOfWeek = []int{1, 3, 5}
	assert.NoError(t, e.Validate(weekly))
}

func TestValidate_Violations(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)

	tests := []struct {
		name   string
		mutate func(*Schedule)
		field  string
	}{
		{"zero duration", func(s *Schedule) { s.DurationMinutes = 0 }, "durationMinutes"},
		{"duration over a day", func(s *Schedule) { s.DurationMinutes = MaxDurationMinutes + 1 }, "durationMinutes"},
		{"duration past uint32", func(s *Schedule) { s.DurationMinutes = 1<<32 + 5 }, "durationMinutes"},
		{"bad start time", func(s *Schedule) { s.StartTime = "25:00" }, "startTime"},
		{"weekly without days", func(s *Schedule) { s.Repeat = RepeatWeekly }, "daysOfWeek"},
		{"custom day out of range", func(s *Schedule) { s.Repeat = RepeatCustom; s.DaysOfWeek = []int{7} }, "daysOfWeek"},
		{"duplicate day", func(s *Schedule) { s.Repeat = RepeatWeekly; s.DaysOfWeek = []int{2, 2} }, "daysOfWeek"},
		{"once with days", func(s *Schedule) { s.Repeat = RepeatOnce; s.DaysOfWeek = []int{1} }, "daysOfWeek"},
		{"missing name", func(s *Schedule) { s.Name = " " }, "name"},
		{"missing start date", func(s *Schedule) { s.StartDate = time.Time{} }, "startDate"},
		{"end before start", func(s *Schedule) { s.EndDate = utc(2023, 12, 31, 0, 0) }, "endDate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := dailyAt("06:00")
			tt.mutate(&s)

			err := e.Validate(s)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	t.Parallel()

	s := dailyAt("nope")
	s.DurationMinutes = -5

	err := NewEngine(nil).Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startTime")
	assert.Contains(t, err.Error(), "durationMinutes")
}

// --- NextRun ---

func TestNextRun_DailyLaterToday(t *testing.T) {
	t.Parallel()

	next, ok := NewEngine(nil).NextRun(dailyAt("06:00"), utc(2024, 3, 10, 5, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 3, 10, 6, 0), next)
}

func TestNextRun_DailyAlreadyPassedToday(t *testing.T) {
	t.Parallel()

	next, ok := NewEngine(nil).NextRun(dailyAt("06:00"), utc(2024, 3, 10, 6, 1))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 3, 11, 6, 0), next)
}

func TestNextRun_ExactInstantIsElapsed(t *testing.T) {
	t.Parallel()

	now := utc(2024, 3, 10, 6, 0)
	next, ok := NewEngine(nil).NextRun(dailyAt("06:00"), now)
	require.True(t, ok)
	assert.Equal(t, utc(2024, 3, 11, 6, 0), next)
}

func TestNextRun_DailyAlwaysStrictlyAfterNow(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	s := dailyAt("06:00")
	base := utc(2024, 1, 1, 0, 0)

	// Walk two days in 7-minute steps, landing on and around the start time.
	for step := time.Duration(0); step < 48*time.Hour; step += 7 * time.Minute {
		now := base.Add(step)
		next, ok := e.NextRun(s, now)
		require.True(t, ok, now)
		assert.True(t, next.After(now), "next %v must be after now %v", next, now)
		assert.LessOrEqual(t, next.Sub(now), 24*time.Hour)
	}
}

func TestNextRun_IsPure(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	s := dailyAt("18:45")
	now := utc(2024, 5, 5, 12, 0)

	a, okA := e.NextRun(s, now)
	b, okB := e.NextRun(s, now)
	assert.Equal(t, okA, okB)
	assert.Equal(t, a, b)
}

func TestNextRun_BoundedBelowByStartDate(t *testing.T) {
	t.Parallel()

	s := dailyAt("06:00")
	s.StartDate = utc(2024, 6, 1, 0, 0)

	next, ok := NewEngine(nil).NextRun(s, utc(2024, 1, 1, 12, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 6, 1, 6, 0), next)
}

func TestNextRun_ExpiredByEndDate(t *testing.T) {
	t.Parallel()

	s := dailyAt("06:00")
	s.EndDate = utc(2024, 1, 10, 0, 0)
	e := NewEngine(nil)

	// The end date itself is inclusive.
	next, ok := e.NextRun(s, utc(2024, 1, 9, 7, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 1, 10, 6, 0), next)

	_, ok = e.NextRun(s, utc(2024, 1, 10, 7, 0))
	assert.False(t, ok)
}

func TestNextRun_WeeklyMonWedFri(t *testing.T) {
	t.Parallel()

	s := dailyAt("06:00")
	s.Repeat = RepeatWeekly
	s.DaysOfWeek = []int{1, 3, 5}

	// 2024-01-02 is a Tuesday.
	next, ok := NewEngine(nil).NextRun(s, utc(2024, 1, 2, 7, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 1, 3, 6, 0), next)
	assert.Equal(t, time.Wednesday, next.Weekday())
}

func TestNextRun_WeeklyWrapsToNextWeek(t *testing.T) {
	t.Parallel()

	s := dailyAt("06:00")
	s.Repeat = RepeatCustom
	s.DaysOfWeek = []int{0}

	// Sunday 2024-01-07 at 06:00 exactly: the same-day slot is elapsed.
	next, ok := NewEngine(nil).NextRun(s, utc(2024, 1, 7, 6, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 1, 14, 6, 0), next)
}

func TestNextRun_Once(t *testing.T) {
	t.Parallel()

	s := dailyAt("09:30")
	s.Repeat = RepeatOnce
	s.StartDate = utc(2024, 2, 1, 0, 0)
	e := NewEngine(nil)

	next, ok := e.NextRun(s, utc(2024, 1, 15, 0, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 2, 1, 9, 30), next)

	_, ok = e.NextRun(s, utc(2024, 2, 1, 9, 30))
	assert.False(t, ok, "an exactly-current one-shot is elapsed")

	s.RunCount = 1
	_, ok = e.NextRun(s, utc(2024, 1, 15, 0, 0))
	assert.False(t, ok, "a one-shot that already ran has no next run")
}

func TestNextRun_Disabled(t *testing.T) {
	t.Parallel()

	s := dailyAt("06:00")
	s.Enabled = false

	_, ok := NewEngine(nil).NextRun(s, utc(2024, 1, 1, 0, 0))
	assert.False(t, ok)
}

func TestNextRun_UsesEngineLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-6", -6*60*60)
	e := NewEngine(loc)

	next, ok := e.NextRun(dailyAt("06:00"), utc(2024, 1, 1, 11, 0)) // 05:00 local
	require.True(t, ok)
	assert.Equal(t, utc(2024, 1, 1, 12, 0), next.UTC())
}

// --- RecordRun / Refresh / Due ---

func TestRecordRun_DailyScenario(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	s := e.Refresh(dailyAt("06:00"), utc(2023, 12, 31, 12, 0))
	require.Equal(t, utc(2024, 1, 1, 6, 0), s.NextRun)

	fired := utc(2024, 1, 1, 6, 0)
	after := e.RecordRun(s, fired)

	assert.Equal(t, 1, after.RunCount)
	assert.Equal(t, fired, after.LastRun)
	assert.Equal(t, utc(2024, 1, 2, 6, 0), after.NextRun)

	// The input is not modified.
	assert.Equal(t, 0, s.RunCount)
}

func TestRecordRun_OnceClearsNextRun(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	s := dailyAt("06:00")
	s.Repeat = RepeatOnce
	s = e.Refresh(s, utc(2023, 12, 31, 0, 0))
	require.False(t, s.NextRun.IsZero())

	after := e.RecordRun(s, s.NextRun)
	assert.True(t, after.NextRun.IsZero())
	assert.Equal(t, 1, after.RunCount)
}

func TestDue(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	s := dailyAt("06:00")
	s.NextRun = utc(2024, 1, 1, 6, 0)

	assert.False(t, e.Due(s, utc(2024, 1, 1, 5, 59)))
	assert.True(t, e.Due(s, utc(2024, 1, 1, 6, 0)))

	s.Enabled = false
	assert.False(t, e.Due(s, utc(2024, 1, 1, 6, 0)))
}

// --- Repeat text ---

func TestRepeatText(t *testing.T) {
	t.Parallel()

	r, err := ParseRepeat("Weekly")
	require.NoError(t, err)
	assert.Equal(t, RepeatWeekly, r)

	_, err = ParseRepeat("hourly")
	assert.Error(t, err)

	text, err := RepeatCustom.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "custom", string(text))

	var back Repeat
	require.NoError(t, back.UnmarshalText([]byte("once")))
	assert.Equal(t, RepeatOnce, back)
}
