package schedule

import (
	"fmt"
	"time"
)

// SyncMessage is the logical message delivered to an irrigation node so it
// can run its schedules autonomously. Transports decide how it is framed.
type SyncMessage struct {
	Schedules []WireSchedule `json:"schedules"`
}

// WireSchedule is the transport-agnostic encoding of one Schedule. Times are
// unix seconds; zero means "none" for EndDateUnix, LastRunUnix and NextRunUnix.
type WireSchedule struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Enabled          bool    `json:"enabled"`
	StartTimeMinutes uint16  `json:"startTimeMinutes"`
	DurationMinutes  uint32  `json:"durationMinutes"`
	Repeat           uint8   `json:"repeat"`
	DaysOfWeek       []uint8 `json:"daysOfWeek"`
	StartDateUnix    int64   `json:"startDateUnix"`
	EndDateUnix      int64   `json:"endDateUnix"`
	LastRunUnix      int64   `json:"lastRunUnix"`
	NextRunUnix      int64   `json:"nextRunUnix"`
	RunCount         uint32  `json:"runCount"`
}

// Encode converts a schedule set to its wire form. Civil dates are encoded
// as midnight in the engine location. Schedules that fail validation are
// rejected: invalid definitions are never synced.
func (e *Engine) Encode(schedules []Schedule) (*SyncMessage, error) {
	msg := &SyncMessage{Schedules: make([]WireSchedule, 0, len(schedules))}

	for i := range schedules {
		s := &schedules[i]
		if err := e.Validate(*s); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.ID, err)
		}

		hour, minute, _ := ParseTimeOfDay(s.StartTime)

		w := WireSchedule{
			ID:               s.ID,
			Name:             s.Name,
			Enabled:          s.Enabled,
			StartTimeMinutes: uint16(hour*60 + minute), //nolint:gosec // bounded by ParseTimeOfDay
			DurationMinutes:  uint32(s.DurationMinutes), //nolint:gosec // validated 1-MaxDurationMinutes
			Repeat:           uint8(s.Repeat),           //nolint:gosec // validated 0-3
			DaysOfWeek:       []uint8{},
			StartDateUnix:    e.civil(s.StartDate).Unix(),
			EndDateUnix:      e.unixOrZero(s.EndDate, true),
			LastRunUnix:      e.unixOrZero(s.LastRun, false),
			NextRunUnix:      e.unixOrZero(s.NextRun, false),
			RunCount:         uint32(max(s.RunCount, 0)), //nolint:gosec // non-negative
		}

		if s.Repeat.needsDays() {
			for _, d := range s.DaysOfWeek {
				w.DaysOfWeek = append(w.DaysOfWeek, uint8(d)) //nolint:gosec // validated 0-6
			}
		}

		msg.Schedules = append(msg.Schedules, w)
	}

	return msg, nil
}

func (e *Engine) unixOrZero(t time.Time, civil bool) int64 {
	if t.IsZero() {
		return 0
	}

	if civil {
		return e.civil(t).Unix()
	}

	return t.Unix()
}
