package schedule

import (
	"errors"
	"fmt"
)

// ErrInvalidSchedule is the sentinel for every recurrence definition that
// fails validation. Use errors.Is(err, schedule.ErrInvalidSchedule).
var ErrInvalidSchedule = errors.New("schedule: invalid schedule")

// ValidationError describes one failed rule. Validate joins several of them.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidSchedule.Error(), e.Msg)
	}

	return fmt.Sprintf("%s: %s: %s", ErrInvalidSchedule.Error(), e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSchedule }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
