package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks a failed delivery. Attempt.Err wraps it in a
	// *TransportError; it is recorded on the attempt, never returned from a
	// round.
	ErrTransport = errors.New("sync: transport error")

	// ErrRoundInFlight is returned when a round is started for a path that
	// already has one running.
	ErrRoundInFlight = errors.New("sync: round already in flight for path")
)

// TransportError records why delivery to Target failed. Both ErrTransport
// and the underlying transport error match with errors.Is.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sync: deliver to %q: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
