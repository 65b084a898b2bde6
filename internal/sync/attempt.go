package sync

import (
	"fmt"
	"time"
)

// State is the delivery state of one target within a sync round.
//
//	pending -> syncing -> success
//	                  \-> error
//
// A target left pending was never tried, usually because the round was
// canceled before reaching it.
type State string

// Attempt states.
const (
	StatePending State = "pending"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Attempt is the delivery record for one target. Attempts are ephemeral:
// they belong to the call that produced them and are never persisted.
type Attempt struct {
	TargetID       string
	State          State
	Message        string
	DeliveredCount int

	// Tries counts the sends made to this target across a round and every
	// RetryFailed built on it.
	Tries      int
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error // set when State is StateError
}

// Outcome summarizes a round.
type Outcome string

// Round outcomes.
const (
	OutcomeAllSucceeded Outcome = "all_succeeded"
	OutcomePartial      Outcome = "partial"
	OutcomeAllFailed    Outcome = "all_failed"
	OutcomeIncomplete   Outcome = "incomplete"
	OutcomeNoTargets    Outcome = "no_targets"
)

// Result is the aggregate of one SyncAll or RetryFailed call. Attempts are
// in target-list order.
type Result struct {
	PathID     string
	Attempts   []Attempt
	StartedAt  time.Time
	FinishedAt time.Time
}

// AllSucceeded reports whether every target acknowledged. A round with no
// targets delivered nothing and does not count as a success.
func (r *Result) AllSucceeded() bool {
	if len(r.Attempts) == 0 {
		return false
	}

	for i := range r.Attempts {
		if r.Attempts[i].State != StateSuccess {
			return false
		}
	}

	return true
}

// AnyFailed reports whether at least one target ended in error.
func (r *Result) AnyFailed() bool {
	return r.count(StateError) > 0
}

// Failed returns the ids of targets that ended in error.
func (r *Result) Failed() []string {
	var ids []string

	for i := range r.Attempts {
		if r.Attempts[i].State == StateError {
			ids = append(ids, r.Attempts[i].TargetID)
		}
	}

	return ids
}

// Attempt returns the record for targetID.
func (r *Result) Attempt(targetID string) (Attempt, bool) {
	for i := range r.Attempts {
		if r.Attempts[i].TargetID == targetID {
			return r.Attempts[i], true
		}
	}

	return Attempt{}, false
}

// Outcome classifies the round. Any target left pending makes the round
// incomplete regardless of the others.
func (r *Result) Outcome() Outcome {
	switch {
	case len(r.Attempts) == 0:
		return OutcomeNoTargets
	case r.count(StatePending)+r.count(StateSyncing) > 0:
		return OutcomeIncomplete
	case r.count(StateError) == 0:
		return OutcomeAllSucceeded
	case r.count(StateSuccess) == 0:
		return OutcomeAllFailed
	default:
		return OutcomePartial
	}
}

// Summary renders counts for logs and CLI output.
func (r *Result) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed, %d pending",
		r.count(StateSuccess), r.count(StateError), r.count(StatePending)+r.count(StateSyncing))
}

func (r *Result) count(s State) int {
	n := 0

	for i := range r.Attempts {
		if r.Attempts[i].State == s {
			n++
		}
	}

	return n
}
