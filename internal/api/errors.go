package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/store"
	isync "github.com/gatemesh/pathsync/internal/sync"
	"github.com/gatemesh/pathsync/internal/topology"
)

// errNoRound is returned when a retry is requested before any round ran.
var errNoRound = errors.New("api: no sync round recorded for path")

// handleError maps domain errors onto HTTP statuses.
func handleError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, topology.ErrScheduleNotFound),
		errors.Is(err, errNoRound):
		return huma.Error404NotFound(msg)
	case errors.Is(err, store.ErrExists),
		errors.Is(err, isync.ErrRoundInFlight),
		errors.Is(err, topology.ErrInsufficientTopology):
		return huma.Error409Conflict(msg)
	case errors.Is(err, schedule.ErrInvalidSchedule),
		errors.Is(err, topology.ErrInvalidMetric):
		return huma.Error422UnprocessableEntity(msg)
	case errors.Is(err, topology.ErrInvalidTopology):
		return huma.Error400BadRequest(msg)
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
