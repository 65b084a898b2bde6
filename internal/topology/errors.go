package topology

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, topology.ErrInvalidTopology) to check.
var (
	// ErrInvalidTopology reports a structural violation: duplicate or
	// missing node, duplicate edge, self loop, bad reorder set.
	ErrInvalidTopology = errors.New("topology: invalid topology")

	// ErrInsufficientTopology reports an attempt to start flow on a path
	// with fewer than two nodes.
	ErrInsufficientTopology = errors.New("topology: path needs at least 2 nodes to flow")

	// ErrInvalidMetric reports a negative or non-finite telemetry value.
	ErrInvalidMetric = errors.New("topology: invalid metric")

	// ErrScheduleNotFound reports an unknown schedule id on a path.
	ErrScheduleNotFound = errors.New("topology: schedule not found")
)

// TopologyError carries the failing operation alongside ErrInvalidTopology.
type TopologyError struct {
	Op  string
	Msg string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidTopology.Error(), e.Op, e.Msg)
}

func (e *TopologyError) Unwrap() error {
	return ErrInvalidTopology
}

func topoErr(op, format string, args ...any) error {
	return &TopologyError{Op: op, Msg: fmt.Sprintf(format, args...)}
}
