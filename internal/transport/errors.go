package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for delivery failures. Use errors.Is(err,
// transport.ErrNack) to check.
var (
	ErrTimeout     = errors.New("transport: timeout")
	ErrNack        = errors.New("transport: negative acknowledgement")
	ErrUnreachable = errors.New("transport: node unreachable")
	ErrOffline     = errors.New("transport: node offline")
	ErrProtocol    = errors.New("transport: protocol error")
)

// NodeError wraps a sentinel with the node it concerns and a detail
// message, usually the node's own error text.
type NodeError struct {
	Target     string
	StatusCode int // HTTP status, zero for other links
	Msg        string
	Err        error // sentinel, for errors.Is()
}

func (e *NodeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: node %q: HTTP %d: %s", e.Err.Error(), e.Target, e.StatusCode, e.Msg)
	}

	return fmt.Sprintf("%s: node %q: %s", e.Err.Error(), e.Target, e.Msg)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
