// Package transport carries schedule sync messages to irrigation nodes.
// Each implementation frames the logical message for one kind of link and
// turns the node's reply into an Ack or a classified error.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatemesh/pathsync/internal/schedule"
)

// Transport delivers a schedule set to one node. Send blocks until the node
// acknowledges, rejects the message, or ctx ends.
type Transport interface {
	Send(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error)
}

// Func adapts an ordinary function to Transport.
type Func func(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error)

// Send implements Transport.
func (f Func) Send(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error) {
	return f(ctx, targetID, msg)
}

// Ack is a positive acknowledgement. DeliveredCount is nil when the node did
// not report how many schedules it stored.
type Ack struct {
	DeliveredCount *int
	Message        string
}

// reply is the acknowledgement frame shared by every link:
// {"id": "...", "ok": true, "deliveredCount": 3, "error": ""}.
type reply struct {
	ID             string `json:"id,omitempty"`
	OK             bool   `json:"ok"`
	DeliveredCount *int   `json:"deliveredCount,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (r *reply) ack(target string) (*Ack, error) {
	if !r.OK {
		msg := r.Error
		if msg == "" {
			msg = "rejected without reason"
		}

		return nil, &NodeError{Target: target, Msg: msg, Err: ErrNack}
	}

	if r.DeliveredCount != nil && *r.DeliveredCount < 0 {
		return nil, &NodeError{Target: target, Msg: fmt.Sprintf("negative delivered count %d", *r.DeliveredCount), Err: ErrProtocol}
	}

	return &Ack{DeliveredCount: r.DeliveredCount}, nil
}

// request is the sync frame sent to a node. ID correlates the reply on
// links that multiplex several conversations.
type request struct {
	ID        string                  `json:"id,omitempty"`
	Type      string                  `json:"type"`
	NodeID    string                  `json:"nodeId"`
	Schedules []schedule.WireSchedule `json:"schedules"`
}

const syncRequestType = "schedule_sync"

func newRequest(id, target string, msg *schedule.SyncMessage) request {
	return request{ID: id, Type: syncRequestType, NodeID: target, Schedules: msg.Schedules}
}

// ctxErr classifies a context failure: a passed deadline is ErrTimeout,
// anything else is returned as is.
func ctxErr(target string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &NodeError{Target: target, Msg: "no reply before deadline", Err: ErrTimeout}
	}

	return fmt.Errorf("transport: node %q: %w", target, err)
}
