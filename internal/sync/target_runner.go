package sync

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/transport"
)

const jitterFraction = 0.25

// targetRunner performs one send to one target with panic recovery, so a
// misbehaving transport fails that target instead of the round.
type targetRunner struct {
	targetID string
	timeout  time.Duration
}

// send calls t.Send under a fresh deadline derived from ctx with its
// cancellation removed: once a send has started it is bounded only by the
// timeout, never cut short by the caller. A transport that ignores its
// context is abandoned when the deadline passes and the send fails with
// transport.ErrTimeout.
func (tr *targetRunner) send(ctx context.Context, t transport.Transport, msg *schedule.SyncMessage) (*transport.Ack, error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tr.timeout)
	defer cancel()

	type reply struct {
		ack *transport.Ack
		err error
	}

	done := make(chan reply, 1)

	go func() {
		ack, err := tr.call(sendCtx, t, msg)
		done <- reply{ack: ack, err: err}
	}()

	select {
	case r := <-done:
		return r.ack, r.err
	case <-sendCtx.Done():
		return nil, &transport.NodeError{
			Target: tr.targetID,
			Msg:    fmt.Sprintf("no acknowledgement within %s", tr.timeout),
			Err:    transport.ErrTimeout,
		}
	}
}

// call invokes the transport, turning a panic into an error.
func (tr *targetRunner) call(ctx context.Context, t transport.Transport, msg *schedule.SyncMessage) (ack *transport.Ack, err error) {
	defer func() {
		if r := recover(); r != nil {
			ack = nil
			err = fmt.Errorf("panic sending to %s: %v", tr.targetID, r)
		}
	}()

	ack, err = t.Send(ctx, tr.targetID, msg)
	if err == nil && ack == nil {
		ack = &transport.Ack{}
	}

	return ack, err
}

// retryDelay is the wait before re-sending to a target that has already been
// tried tries times: base doubling per try, capped at maxDelay, ±25% jitter.
func retryDelay(tries int, base, maxDelay time.Duration) time.Duration {
	if tries < 1 || base <= 0 {
		return 0
	}

	d := float64(base) * math.Pow(2, float64(tries-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		d = float64(maxDelay)
	}

	d += d * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(d)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
