package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/transport"
)

// mockTransport records every send and delegates to sendFn.
type mockTransport struct {
	mu     stdsync.Mutex
	sent   []string
	sendFn func(ctx context.Context, target string, msg *schedule.SyncMessage) (*transport.Ack, error)
}

func (m *mockTransport) Send(ctx context.Context, target string, msg *schedule.SyncMessage) (*transport.Ack, error) {
	m.mu.Lock()
	m.sent = append(m.sent, target)
	m.mu.Unlock()

	if m.sendFn == nil {
		return &transport.Ack{}, nil
	}

	return m.sendFn(ctx, target, msg)
}

func (m *mockTransport) targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.sent...)
}

// failing returns a transport that nacks the listed targets.
func failing(targets ...string) *mockTransport {
	bad := make(map[string]bool, len(targets))
	for _, t := range targets {
		bad[t] = true
	}

	return &mockTransport{sendFn: func(_ context.Context, target string, _ *schedule.SyncMessage) (*transport.Ack, error) {
		if bad[target] {
			return nil, &transport.NodeError{Target: target, Msg: "busy", Err: transport.ErrNack}
		}

		return &transport.Ack{}, nil
	}}
}

func testSchedules() []schedule.Schedule {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	return []schedule.Schedule{
		{ID: "s1", Name: "Morning", Enabled: true, StartTime: "06:00", DurationMinutes: 30, Repeat: schedule.RepeatDaily, StartDate: start},
		{ID: "s2", Name: "Weekend", Enabled: true, StartTime: "18:00", DurationMinutes: 20, Repeat: schedule.RepeatWeekly, DaysOfWeek: []int{0, 6}, StartDate: start},
	}
}

func newTestOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	o := NewOrchestrator(cfg)
	o.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return o
}

// --- SyncAll ---

func TestSyncAll_PartialFailure(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	tr := failing("B")

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B", "C"}, tr)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 3)

	assert.Equal(t, []string{"A", "B", "C"}, tr.targets())
	assert.Equal(t, StateSuccess, res.Attempts[0].State)
	assert.Equal(t, StateError, res.Attempts[1].State)
	assert.Equal(t, StateSuccess, res.Attempts[2].State)

	assert.Equal(t, "Synced 2 schedules", res.Attempts[0].Message)
	assert.Equal(t, 2, res.Attempts[0].DeliveredCount)
	assert.Equal(t, 1, res.Attempts[1].Tries)

	assert.True(t, res.AnyFailed())
	assert.False(t, res.AllSucceeded())
	assert.Equal(t, OutcomePartial, res.Outcome())
	assert.Equal(t, []string{"B"}, res.Failed())

	b := res.Attempts[1]
	require.ErrorIs(t, b.Err, ErrTransport)
	require.ErrorIs(t, b.Err, transport.ErrNack)

	var te *TransportError
	require.ErrorAs(t, b.Err, &te)
	assert.Equal(t, "B", te.Target)
	assert.Contains(t, b.Message, "busy")
}

func TestSyncAll_AllFailedAndAllSucceeded(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B"}, failing("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllFailed, res.Outcome())

	res, err = o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B"}, failing())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllSucceeded, res.Outcome())
	assert.True(t, res.AllSucceeded())
}

func TestSyncAll_EmptyTargets(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), nil, failing())
	require.NoError(t, err)
	assert.Empty(t, res.Attempts)
	assert.False(t, res.AllSucceeded())
	assert.False(t, res.AnyFailed())
	assert.Equal(t, OutcomeNoTargets, res.Outcome())
}

func TestSyncAll_DeduplicatesTargets(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	tr := failing()

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B", "A", "B", "C"}, tr)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, tr.targets())
	assert.Len(t, res.Attempts, 3)
}

func TestSyncAll_ProgressInTargetOrder(t *testing.T) {
	t.Parallel()

	var seen []string

	o := newTestOrchestrator(OrchestratorConfig{
		OnProgress: func(pathID string, a Attempt) {
			assert.Equal(t, "p1", pathID)
			seen = append(seen, a.TargetID+":"+string(a.State))
		},
	})

	_, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"C", "A", "B"}, failing("A"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"C:syncing", "C:success",
		"A:syncing", "A:error",
		"B:syncing", "B:success",
	}, seen)
}

func TestSyncAll_AckCountOverridesScheduleCount(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	one := 1
	tr := &mockTransport{sendFn: func(context.Context, string, *schedule.SyncMessage) (*transport.Ack, error) {
		return &transport.Ack{DeliveredCount: &one, Message: "stored 1, table full"}, nil
	}}

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A"}, tr)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts[0].DeliveredCount)
	assert.Equal(t, "stored 1, table full", res.Attempts[0].Message)
}

func TestSyncAll_InvalidSchedulesAreNeverSent(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	tr := failing()

	bad := testSchedules()
	bad[1].DaysOfWeek = nil

	_, err := o.SyncAll(t.Context(), "p1", bad, []string{"A"}, tr)
	require.ErrorIs(t, err, schedule.ErrInvalidSchedule)
	assert.Empty(t, tr.targets())
}

func TestSyncAll_CancelBetweenTargetsLeavesRestPending(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	ctx, cancel := context.WithCancel(t.Context())

	tr := &mockTransport{sendFn: func(sendCtx context.Context, target string, _ *schedule.SyncMessage) (*transport.Ack, error) {
		if target == "A" {
			cancel()

			// The in-flight send is detached from the caller.
			if sendCtx.Err() != nil {
				return nil, sendCtx.Err()
			}
		}

		return &transport.Ack{}, nil
	}}

	res, err := o.SyncAll(ctx, "p1", testSchedules(), []string{"A", "B", "C"}, tr)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, tr.targets())
	assert.Equal(t, StateSuccess, res.Attempts[0].State)
	assert.Equal(t, StatePending, res.Attempts[1].State)
	assert.Equal(t, StatePending, res.Attempts[2].State)
	assert.Equal(t, 0, res.Attempts[1].Tries)
	assert.Equal(t, OutcomeIncomplete, res.Outcome())
}

func TestSyncAll_SendTimeout(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{SendTimeout: 20 * time.Millisecond})
	tr := &mockTransport{sendFn: func(ctx context.Context, _ string, _ *schedule.SyncMessage) (*transport.Ack, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A"}, tr)
	require.NoError(t, err)
	assert.Equal(t, StateError, res.Attempts[0].State)

	err = res.Attempts[0].Err
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, transport.ErrTimeout), "got %v", err)
}

func TestSyncAll_SendTimeoutWhenTransportIgnoresContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	o := newTestOrchestrator(OrchestratorConfig{SendTimeout: 20 * time.Millisecond})
	tr := transport.Func(func(_ context.Context, target string, _ *schedule.SyncMessage) (*transport.Ack, error) {
		if target == "stuck" {
			<-release
		}

		return &transport.Ack{}, nil
	})

	start := time.Now()
	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"stuck", "B"}, tr)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	stuck, ok := res.Attempt("stuck")
	require.True(t, ok)
	assert.Equal(t, StateError, stuck.State)
	assert.ErrorIs(t, stuck.Err, transport.ErrTimeout)
	assert.Contains(t, stuck.Message, "no acknowledgement within 20ms")

	b, ok := res.Attempt("B")
	require.True(t, ok)
	assert.Equal(t, StateSuccess, b.State)
	assert.Equal(t, OutcomePartial, res.Outcome())
}

func TestSyncAll_TransportPanicFailsOnlyThatTarget(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	tr := &mockTransport{sendFn: func(_ context.Context, target string, _ *schedule.SyncMessage) (*transport.Ack, error) {
		if target == "B" {
			panic("firmware exploded")
		}

		return &transport.Ack{}, nil
	}}

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B", "C"}, tr)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome())
	assert.Contains(t, res.Attempts[1].Message, "firmware exploded")
}

func TestSyncAll_SingleFlightPerPath(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	entered := make(chan struct{})
	releaseSend := make(chan struct{})

	blocking := &mockTransport{sendFn: func(context.Context, string, *schedule.SyncMessage) (*transport.Ack, error) {
		close(entered)
		<-releaseSend

		return &transport.Ack{}, nil
	}}

	done := make(chan error, 1)

	go func() {
		_, err := o.SyncAll(context.Background(), "p1", testSchedules(), []string{"A"}, blocking)
		done <- err
	}()

	<-entered

	_, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"B"}, failing())
	require.ErrorIs(t, err, ErrRoundInFlight)

	_, err = o.RetryFailed(t.Context(), "p1", &Result{}, testSchedules(), failing())
	require.ErrorIs(t, err, ErrRoundInFlight)

	// Another path is independent.
	_, err = o.SyncAll(t.Context(), "p2", testSchedules(), []string{"B"}, failing())
	require.NoError(t, err)

	close(releaseSend)
	require.NoError(t, <-done)

	// The slot is released once the round ends.
	_, err = o.SyncAll(t.Context(), "p1", testSchedules(), []string{"B"}, failing())
	require.NoError(t, err)
}

func TestSyncAll_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32

	o := newTestOrchestrator(OrchestratorConfig{Workers: 2})
	tr := &mockTransport{sendFn: func(_ context.Context, target string, _ *schedule.SyncMessage) (*transport.Ack, error) {
		n := active.Add(1)
		defer active.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)

		if target == "D" {
			return nil, transport.ErrUnreachable
		}

		return &transport.Ack{}, nil
	}}

	var progress atomic.Int32

	o.cfg.OnProgress = func(_ string, a Attempt) {
		if a.State != StateSyncing {
			progress.Add(1)
		}
	}

	targets := []string{"A", "B", "C", "D", "E"}

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), targets, tr)
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(5), progress.Load())

	for i, a := range res.Attempts {
		assert.Equal(t, targets[i], a.TargetID, "result keeps target-list order")
		assert.Equal(t, 1, a.Tries)
	}

	assert.Equal(t, []string{"D"}, res.Failed())
}

func TestSyncAll_Pacing(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{MinSendInterval: 30 * time.Millisecond})

	start := time.Now()
	_, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B", "C"}, failing())
	require.NoError(t, err)

	// The first send is immediate, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

// --- RetryFailed ---

func TestRetryFailed_OnlyResendsFailures(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})

	first, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B", "C"}, failing("B"))
	require.NoError(t, err)

	tr := failing()
	second, err := o.RetryFailed(t.Context(), "p1", first, testSchedules(), tr)
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, tr.targets())
	assert.Equal(t, first.Attempts[0], second.Attempts[0])
	assert.Equal(t, first.Attempts[2], second.Attempts[2])

	assert.Equal(t, StateSuccess, second.Attempts[1].State)
	assert.Equal(t, 2, second.Attempts[1].Tries)
	assert.NoError(t, second.Attempts[1].Err)
	assert.Equal(t, OutcomeAllSucceeded, second.Outcome())

	// The previous result is not modified.
	assert.Equal(t, StateError, first.Attempts[1].State)
}

func TestRetryFailed_KeepsPendingUntouched(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	prev := &Result{PathID: "p1", Attempts: []Attempt{
		{TargetID: "A", State: StatePending},
		{TargetID: "B", State: StateError, Tries: 1},
	}}

	tr := failing()
	res, err := o.RetryFailed(t.Context(), "p1", prev, testSchedules(), tr)
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, tr.targets())
	assert.Equal(t, StatePending, res.Attempts[0].State)
	assert.Equal(t, OutcomeIncomplete, res.Outcome())
}

func TestRetryFailed_StopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{MaxAttempts: 2})
	tr := failing("A")

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A"}, tr)
	require.NoError(t, err)

	res, err = o.RetryFailed(t.Context(), "p1", res, testSchedules(), tr)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts[0].Tries)

	exhausted, err := o.RetryFailed(t.Context(), "p1", res, testSchedules(), tr)
	require.NoError(t, err)

	assert.Len(t, tr.targets(), 2)
	assert.Equal(t, res.Attempts[0], exhausted.Attempts[0])
	assert.True(t, errors.Is(exhausted.Attempts[0].Err, transport.ErrNack))
}

func TestRetryFailed_BacksOffByTries(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: time.Second})

	var waits []time.Duration

	o.sleepFunc = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	prev := &Result{Attempts: []Attempt{
		{TargetID: "A", State: StateError, Tries: 1},
		{TargetID: "B", State: StateError, Tries: 3},
		{TargetID: "C", State: StateError, Tries: 10},
	}}

	_, err := o.RetryFailed(t.Context(), "p1", prev, testSchedules(), failing())
	require.NoError(t, err)
	require.Len(t, waits, 3)

	assert.InDelta(t, float64(100*time.Millisecond), float64(waits[0]), float64(25*time.Millisecond))
	assert.InDelta(t, float64(400*time.Millisecond), float64(waits[1]), float64(100*time.Millisecond))
	assert.InDelta(t, float64(time.Second), float64(waits[2]), float64(250*time.Millisecond))
}

func TestRetryFailed_CanceledBackoffKeepsPreviousError(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{RetryBaseDelay: time.Hour})
	o.sleepFunc = timeSleep

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	prev := &Result{Attempts: []Attempt{{TargetID: "A", State: StateError, Tries: 1, Message: "busy"}}}
	tr := failing()

	res, err := o.RetryFailed(ctx, "p1", prev, testSchedules(), tr)
	require.NoError(t, err)
	assert.Empty(t, tr.targets())
	assert.Equal(t, prev.Attempts[0], res.Attempts[0])
}

func TestRetryFailed_NilPrevious(t *testing.T) {
	t.Parallel()

	_, err := newTestOrchestrator(OrchestratorConfig{}).RetryFailed(t.Context(), "p1", nil, testSchedules(), failing())
	assert.Error(t, err)
}

func TestRetryFailed_LogsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	o := newTestOrchestrator(OrchestratorConfig{
		Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	tr := failing("B")

	res, err := o.SyncAll(t.Context(), "p1", testSchedules(), []string{"A", "B"}, tr)
	require.NoError(t, err)

	_, err = o.RetryFailed(t.Context(), "p1", res, testSchedules(), tr)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "retrying node")
	assert.Contains(t, buf.String(), "node=B tries=1 consecutive_failures=1")
}

// --- SyncOne ---

func TestSyncOne(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})

	var got *schedule.SyncMessage

	tr := &mockTransport{sendFn: func(_ context.Context, _ string, msg *schedule.SyncMessage) (*transport.Ack, error) {
		got = msg
		return &transport.Ack{}, nil
	}}

	a := o.SyncOne(t.Context(), testSchedules(), "valve-1", tr)
	assert.Equal(t, StateSuccess, a.State)
	assert.Equal(t, "valve-1", a.TargetID)
	assert.Equal(t, 1, a.Tries)
	assert.False(t, a.FinishedAt.Before(a.StartedAt))

	require.NotNil(t, got)
	require.Len(t, got.Schedules, 2)
	assert.Equal(t, []uint8{0, 6}, got.Schedules[1].DaysOfWeek)
}

func TestSyncOne_ReportsProgress(t *testing.T) {
	t.Parallel()

	var states []State

	o := newTestOrchestrator(OrchestratorConfig{
		OnProgress: func(_ string, a Attempt) { states = append(states, a.State) },
	})

	a := o.SyncOne(t.Context(), testSchedules(), "valve-1", failing("valve-1"))
	assert.Equal(t, StateError, a.State)
	assert.Equal(t, []State{StateSyncing, StateError}, states)
}

func TestSyncOne_InvalidSchedules(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(OrchestratorConfig{})
	bad := testSchedules()
	bad[0].StartTime = "25:00"

	tr := failing()
	a := o.SyncOne(t.Context(), bad, "valve-1", tr)

	assert.Equal(t, StateError, a.State)
	assert.ErrorIs(t, a.Err, schedule.ErrInvalidSchedule)
	assert.Empty(t, tr.targets())
	assert.Equal(t, 0, a.Tries)
}
