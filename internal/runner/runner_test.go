package runner

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/store"
	"github.com/gatemesh/pathsync/internal/topology"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
type syncBuffer struct {
	mu  stdsync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type fixture struct {
	r      *Runner
	paths  *store.Updater
	engine *schedule.Engine
	reg    *registry.Static
	logs   *syncBuffer
	now    time.Time
}

func newFixture(t *testing.T, holder *config.Holder) *fixture {
	t.Helper()

	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	f := &fixture{
		paths:  store.NewUpdater(store.NewMemory()),
		engine: schedule.NewEngine(time.UTC),
		reg:    registry.NewStatic(nil),
		logs:   logs,
	}

	f.r = New(Config{
		Paths:        f.paths,
		Engine:       f.engine,
		Flow:         topology.NewFlowController(logger),
		Registry:     f.reg,
		Holder:       holder,
		TickInterval: time.Hour,
		Logger:       logger,
	})
	f.r.nowFunc = func() time.Time { return f.now }

	return f
}

func daily(name, at string, minutes int) schedule.Schedule {
	return schedule.Schedule{
		Name:            name,
		Enabled:         true,
		StartTime:       at,
		DurationMinutes: minutes,
		Repeat:          schedule.RepeatDaily,
		StartDate:       day,
	}
}

// seed stores a path with the first n of hg -> valve and the schedules.
func (f *fixture) seed(t *testing.T, id string, n int, scheds ...schedule.Schedule) {
	t.Helper()

	p := topology.NewPath(id, id)
	nodes := []topology.PathNode{
		{NodeID: "hg", Role: topology.RoleSource},
		{NodeID: "valve", Role: topology.RoleValve},
	}

	for _, node := range nodes[:n] {
		_, err := p.AddNode(node, nil)
		require.NoError(t, err)
	}

	for _, s := range scheds {
		_, err := p.AddSchedule(f.engine, s, day)
		require.NoError(t, err)
	}

	require.NoError(t, f.paths.Create(t.Context(), p))
}

func (f *fixture) path(t *testing.T, id string) *topology.Path {
	t.Helper()

	p, err := f.paths.Store().GetPath(t.Context(), id)
	require.NoError(t, err)

	return p
}

func TestTick_FiresAndStops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "p1", 2, daily("Morning", "06:00", 30))

	f.now = day.Add(5 * time.Hour)
	require.NoError(t, f.r.Tick(t.Context()))
	assert.Equal(t, topology.StatusIdle, f.path(t, "p1").Status, "not due yet")

	f.now = time.Date(2024, 5, 1, 6, 0, 10, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	p := f.path(t, "p1")
	assert.Equal(t, topology.StatusActive, p.Status)
	assert.True(t, p.IsFlowing)
	require.Len(t, p.Schedules, 1)
	assert.Equal(t, 1, p.Schedules[0].RunCount)
	assert.Equal(t, f.now, p.Schedules[0].LastRun)
	assert.Equal(t, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC), p.Schedules[0].NextRun)

	until, ok := f.r.Pending("p1")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(30*time.Minute), until)

	f.now = time.Date(2024, 5, 1, 6, 15, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	assert.True(t, f.path(t, "p1").IsFlowing)
	assert.Equal(t, 1, f.path(t, "p1").Schedules[0].RunCount, "no second fire within a run")

	f.now = time.Date(2024, 5, 1, 6, 31, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	p = f.path(t, "p1")
	assert.Equal(t, topology.StatusIdle, p.Status)
	assert.False(t, p.IsFlowing)

	_, ok = f.r.Pending("p1")
	assert.False(t, ok)
	assert.Contains(t, f.logs.String(), "scheduled run finished")
}

func TestTick_OverlappingSchedulesTakeLongestRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "p1", 2, daily("Short", "06:00", 30), daily("Long", "06:00", 45))

	f.now = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	until, ok := f.r.Pending("p1")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(45*time.Minute), until)

	for _, s := range f.path(t, "p1").Schedules {
		assert.Equal(t, 1, s.RunCount, s.Name)
	}
}

func TestTick_SingleNodeRecordsRunWithoutFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "solo", 1, daily("Morning", "06:00", 30))

	f.now = time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	p := f.path(t, "solo")
	assert.Equal(t, topology.StatusIdle, p.Status)
	assert.Equal(t, 1, p.Schedules[0].RunCount)

	_, ok := f.r.Pending("solo")
	assert.False(t, ok)
	assert.Contains(t, f.logs.String(), "scheduled run cannot flow")
}

func TestTick_DisabledScheduleNeverFires(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	s := daily("Off", "06:00", 30)
	s.Enabled = false
	f.seed(t, "p1", 2, s)

	f.now = time.Date(2024, 5, 3, 6, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	p := f.path(t, "p1")
	assert.Equal(t, topology.StatusIdle, p.Status)
	assert.Zero(t, p.Schedules[0].RunCount)
}

func TestTick_StopForDeletedPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "p1", 2, daily("Morning", "06:00", 30))

	f.now = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	require.NoError(t, f.paths.Delete(t.Context(), "p1"))

	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.r.Tick(t.Context()))

	_, ok := f.r.Pending("p1")
	assert.False(t, ok)
}

// restart replaces the runner with a fresh one over the same store, the
// way a daemon restart would.
func (f *fixture) restart() {
	r := New(f.r.cfg)
	r.nowFunc = func() time.Time { return f.now }
	f.r = r
}

func TestTick_RestartStopsElapsedRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "p1", 2, daily("Morning", "06:00", 30))

	f.now = time.Date(2024, 5, 1, 6, 0, 10, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	require.True(t, f.path(t, "p1").IsFlowing)

	f.restart()

	f.now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	p := f.path(t, "p1")
	assert.Equal(t, topology.StatusIdle, p.Status)
	assert.False(t, p.IsFlowing)
	assert.Equal(t, 1, p.Schedules[0].RunCount)

	_, ok := f.r.Pending("p1")
	assert.False(t, ok)
	assert.Contains(t, f.logs.String(), "resuming scheduled run")
	assert.Contains(t, f.logs.String(), "scheduled run finished")
}

func TestTick_RestartResumesRunInProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "p1", 2, daily("Short", "06:00", 30), daily("Long", "06:00", 45))

	f.now = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	f.restart()

	f.now = time.Date(2024, 5, 1, 6, 20, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	assert.True(t, f.path(t, "p1").IsFlowing)

	until, ok := f.r.Pending("p1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 45, 0, 0, time.UTC), until)

	f.now = time.Date(2024, 5, 1, 6, 46, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	assert.False(t, f.path(t, "p1").IsFlowing)
}

func TestTick_RestartLeavesManualFlowRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.seed(t, "p1", 2, daily("Morning", "06:00", 30))

	f.now = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))

	f.now = time.Date(2024, 5, 1, 6, 31, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	require.False(t, f.path(t, "p1").IsFlowing)

	f.now = time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	_, err := f.paths.Update(t.Context(), "p1", func(p *topology.Path) error {
		if err := f.r.cfg.Flow.Start(p); err != nil {
			return err
		}

		p.LastActivated = f.now

		return nil
	})
	require.NoError(t, err)

	f.restart()

	f.now = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.r.Tick(t.Context()))
	assert.True(t, f.path(t, "p1").IsFlowing, "a flow started by hand has no scheduled end")

	_, ok := f.r.Pending("p1")
	assert.False(t, ok)
}

const nodesConfig = `
[node.hg]
name = "North headgate"
capabilities = ["headgate-controller"]
online = true

[node.valve]
capabilities = ["gate-valve"]
online = false
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestReload_ReplacesNodesAndRefreshesStatus(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, t.TempDir(), nodesConfig)

	initial := config.DefaultConfig()
	initial.Store.Backend = store.BackendMemory
	holder := config.NewHolder(initial, cfgPath)

	f := newFixture(t, holder)
	f.seed(t, "p1", 2)

	f.r.Reload(t.Context())

	hg, ok := f.reg.Node("hg")
	require.True(t, ok)
	assert.Equal(t, "North headgate", hg.Name)
	assert.True(t, hg.Has(registry.CapHeadgateController))

	got := holder.Config()
	assert.Len(t, got.Nodes, 2)
	assert.Equal(t, store.BackendMemory, got.Store.Backend, "resolved settings survive a reload")

	p := f.path(t, "p1")
	valve, _ := p.Node("valve")
	head, _ := p.Node("hg")
	assert.Equal(t, topology.NodeOffline, valve.Status)
	assert.Equal(t, topology.NodeOK, head.Status)
}

func TestReload_InvalidFileKeepsNodes(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, t.TempDir(), "[node.hg]\nonline = true\nvolume = 3\n")

	initial := config.DefaultConfig()
	initial.Nodes["old"] = config.NodeConfig{Online: true}
	holder := config.NewHolder(initial, cfgPath)

	f := newFixture(t, holder)
	f.reg.Replace(initial.RegistryNodes())

	f.r.Reload(t.Context())

	_, ok := f.reg.Node("old")
	assert.True(t, ok)
	assert.Same(t, initial, holder.Config())
	assert.Contains(t, f.logs.String(), "config reload failed")
}

type mockWatcher struct {
	events chan fsnotify.Event
	errs   chan error

	mu    stdsync.Mutex
	added []string
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{
		events: make(chan fsnotify.Event, 4),
		errs:   make(chan error, 1),
	}
}

func (m *mockWatcher) Add(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.added = append(m.added, name)

	return nil
}

func (m *mockWatcher) Close() error                  { return nil }
func (m *mockWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockWatcher) Errors() <-chan error          { return m.errs }

func TestRun_ReloadsOnConfigWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	holder := config.NewHolder(config.DefaultConfig(), cfgPath)

	f := newFixture(t, holder)
	f.now = day

	w := newMockWatcher()
	f.r.newWatcher = func() (Watcher, error) { return w, nil }

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- f.r.Run(ctx) }()

	// Unrelated files in the directory are ignored.
	w.events <- fsnotify.Event{Name: filepath.Join(dir, "other.toml"), Op: fsnotify.Write}

	writeConfig(t, dir, nodesConfig)
	w.events <- fsnotify.Event{Name: cfgPath, Op: fsnotify.Write}

	require.Eventually(t, func() bool {
		_, ok := f.reg.Node("valve")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, []string{dir}, w.added)
}
