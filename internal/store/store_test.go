package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/topology"
)

var storeNow = time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func f64(v float64) *float64 { return &v }

// backends runs fn against a fresh instance of every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		fn(t, NewMemory())
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()

		s, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "paths.db"), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		fn(t, s)
	})
}

func samplePath(t *testing.T, id, name string) *topology.Path {
	t.Helper()

	p := topology.NewPath(id, name)
	p.FarmID = "farm-1"
	p.ZoneID = "zone-a"
	p.Description = "east ditch"
	p.MaxFlowRate = 400
	p.CreatedAt = storeNow
	p.UpdatedAt = storeNow

	for _, n := range []topology.PathNode{
		{NodeID: id + "-hg", Role: topology.RoleSource},
		{NodeID: id + "-pump", Role: topology.RolePump},
		{NodeID: id + "-valve", Role: topology.RoleValve},
	} {
		_, err := p.AddNode(n, nil)
		require.NoError(t, err)
	}

	c, err := p.AddConnection(id+"-hg", id+"-valve", topology.KindCanal)
	require.NoError(t, err)

	c.Size = f64(12)
	p.Connections[len(p.Connections)-1] = c

	_, err = p.AddSchedule(schedule.NewEngine(nil), schedule.Schedule{
		Name:            "Weekdays",
		Enabled:         true,
		StartTime:       "05:45",
		DurationMinutes: 90,
		Repeat:          schedule.RepeatWeekly,
		DaysOfWeek:      []int{1, 3, 5},
		StartDate:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC),
	}, storeNow)
	require.NoError(t, err)

	_, err = p.AddSchedule(schedule.NewEngine(nil), schedule.Schedule{
		Name:            "Flush",
		StartTime:       "22:00",
		DurationMinutes: 15,
		Repeat:          schedule.RepeatOnce,
		StartDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}, storeNow)
	require.NoError(t, err)

	return p
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		p := samplePath(t, "north", "North field")

		fc := topology.NewFlowController(testLogger())
		require.NoError(t, fc.Start(p))
		require.NoError(t, fc.ApplyMetrics(p, topology.MetricsUpdate{
			TotalFlowRate: f64(210.5),
			Nodes:         map[string]topology.NodeReading{"north-pump": {Pressure: f64(41)}},
		}))
		p.LastActivated = storeNow

		require.NoError(t, s.PutPath(ctx, p))

		got, err := s.GetPath(ctx, "north")
		require.NoError(t, err)

		if diff := cmp.Diff(p, got); diff != "" {
			t.Errorf("path mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		p := samplePath(t, "north", "North field")
		require.NoError(t, s.PutPath(ctx, p))

		p.Name = "mutated after save"

		got, err := s.GetPath(ctx, "north")
		require.NoError(t, err)
		assert.Equal(t, "North field", got.Name)

		got.Schedules[0].DaysOfWeek[0] = 6

		again, err := s.GetPath(ctx, "north")
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3, 5}, again.Schedules[0].DaysOfWeek)
	})
}

func TestStore_PutReplacesAggregate(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		p := samplePath(t, "north", "North field")
		require.NoError(t, s.PutPath(ctx, p))

		require.NoError(t, p.RemoveNode("north-pump"))
		require.NoError(t, p.RemoveSchedule(p.Schedules[1].ID))
		require.NoError(t, s.PutPath(ctx, p))

		got, err := s.GetPath(ctx, "north")
		require.NoError(t, err)

		assert.Equal(t, []string{"north-hg", "north-valve"}, got.NodeIDs())
		assert.Len(t, got.Connections, 1)
		assert.Len(t, got.Schedules, 1)
	})
}

func TestStore_RejectsInvalidPath(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		p := samplePath(t, "north", "North field")
		p.Nodes[1].Order = 0

		require.ErrorIs(t, s.PutPath(ctx, p), topology.ErrInvalidTopology)

		_, err := s.GetPath(ctx, "north")
		require.ErrorIs(t, err, ErrNotFound)
		require.Error(t, s.PutPath(ctx, nil))
	})
}

func TestStore_ScheduleIDsUniqueAcrossPaths(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		a := samplePath(t, "a", "A")
		require.NoError(t, s.PutPath(ctx, a))

		b := samplePath(t, "b", "B")
		b.Schedules[0].ID = a.Schedules[0].ID

		require.Error(t, s.PutPath(ctx, b))
	})
}

func TestStore_DeleteCascades(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		p := samplePath(t, "north", "North field")
		require.NoError(t, s.PutPath(ctx, p))

		require.NoError(t, s.DeletePath(ctx, "north"))
		require.ErrorIs(t, s.DeletePath(ctx, "north"), ErrNotFound)

		_, err := s.GetPath(ctx, "north")
		require.ErrorIs(t, err, ErrNotFound)

		// The schedule ids are free again.
		again := samplePath(t, "other", "Other")
		again.Schedules = p.Schedules
		require.NoError(t, s.PutPath(ctx, again))
	})
}

func TestStore_ListPathsFilters(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, s Store) {
		ctx := t.Context()

		north := samplePath(t, "north", "North field")
		south := samplePath(t, "south", "South field")
		south.ZoneID = "zone-b"
		orchard := samplePath(t, "orchard", "Apple orchard")
		orchard.FarmID = "farm-2"

		require.NoError(t, topology.NewFlowController(testLogger()).Start(south))

		for _, p := range []*topology.Path{north, south, orchard} {
			require.NoError(t, s.PutPath(ctx, p))
		}

		ids := func(f Filter) []string {
			paths, err := s.ListPaths(ctx, f)
			require.NoError(t, err)

			out := []string{}
			for _, p := range paths {
				out = append(out, p.ID)
			}

			return out
		}

		assert.Equal(t, []string{"orchard", "north", "south"}, ids(Filter{}), "sorted by name")
		assert.Equal(t, []string{"north", "south"}, ids(Filter{FarmID: "farm-1"}))
		assert.Equal(t, []string{"south"}, ids(Filter{FarmID: "farm-1", ZoneID: "zone-b"}))
		assert.Equal(t, []string{"south"}, ids(Filter{ActiveOnly: true}))
		assert.Equal(t, []string{"orchard"}, ids(Filter{NodeID: "orchard-pump"}))
		assert.Empty(t, ids(Filter{NodeID: "ghost"}))
	})
}

func TestOpen_Backends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m, err := Open(ctx, BackendMemory, "", testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, m)

	_, err = Open(ctx, "etcd", "", testLogger())
	require.Error(t, err)
}

func TestSQLite_SchemaVersionAndReopen(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "paths.db")

	s, err := OpenSQLite(ctx, dbPath, testLogger())
	require.NoError(t, err)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, s.PutPath(ctx, samplePath(t, "north", "North field")))
	require.NoError(t, s.Close())

	// Migrations are idempotent and data survives a reopen.
	s, err = OpenSQLite(ctx, dbPath, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p, err := s.GetPath(ctx, "north")
	require.NoError(t, err)
	assert.Len(t, p.Schedules, 2)
}
