package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gatemesh/pathsync/internal/schedule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessage(t *testing.T) *schedule.SyncMessage {
	t.Helper()

	return &schedule.SyncMessage{Schedules: []schedule.WireSchedule{
		{ID: "s1", Name: "Morning", Enabled: true, StartTimeMinutes: 360, DurationMinutes: 30, Repeat: 1, DaysOfWeek: []uint8{}},
		{ID: "s2", Name: "Evening", Enabled: true, StartTimeMinutes: 1200, DurationMinutes: 15, Repeat: 2, DaysOfWeek: []uint8{1, 3}},
	}}
}

func noSleep(context.Context, time.Duration) error { return nil }
