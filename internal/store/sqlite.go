package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/topology"
)

// SQL statements for path persistence.
const (
	sqlGetPath = `SELECT id, name, description, farm_id, zone_id, status, is_flowing,
		total_flow_rate, total_pressure, total_volume_today, max_flow_rate, target_pressure,
		created_at, updated_at, last_activated
		FROM paths WHERE id = ?`

	sqlGetNodes = `SELECT node_id, ord, role, status, is_active, flow_rate, pressure
		FROM path_nodes WHERE path_id = ? ORDER BY ord`

	sqlGetConnections = `SELECT from_node, to_node, kind, size, length, is_flowing
		FROM path_connections WHERE path_id = ? ORDER BY position`

	sqlGetSchedules = `SELECT id, name, enabled, start_time, duration_minutes, repeat,
		days_of_week, start_date, end_date, last_run, next_run, run_count, created_at, updated_at
		FROM schedules WHERE path_id = ? ORDER BY position`

	sqlUpsertPath = `INSERT INTO paths
		(id, name, description, farm_id, zone_id, status, is_flowing,
		 total_flow_rate, total_pressure, total_volume_today, max_flow_rate, target_pressure,
		 created_at, updated_at, last_activated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 description = excluded.description,
		 farm_id = excluded.farm_id,
		 zone_id = excluded.zone_id,
		 status = excluded.status,
		 is_flowing = excluded.is_flowing,
		 total_flow_rate = excluded.total_flow_rate,
		 total_pressure = excluded.total_pressure,
		 total_volume_today = excluded.total_volume_today,
		 max_flow_rate = excluded.max_flow_rate,
		 target_pressure = excluded.target_pressure,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at,
		 last_activated = excluded.last_activated`

	// Connections go with their nodes through the foreign key cascade.
	sqlClearNodes     = `DELETE FROM path_nodes WHERE path_id = ?`
	sqlClearSchedules = `DELETE FROM schedules WHERE path_id = ?`

	sqlInsertNode = `INSERT INTO path_nodes
		(path_id, node_id, ord, role, status, is_active, flow_rate, pressure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertConnection = `INSERT INTO path_connections
		(path_id, from_node, to_node, kind, size, length, is_flowing, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertSchedule = `INSERT INTO schedules
		(id, path_id, position, name, enabled, start_time, duration_minutes, repeat,
		 days_of_week, start_date, end_date, last_run, next_run, run_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlDeletePath = `DELETE FROM paths WHERE id = ?`

	sqlListPathIDs = `SELECT id FROM paths`
)

// SQLite is a Store backed by a single SQLite database file. It is the sole
// writer to that file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("path store opened", slog.String("db_path", dbPath))

	return &SQLite{db: db, logger: logger}, nil
}

// SchemaVersion reports the applied migration version.
func (s *SQLite) SchemaVersion(ctx context.Context) (int64, error) {
	return schemaVersion(ctx, s.db)
}

// GetPath implements Store.
func (s *SQLite) GetPath(ctx context.Context, id string) (*topology.Path, error) {
	p := &topology.Path{}

	var (
		flowing                             int
		createdAt, updatedAt, lastActivated sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, sqlGetPath, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.FarmID, &p.ZoneID, &p.Status, &flowing,
		&p.Metrics.TotalFlowRate, &p.Metrics.TotalPressure, &p.Metrics.TotalVolumeToday,
		&p.MaxFlowRate, &p.TargetPressure, &createdAt, &updatedAt, &lastActivated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading path %q: %w", id, err)
	}

	p.IsFlowing = flowing != 0
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	p.LastActivated = fromNanos(lastActivated)

	if p.Nodes, err = s.loadNodes(ctx, id); err != nil {
		return nil, err
	}

	if p.Connections, err = s.loadConnections(ctx, id); err != nil {
		return nil, err
	}

	if p.Schedules, err = s.loadSchedules(ctx, id); err != nil {
		return nil, err
	}

	return p, nil
}

func (s *SQLite) loadNodes(ctx context.Context, pathID string) ([]topology.PathNode, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetNodes, pathID)
	if err != nil {
		return nil, fmt.Errorf("store: loading nodes of %q: %w", pathID, err)
	}
	defer rows.Close()

	nodes := []topology.PathNode{}

	for rows.Next() {
		var (
			n                  topology.PathNode
			active             int
			flowRate, pressure sql.NullFloat64
		)

		if err := rows.Scan(&n.NodeID, &n.Order, &n.Role, &n.Status, &active, &flowRate, &pressure); err != nil {
			return nil, fmt.Errorf("store: scanning node of %q: %w", pathID, err)
		}

		n.IsActive = active != 0
		n.FlowRate = fromNullFloat(flowRate)
		n.Pressure = fromNullFloat(pressure)
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating nodes of %q: %w", pathID, err)
	}

	return nodes, nil
}

func (s *SQLite) loadConnections(ctx context.Context, pathID string) ([]topology.Connection, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetConnections, pathID)
	if err != nil {
		return nil, fmt.Errorf("store: loading connections of %q: %w", pathID, err)
	}
	defer rows.Close()

	conns := []topology.Connection{}

	for rows.Next() {
		var (
			c            topology.Connection
			size, length sql.NullFloat64
			flowing      int
		)

		if err := rows.Scan(&c.From, &c.To, &c.Kind, &size, &length, &flowing); err != nil {
			return nil, fmt.Errorf("store: scanning connection of %q: %w", pathID, err)
		}

		c.Size = fromNullFloat(size)
		c.Length = fromNullFloat(length)
		c.IsFlowing = flowing != 0
		conns = append(conns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating connections of %q: %w", pathID, err)
	}

	return conns, nil
}

func (s *SQLite) loadSchedules(ctx context.Context, pathID string) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, sqlGetSchedules, pathID)
	if err != nil {
		return nil, fmt.Errorf("store: loading schedules of %q: %w", pathID, err)
	}
	defer rows.Close()

	out := []schedule.Schedule{}

	for rows.Next() {
		var (
			sc                                     schedule.Schedule
			enabled                                int
			repeat, days, startDate                string
			endDate                                sql.NullString
			lastRun, nextRun, createdAt, updatedAt sql.NullInt64
		)

		if err := rows.Scan(&sc.ID, &sc.Name, &enabled, &sc.StartTime, &sc.DurationMinutes, &repeat,
			&days, &startDate, &endDate, &lastRun, &nextRun, &sc.RunCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning schedule of %q: %w", pathID, err)
		}

		sc.Enabled = enabled != 0

		if sc.Repeat, err = schedule.ParseRepeat(repeat); err != nil {
			return nil, fmt.Errorf("store: schedule %q: %w", sc.ID, err)
		}

		if err := json.Unmarshal([]byte(days), &sc.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("store: schedule %q: decoding days: %w", sc.ID, err)
		}

		if len(sc.DaysOfWeek) == 0 {
			sc.DaysOfWeek = nil
		}

		if sc.StartDate, err = schedule.ParseDate(startDate); err != nil {
			return nil, fmt.Errorf("store: schedule %q: %w", sc.ID, err)
		}

		if endDate.Valid {
			if sc.EndDate, err = schedule.ParseDate(endDate.String); err != nil {
				return nil, fmt.Errorf("store: schedule %q: %w", sc.ID, err)
			}
		}

		sc.LastRun = fromNanos(lastRun)
		sc.NextRun = fromNanos(nextRun)
		sc.CreatedAt = fromNanos(createdAt)
		sc.UpdatedAt = fromNanos(updatedAt)
		out = append(out, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating schedules of %q: %w", pathID, err)
	}

	return out, nil
}

// PutPath implements Store. The aggregate is replaced in one transaction.
func (s *SQLite) PutPath(ctx context.Context, p *topology.Path) error {
	if err := checkPut(p); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlUpsertPath,
		p.ID, p.Name, p.Description, p.FarmID, p.ZoneID, string(p.Status), boolInt(p.IsFlowing),
		p.Metrics.TotalFlowRate, p.Metrics.TotalPressure, p.Metrics.TotalVolumeToday,
		p.MaxFlowRate, p.TargetPressure,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt), toNanos(p.LastActivated),
	); err != nil {
		return fmt.Errorf("store: saving path %q: %w", p.ID, err)
	}

	for _, q := range []string{sqlClearNodes, sqlClearSchedules} {
		if _, err := tx.ExecContext(ctx, q, p.ID); err != nil {
			return fmt.Errorf("store: clearing path %q: %w", p.ID, err)
		}
	}

	for _, n := range p.Nodes {
		if _, err := tx.ExecContext(ctx, sqlInsertNode,
			p.ID, n.NodeID, n.Order, string(n.Role), string(n.Status), boolInt(n.IsActive),
			toNullFloat(n.FlowRate), toNullFloat(n.Pressure),
		); err != nil {
			return fmt.Errorf("store: saving node %q of %q: %w", n.NodeID, p.ID, err)
		}
	}

	for i, c := range p.Connections {
		if _, err := tx.ExecContext(ctx, sqlInsertConnection,
			p.ID, c.From, c.To, string(c.Kind), toNullFloat(c.Size), toNullFloat(c.Length), boolInt(c.IsFlowing), i,
		); err != nil {
			return fmt.Errorf("store: saving connection %s -> %s of %q: %w", c.From, c.To, p.ID, err)
		}
	}

	for i := range p.Schedules {
		if err := insertSchedule(ctx, tx, p.ID, i, &p.Schedules[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing path %q: %w", p.ID, err)
	}

	return nil
}

func insertSchedule(ctx context.Context, tx *sql.Tx, pathID string, pos int, sc *schedule.Schedule) error {
	days := sc.DaysOfWeek
	if days == nil {
		days = []int{}
	}

	daysJSON, err := json.Marshal(days)
	if err != nil {
		return fmt.Errorf("store: schedule %q: encoding days: %w", sc.ID, err)
	}

	var endDate any
	if !sc.EndDate.IsZero() {
		endDate = schedule.FormatDate(sc.EndDate)
	}

	if _, err := tx.ExecContext(ctx, sqlInsertSchedule,
		sc.ID, pathID, pos, sc.Name, boolInt(sc.Enabled), sc.StartTime, sc.DurationMinutes, sc.Repeat.String(),
		string(daysJSON), schedule.FormatDate(sc.StartDate), endDate,
		toNanos(sc.LastRun), toNanos(sc.NextRun), sc.RunCount, toNanos(sc.CreatedAt), toNanos(sc.UpdatedAt),
	); err != nil {
		return fmt.Errorf("store: saving schedule %q of %q: %w", sc.ID, pathID, err)
	}

	return nil
}

// DeletePath implements Store. Nodes, connections and schedules go with the
// path through foreign key cascades.
func (s *SQLite) DeletePath(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlDeletePath, id)
	if err != nil {
		return fmt.Errorf("store: deleting path %q: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: deleting path %q: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	s.logger.Debug("path deleted", slog.String("path", id))

	return nil
}

// ListPaths implements Store.
func (s *SQLite) ListPaths(ctx context.Context, f Filter) ([]*topology.Path, error) {
	query, args := listQuery(f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing paths: %w", err)
	}

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scanning path id: %w", err)
		}

		ids = append(ids, id)
	}

	// Close before loading: the pool has a single connection.
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing paths: %w", err)
	}

	out := make([]*topology.Path, 0, len(ids))

	for _, id := range ids {
		p, err := s.GetPath(ctx, id)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	sortPaths(out)

	return out, nil
}

func listQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)

	if f.FarmID != "" {
		where = append(where, "farm_id = ?")
		args = append(args, f.FarmID)
	}

	if f.ZoneID != "" {
		where = append(where, "zone_id = ?")
		args = append(args, f.ZoneID)
	}

	if f.ActiveOnly {
		where = append(where, "status = 'active'")
	}

	if f.NodeID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM path_nodes n WHERE n.path_id = paths.id AND n.node_id = ?)")
		args = append(args, f.NodeID)
	}

	if len(where) == 0 {
		return sqlListPathIDs, nil
	}

	return sqlListPathIDs + " WHERE " + strings.Join(where, " AND "), args
}

// Close implements Store.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// toNanos stores zero times as NULL.
func toNanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UnixNano()
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return time.Unix(0, n.Int64).UTC()
}

func toNullFloat(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}

	f := v.Float64

	return &f
}
