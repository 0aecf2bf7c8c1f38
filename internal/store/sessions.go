package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveSession inserts a completed session with its detail rows in one
// transaction and returns the session ID.
func (db *DB) SaveSession(s *Session, slow []SlowQueryRow, excs []ExceptionRow, endpoints []EndpointRowRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO sessions
		(started_at, ended_at, project, health_score, total_queries, slow_queries,
		 select_star_count, missing_index_hints, request_count, exception_count, n_plus_one_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.StartedAt.UTC().Format(time.RFC3339), s.EndedAt.UTC().Format(time.RFC3339),
		s.Project, s.HealthScore, s.TotalQueries, s.SlowQueries,
		s.SelectStarCount, s.MissingIndexHints, s.RequestCount, s.ExceptionCount, s.NPlusOneCount,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, q := range slow {
		if _, err := tx.Exec(
			"INSERT INTO slow_queries (session_id, raw, table_name, max_ms, count) VALUES (?, ?, ?, ?, ?)",
			id, q.Raw, q.TableName, q.MaxMs, q.Count,
		); err != nil {
			return 0, fmt.Errorf("insert slow query: %w", err)
		}
	}
	for _, e := range excs {
		if _, err := tx.Exec(
			"INSERT INTO exceptions (session_id, class, top_frame, severity, count) VALUES (?, ?, ?, ?, ?)",
			id, e.Class, e.TopFrame, e.Severity, e.Count,
		); err != nil {
			return 0, fmt.Errorf("insert exception: %w", err)
		}
	}
	for _, ep := range endpoints {
		if _, err := tx.Exec(
			"INSERT INTO endpoints (session_id, method, path_template, count, errors, avg_ms) VALUES (?, ?, ?, ?, ?, ?)",
			id, ep.Method, ep.PathTemplate, ep.Count, ep.Errors, ep.AvgMs,
		); err != nil {
			return 0, fmt.Errorf("insert endpoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

const sessionColumns = `id, started_at, ended_at, project, health_score, total_queries,
	slow_queries, select_star_count, missing_index_hints, request_count, exception_count, n_plus_one_count`

// LatestSession returns the most recent session for a project, or nil if
// none exist. An empty project matches any.
func (db *DB) LatestSession(project string) (*Session, error) {
	return db.SessionN(project, 1)
}

// SessionN returns the Nth most recent session (1 = latest, 2 = previous).
func (db *DB) SessionN(project string, n int) (*Session, error) {
	q := "SELECT " + sessionColumns + " FROM sessions"
	args := []any{}
	if project != "" {
		q += " WHERE project = ?"
		args = append(args, project)
	}
	q += " ORDER BY id DESC LIMIT 1 OFFSET ?"
	args = append(args, n-1)
	return scanSession(db.conn.QueryRow(q, args...))
}

// ListSessions returns up to limit sessions for a project, newest first.
func (db *DB) ListSessions(project string, limit int) ([]Session, error) {
	q := "SELECT " + sessionColumns + " FROM sessions"
	args := []any{}
	if project != "" {
		q += " WHERE project = ?"
		args = append(args, project)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// SlowQueries returns the slow statements recorded for a session, worst
// first.
func (db *DB) SlowQueries(sessionID int64) ([]SlowQueryRow, error) {
	rows, err := db.conn.Query(
		"SELECT id, session_id, raw, table_name, max_ms, count FROM slow_queries WHERE session_id = ? ORDER BY max_ms DESC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SlowQueryRow
	for rows.Next() {
		var q SlowQueryRow
		var table sql.NullString
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Raw, &table, &q.MaxMs, &q.Count); err != nil {
			return nil, err
		}
		q.TableName = table.String
		out = append(out, q)
	}
	return out, rows.Err()
}

// Exceptions returns the exception groups recorded for a session.
func (db *DB) Exceptions(sessionID int64) ([]ExceptionRow, error) {
	rows, err := db.conn.Query(
		"SELECT id, session_id, class, top_frame, severity, count FROM exceptions WHERE session_id = ? ORDER BY count DESC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExceptionRow
	for rows.Next() {
		var e ExceptionRow
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Class, &e.TopFrame, &e.Severity, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Endpoints returns the endpoint aggregates recorded for a session.
func (db *DB) Endpoints(sessionID int64) ([]EndpointRowRecord, error) {
	rows, err := db.conn.Query(
		"SELECT id, session_id, method, path_template, count, errors, avg_ms FROM endpoints WHERE session_id = ? ORDER BY count DESC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EndpointRowRecord
	for rows.Next() {
		var ep EndpointRowRecord
		if err := rows.Scan(&ep.ID, &ep.SessionID, &ep.Method, &ep.PathTemplate, &ep.Count, &ep.Errors, &ep.AvgMs); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Compare diffs the two most recent sessions for a project. Returns nil
// when fewer than two exist.
func (db *DB) Compare(project string) (*SessionDiff, error) {
	current, err := db.SessionN(project, 1)
	if err != nil {
		return nil, err
	}
	previous, err := db.SessionN(project, 2)
	if err != nil {
		return nil, err
	}
	if current == nil || previous == nil {
		return nil, nil
	}

	diff := &SessionDiff{Previous: previous, Current: current}
	diff.Deltas = []MetricDelta{
		delta("health score", float64(previous.HealthScore), float64(current.HealthScore), true),
		delta("slow queries", float64(previous.SlowQueries), float64(current.SlowQueries), false),
		delta("SELECT * queries", float64(previous.SelectStarCount), float64(current.SelectStarCount), false),
		delta("missing index hints", float64(previous.MissingIndexHints), float64(current.MissingIndexHints), false),
		delta("exceptions", float64(previous.ExceptionCount), float64(current.ExceptionCount), false),
		delta("N+1 findings", float64(previous.NPlusOneCount), float64(current.NPlusOneCount), false),
	}
	return diff, nil
}

// delta builds a MetricDelta; higherIsBetter flips which direction counts
// as an improvement.
func delta(name string, prev, curr float64, higherIsBetter bool) MetricDelta {
	d := MetricDelta{Name: name, Previous: prev, Current: curr, Delta: curr - prev}
	switch {
	case d.Delta == 0:
		d.Direction = "unchanged"
	case (d.Delta > 0) == higherIsBetter:
		d.Direction = "improved"
	default:
		d.Direction = "regressed"
	}
	return d
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func scanSessionRow(row rowScanner) (*Session, error) {
	var s Session
	var startedAt, endedAt string
	err := row.Scan(&s.ID, &startedAt, &endedAt, &s.Project, &s.HealthScore,
		&s.TotalQueries, &s.SlowQueries, &s.SelectStarCount, &s.MissingIndexHints,
		&s.RequestCount, &s.ExceptionCount, &s.NPlusOneCount)
	if err != nil {
		return nil, err
	}
	s.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	s.EndedAt, _ = time.Parse(time.RFC3339, endedAt)
	return &s, nil
}
