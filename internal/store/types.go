// Package store provides SQLite persistence for end-of-session summaries,
// so `railscope report` can compare sessions over time. In-session state is
// never written here; only the final snapshot of a session is.
package store

import "time"

// Session is one recorded monitoring session.
type Session struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Project     string    `json:"project"`
	HealthScore int       `json:"health_score"`

	TotalQueries      int `json:"total_queries"`
	SlowQueries       int `json:"slow_queries"`
	SelectStarCount   int `json:"select_star_count"`
	MissingIndexHints int `json:"missing_index_hints"`
	RequestCount      int `json:"request_count"`
	ExceptionCount    int `json:"exception_count"`
	NPlusOneCount     int `json:"n_plus_one_count"`
}

// SlowQueryRow is one retained slow statement within a session.
type SlowQueryRow struct {
	ID        int64   `json:"id"`
	SessionID int64   `json:"session_id"`
	Raw       string  `json:"raw"`
	TableName string  `json:"table_name,omitempty"`
	MaxMs     float64 `json:"max_ms"`
	Count     int     `json:"count"`
}

// ExceptionRow is one exception group within a session.
type ExceptionRow struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Class     string `json:"class"`
	TopFrame  string `json:"top_frame"`
	Severity  string `json:"severity"`
	Count     int    `json:"count"`
}

// EndpointRowRecord is one endpoint aggregate within a session.
type EndpointRowRecord struct {
	ID           int64   `json:"id"`
	SessionID    int64   `json:"session_id"`
	Method       string  `json:"method"`
	PathTemplate string  `json:"path_template"`
	Count        int     `json:"count"`
	Errors       int     `json:"errors"`
	AvgMs        float64 `json:"avg_ms"`
}

// SessionDiff compares two sessions.
type SessionDiff struct {
	Previous *Session      `json:"previous"`
	Current  *Session      `json:"current"`
	Deltas   []MetricDelta `json:"deltas"`
}

// MetricDelta is the change in a single metric between sessions.
type MetricDelta struct {
	Name      string  `json:"name"`
	Previous  float64 `json:"previous"`
	Current   float64 `json:"current"`
	Delta     float64 `json:"delta"`
	Direction string  `json:"direction"` // "improved", "regressed", "unchanged"
}
