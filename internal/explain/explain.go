// Package explain runs EXPLAIN for captured queries against the project's
// Postgres database and flags plan problems a missing index usually causes.
package explain

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/blackwell-systems/railscope/internal/query"
	"github.com/blackwell-systems/railscope/internal/severity"
)

var (
	seqScanPattern  = regexp.MustCompile(`Seq Scan on (\w+)`)
	costRowsPattern = regexp.MustCompile(`cost=([\d.]+)\.\.([\d.]+) rows=(\d+)`)
	filterPattern   = regexp.MustCompile(`Filter: (.+)`)
)

// Finding is one problem spotted in a plan.
type Finding struct {
	Severity severity.Level
	Message  string
}

// Plan is the raw EXPLAIN output plus derived findings.
type Plan struct {
	Query    string
	Lines    []string
	Findings []Finding
}

// Thresholds tune plan analysis.
type Thresholds struct {
	// HighCost flags plans whose top total cost exceeds it.
	HighCost float64
	// ManyRows flags nodes estimated to produce more rows than it.
	ManyRows int
}

// DefaultThresholds matches small development databases; production-sized
// tables would want larger values.
func DefaultThresholds() Thresholds {
	return Thresholds{HighCost: 1000, ManyRows: 10000}
}

// Executor holds an open Postgres connection for EXPLAIN runs.
type Executor struct {
	conn       *pgx.Conn
	thresholds Thresholds
}

// Connect dials the database. The connection is used only for EXPLAIN, so
// a single one suffices.
func Connect(ctx context.Context, databaseURL string, thresholds Thresholds) (*Executor, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Executor{conn: conn, thresholds: thresholds}, nil
}

// Close releases the connection.
func (e *Executor) Close(ctx context.Context) error {
	return e.conn.Close(ctx)
}

// Run executes EXPLAIN for one captured statement. Only read statements are
// accepted: EXPLAIN of a write would not execute it, but there is no reason
// to send writes at a database from a monitoring tool.
func (e *Executor) Run(ctx context.Context, sql string) (*Plan, error) {
	if query.KindOf(sql) != query.KindSelect {
		return nil, fmt.Errorf("refusing to explain non-SELECT statement")
	}

	rows, err := e.conn.Query(ctx, "EXPLAIN "+sql)
	if err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Plan{
		Query:    sql,
		Lines:    lines,
		Findings: AnalyzePlan(lines, e.thresholds),
	}, nil
}

// AnalyzePlan derives findings from EXPLAIN output lines.
func AnalyzePlan(lines []string, t Thresholds) []Finding {
	var findings []Finding

	for i, line := range lines {
		if m := seqScanPattern.FindStringSubmatch(line); m != nil {
			msg := fmt.Sprintf("sequential scan on %s", m[1])
			// A filter under a seq scan is the classic missing-index shape.
			if filter := adjacentFilter(lines, i); filter != "" {
				msg += fmt.Sprintf(", filtering on %s; an index would let this use an index scan", filter)
				findings = append(findings, Finding{Severity: severity.High, Message: msg})
				continue
			}
			findings = append(findings, Finding{Severity: severity.Medium, Message: msg})
		}

		if m := costRowsPattern.FindStringSubmatch(line); m != nil {
			total, _ := strconv.ParseFloat(m[2], 64)
			rows, _ := strconv.Atoi(m[3])
			if i == 0 && total > t.HighCost {
				findings = append(findings, Finding{
					Severity: severity.High,
					Message:  fmt.Sprintf("plan cost %.0f exceeds %.0f", total, t.HighCost),
				})
			}
			if rows > t.ManyRows {
				findings = append(findings, Finding{
					Severity: severity.Medium,
					Message:  fmt.Sprintf("node estimates %d rows; consider narrowing the query", rows),
				})
			}
		}
	}
	return findings
}

// adjacentFilter returns the filter expression directly under a plan node,
// if any.
func adjacentFilter(lines []string, node int) string {
	if node+1 >= len(lines) {
		return ""
	}
	if m := filterPattern.FindStringSubmatch(lines[node+1]); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
