package query

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/railscope/internal/event"
	"github.com/blackwell-systems/railscope/internal/severity"
)

func TestFingerprintNormalizesLiterals(t *testing.T) {
	a := Fingerprint("SELECT * FROM users WHERE id = 1")
	b := Fingerprint("SELECT * FROM users WHERE id = 2")
	require.Equal(t, a, b, "literal-only differences must share a fingerprint")

	c := Fingerprint("SELECT * FROM users WHERE id = 1 AND active = 'true'")
	require.NotEqual(t, a, c, "different clause structure must differ")
}

func TestFingerprintPlaceholdersStringsAndWhitespace(t *testing.T) {
	fp := Fingerprint("SELECT  *   FROM users WHERE id = $1 AND name = 'John'")
	require.Equal(t, "SELECT * FROM users WHERE id = ? AND name = ?", fp)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindSelect, KindOf("select * from x"))
	require.Equal(t, KindUpdate, KindOf("UPDATE x SET y = 1"))
	require.Equal(t, KindCommit, KindOf("COMMIT"))
	require.Equal(t, KindOther, KindOf("ALTER TABLE x"))
	require.True(t, KindOf("BEGIN").IsTransactionControl())
}

func TestExtractTable(t *testing.T) {
	require.Equal(t, "users", ExtractTable(`SELECT "users".* FROM "users" WHERE id = 1`))
	require.Equal(t, "posts", ExtractTable("UPDATE posts SET title = 'x'"))
	require.Equal(t, "comments", ExtractTable(`INSERT INTO "comments" (body) VALUES ('y')`))
	require.Equal(t, "", ExtractTable("COMMIT"))
}

func sqlEvent(raw string, ms float64) event.SqlQuery {
	return event.SqlQuery{Raw: raw, DurationMs: ms, At: time.Now()}
}

func TestAnalyzerAggregates(t *testing.T) {
	a := NewAnalyzer(Config{})

	a.Record(sqlEvent("SELECT * FROM users WHERE id = 1", 2))
	a.Record(sqlEvent("SELECT * FROM users WHERE id = 2", 4))
	a.Record(sqlEvent("SELECT * FROM users WHERE id = 3", 6))
	a.Record(sqlEvent("INSERT INTO posts (title) VALUES ('x')", 1))

	rows := a.Aggregates()
	require.Len(t, rows, 2)

	top := rows[0]
	require.Equal(t, 3, top.Count)
	require.Equal(t, 2.0, top.MinMs)
	require.Equal(t, 6.0, top.MaxMs)
	require.Equal(t, 4.0, top.AvgMs)
}

func TestAnalyzerFingerprintCapEvictsLeastRecentlyUpdated(t *testing.T) {
	a := NewAnalyzer(Config{FingerprintCap: 3})

	for i := 0; i < 3; i++ {
		a.Record(sqlEvent(fmt.Sprintf("SELECT * FROM t%d WHERE t%d.id = 1", i, i), 1))
	}
	// Touch t0 and t2 so t1 is the least recently updated.
	a.Record(sqlEvent("SELECT * FROM t0 WHERE t0.id = 2", 1))
	a.Record(sqlEvent("SELECT * FROM t2 WHERE t2.id = 2", 1))

	// A new distinct fingerprint evicts t1.
	a.Record(sqlEvent("SELECT * FROM fresh WHERE fresh.id = 1", 1))

	rows := a.Aggregates()
	require.Len(t, rows, 3)
	for _, row := range rows {
		require.NotContains(t, row.Fingerprint, "t1", "least recently updated entry should be evicted")
	}
}

func TestAnalyzerTransactionControlNotFingerprinted(t *testing.T) {
	a := NewAnalyzer(Config{})
	a.Record(sqlEvent("BEGIN", 0.1))
	a.Record(sqlEvent("COMMIT", 0.1))

	require.Empty(t, a.Aggregates())
	require.Equal(t, 2, a.Stats().TotalQueries)
}

func TestAnalyzerStats(t *testing.T) {
	a := NewAnalyzer(Config{})

	a.Record(sqlEvent("SELECT * FROM users", 5))
	a.Record(sqlEvent(`SELECT "posts".* FROM "posts" WHERE "posts"."user_id" = 7`, 150))
	a.Record(sqlEvent(`SELECT "posts".* FROM "posts" WHERE "posts"."user_id" = 7`, 180))

	stats := a.Stats()
	require.Equal(t, 3, stats.TotalQueries)
	require.Equal(t, 2, stats.SlowQueries)
	require.Equal(t, 1, stats.SelectStarCount)
	require.Equal(t, 2, stats.MissingIndexHints)
	require.Len(t, stats.SlowSamples, 1)
	require.Equal(t, 2, stats.SlowSamples[0].Count)
	require.Equal(t, 180.0, stats.SlowSamples[0].MaxMs)
	require.Equal(t, 2, stats.TableAccess["posts"])
}

func TestRecordRequestTemplatesAndCounts(t *testing.T) {
	a := NewAnalyzer(Config{})

	a.RecordRequest("GET", "/articles/5", 200, 30, 8)
	a.RecordRequest("GET", "/articles/9", 200, 50, 12)
	a.RecordRequest("GET", "/articles/9", 500, 90, 40)

	rows := a.Endpoints()
	require.Len(t, rows, 1)
	require.Equal(t, "/articles/:id", rows[0].PathTemplate)
	require.Equal(t, 3, rows[0].Count)
	require.Equal(t, 1, rows[0].Errors)
	require.InDelta(t, 56.66, rows[0].AvgMs(), 0.1)
	require.Equal(t, 60.0, rows[0].TotalDBMs)
}

func TestDetectNPlusOne(t *testing.T) {
	queries := []event.SqlQuery{
		sqlEvent(`SELECT "posts".* FROM "posts"`, 3),
	}
	for i := 1; i <= 7; i++ {
		queries = append(queries,
			sqlEvent(fmt.Sprintf(`SELECT "users".* FROM "users" WHERE "users"."id" = %d`, i), 2))
	}

	findings := DetectNPlusOne(queries, 3)
	require.Len(t, findings, 1)

	f := findings[0]
	require.Equal(t, 7, f.Count)
	require.Equal(t, 14.0, f.TotalMs)
	require.Equal(t, 12.0, f.WastedMs, "wasted time excludes the first (baseline) occurrence")
	require.Contains(t, f.Suggestion, "includes(:user)")
}

func TestDetectNPlusOneIgnoresNonSelect(t *testing.T) {
	var queries []event.SqlQuery
	for i := 0; i < 5; i++ {
		queries = append(queries, sqlEvent("INSERT INTO logs (line) VALUES ('x')", 1))
	}
	require.Empty(t, DetectNPlusOne(queries, 3))
}

func TestDetectNPlusOneBelowThreshold(t *testing.T) {
	queries := []event.SqlQuery{
		sqlEvent(`SELECT "users".* FROM "users" WHERE "users"."id" = 1`, 2),
		sqlEvent(`SELECT "users".* FROM "users" WHERE "users"."id" = 2`, 2),
	}
	require.Empty(t, DetectNPlusOne(queries, 3))
}

func TestRecommendSelectStarAndSlow(t *testing.T) {
	recs := Recommend(`SELECT * FROM users WHERE "users"."email" = 'a@b.c'`, 600, DefaultRecommendConfig())
	require.Len(t, recs, 2)

	var kinds []IssueKind
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
	}
	require.Contains(t, kinds, IssueSelectStar)
	require.Contains(t, kinds, IssueSlowQuery)

	for _, r := range recs {
		if r.Kind == IssueSlowQuery {
			require.Equal(t, severity.High, r.Severity)
			require.Equal(t, "add_index :users, :email", r.Migration)
		}
	}
}

func TestRecommendFastPlainQuery(t *testing.T) {
	recs := Recommend(`SELECT "users"."id" FROM "users" WHERE "users"."id" = 1`, 2, DefaultRecommendConfig())
	require.Empty(t, recs)
}

func TestTemplatePath(t *testing.T) {
	require.Equal(t, "/articles/:id", TemplatePath("/articles/5"))
	require.Equal(t, "/articles/:id/comments/:id", TemplatePath("/articles/5/comments/12"))
	require.Equal(t, "/users", TemplatePath("/users?page=2"))
}

func TestPercentileOfNearestRank(t *testing.T) {
	values := []float64{40, 10, 30, 20}

	require.Equal(t, 0.0, percentileOf(nil, 95))
	require.Equal(t, 10.0, percentileOf(values, 0))
	require.Equal(t, 20.0, percentileOf(values, 50))
	require.Equal(t, 30.0, percentileOf(values, 95))
	require.Equal(t, 40.0, percentileOf(values, 100))
}
