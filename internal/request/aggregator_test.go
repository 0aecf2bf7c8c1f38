package request_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/railscope/internal/classify"
	"github.com/blackwell-systems/railscope/internal/event"
	"github.com/blackwell-systems/railscope/internal/query"
	"github.com/blackwell-systems/railscope/internal/request"
)

func TestAggregatorBasicLifecycle(t *testing.T) {
	agg := request.NewAggregator(10)

	evicted := agg.OnStarted("web", event.RequestStarted{Method: "GET", Path: "/users/1", At: time.Now()})
	require.Nil(t, evicted)

	agg.OnQuery("web", event.SqlQuery{Raw: "SELECT 1", DurationMs: 2})
	closed := agg.OnCompleted("web", event.RequestCompleted{Status: 200, DurationMs: 12, ViewMs: 5, DBMs: 2})
	require.NotNil(t, closed)
	require.Equal(t, 200, closed.Status)
	require.Equal(t, "/users/1", closed.Path)
	require.Len(t, closed.Queries, 1)
	require.False(t, closed.Unterminated)
	require.InDelta(t, 2.0, closed.QueryTimeMs(), 0.001)

	require.Nil(t, agg.Open("web"))
	require.Len(t, agg.Recent(), 1)
}

func TestAggregatorForceClosesOnDoubleStart(t *testing.T) {
	agg := request.NewAggregator(10)

	agg.OnStarted("web", event.RequestStarted{Method: "GET", Path: "/a"})
	agg.OnQuery("web", event.SqlQuery{Raw: "SELECT 1", DurationMs: 1})

	evicted := agg.OnStarted("web", event.RequestStarted{Method: "GET", Path: "/b"})
	require.NotNil(t, evicted)
	require.Equal(t, "/a", evicted.Path)
	require.True(t, evicted.Unterminated)
	require.Len(t, evicted.Queries, 1)

	// The evicted context lands in the ring and the new one is open.
	recent := agg.Recent()
	require.Len(t, recent, 1)
	require.True(t, recent[0].Unterminated)
	open := agg.Open("web")
	require.NotNil(t, open)
	require.Equal(t, "/b", open.Path)
	require.Equal(t, 1, agg.Diag().ForceClosed)
}

func TestAggregatorCompletionWhileIdleIsDropped(t *testing.T) {
	agg := request.NewAggregator(10)
	require.Nil(t, agg.OnCompleted("web", event.RequestCompleted{Status: 200}))
	require.Equal(t, 1, agg.Diag().DroppedCompletions)
	require.Empty(t, agg.Recent())
}

func TestAggregatorQueryWhileIdleIsCounted(t *testing.T) {
	agg := request.NewAggregator(10)
	agg.OnQuery("worker", event.SqlQuery{Raw: "SELECT 1"})
	require.Equal(t, 1, agg.Diag().OrphanQueries)
}

func TestAggregatorRingEviction(t *testing.T) {
	agg := request.NewAggregator(3)
	for i := 0; i < 5; i++ {
		agg.OnStarted("web", event.RequestStarted{Method: "GET", Path: fmt.Sprintf("/p/%d", i)})
		agg.OnCompleted("web", event.RequestCompleted{Status: 200})
	}
	recent := agg.Recent()
	require.Len(t, recent, 3)
	require.Equal(t, "/p/2", recent[0].Path)
	require.Equal(t, "/p/4", recent[2].Path)
}

func TestAggregatorProcessesAreIndependent(t *testing.T) {
	agg := request.NewAggregator(10)
	agg.OnStarted("web", event.RequestStarted{Method: "GET", Path: "/web"})
	agg.OnStarted("admin", event.RequestStarted{Method: "GET", Path: "/admin"})
	agg.OnQuery("admin", event.SqlQuery{Raw: "SELECT 1"})

	closed := agg.OnCompleted("web", event.RequestCompleted{Status: 200})
	require.NotNil(t, closed)
	require.Empty(t, closed.Queries)
	require.Equal(t, request.Diagnostics{}, agg.Diag())

	open := agg.Open("admin")
	require.NotNil(t, open)
	require.Len(t, open.Queries, 1)
}

// Feed a realistic Rails log through the classifier and aggregator, then run
// N+1 detection over each closed context. Two of the four requests exhibit
// repeated lookups and exactly those two should surface.
func TestEndToEndRequestScenario(t *testing.T) {
	var lines []string

	// Simple lookup, no repetition.
	lines = append(lines,
		`Started GET "/users/1" for 127.0.0.1 at 2026-08-29 10:00:00 +0000`,
		`User Load (2.0ms)  SELECT "users".* FROM "users" WHERE "users"."id" = 1 LIMIT 1`,
		`Completed 200 OK in 12.0ms (Views: 5.0ms | ActiveRecord: 2.0ms)`,
	)

	// Classic N+1: one posts load, then a user lookup per post.
	lines = append(lines, `Started GET "/posts" for 127.0.0.1 at 2026-08-29 10:00:01 +0000`)
	lines = append(lines, `Post Load (3.0ms)  SELECT "posts".* FROM "posts"`)
	for i := 1; i <= 7; i++ {
		lines = append(lines, fmt.Sprintf(`User Load (2.0ms)  SELECT "users".* FROM "users" WHERE "users"."id" = %d LIMIT 1`, i))
	}
	lines = append(lines, `Completed 200 OK in 40.0ms (Views: 15.0ms | ActiveRecord: 17.0ms)`)

	// Write path: transaction control must not count toward detection.
	lines = append(lines,
		`Started POST "/posts" for 127.0.0.1 at 2026-08-29 10:00:02 +0000`,
		`TRANSACTION (0.1ms)  BEGIN`,
		`Post Create (1.5ms)  INSERT INTO "posts" ("title") VALUES ('hello')`,
		`TRANSACTION (0.5ms)  COMMIT`,
		`Completed 302 Found in 15.0ms (ActiveRecord: 2.1ms)`,
	)

	// Smaller N+1 on comment lookups.
	lines = append(lines, `Started GET "/articles/5" for 127.0.0.1 at 2026-08-29 10:00:03 +0000`)
	for i := 1; i <= 4; i++ {
		lines = append(lines, fmt.Sprintf(`Comment Load (1.0ms)  SELECT "comments".* FROM "comments" WHERE "comments"."post_id" = %d`, i))
	}
	lines = append(lines, `Completed 200 OK in 20.0ms (Views: 10.0ms | ActiveRecord: 4.0ms)`)

	cls := classify.New(classify.Options{})
	agg := request.NewAggregator(50)
	for _, ev := range cls.Feed([]byte(strings.Join(lines, "\n") + "\n")) {
		switch e := ev.(type) {
		case event.RequestStarted:
			agg.OnStarted("web", e)
		case event.RequestCompleted:
			agg.OnCompleted("web", e)
		case event.SqlQuery:
			agg.OnQuery("web", e)
		}
	}

	contexts := agg.Recent()
	require.Len(t, contexts, 4)
	require.Equal(t, request.Diagnostics{}, agg.Diag())

	var findings []query.Finding
	for _, ctx := range contexts {
		findings = append(findings, query.DetectNPlusOne(ctx.Queries, 3)...)
	}
	require.Len(t, findings, 2)
	require.Equal(t, 7, findings[0].Count)
	require.Contains(t, findings[0].Fingerprint, "users")
	require.Equal(t, 4, findings[1].Count)
	require.Contains(t, findings[1].Fingerprint, "comments")
}
