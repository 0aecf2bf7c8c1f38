package monitor_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/railscope/internal/metrics"
	"github.com/blackwell-systems/railscope/internal/monitor"
)

func feedLines(m *monitor.Monitor, process string, lines ...string) {
	m.Consume(process, []byte(strings.Join(lines, "\n")+"\n"))
}

func TestMonitorRequestFlow(t *testing.T) {
	m := monitor.New(monitor.Options{})

	feedLines(m, "web",
		`Started GET "/users/1" for 127.0.0.1 at 2026-08-29 10:00:00 +0000`,
		`User Load (150.0ms)  SELECT "users".* FROM "users" WHERE "users"."id" = 1 LIMIT 1`,
		`Completed 200 OK in 160.0ms (Views: 5.0ms | ActiveRecord: 150.0ms)`,
	)

	stats := m.Analyzer().Stats()
	require.Equal(t, 1, stats.TotalQueries)
	require.Equal(t, 1, stats.SlowQueries)

	endpoints := m.Analyzer().Endpoints()
	require.Len(t, endpoints, 1)
	require.Equal(t, "/users/:id", endpoints[0].PathTemplate)

	contexts := m.Requests().Recent()
	require.Len(t, contexts, 1)
	require.Len(t, contexts[0].Queries, 1)
}

func TestMonitorNPlusOneRecomputedOnRead(t *testing.T) {
	m := monitor.New(monitor.Options{})

	lines := []string{`Started GET "/posts" for 127.0.0.1 at 2026-08-29 10:00:00 +0000`}
	for i := 1; i <= 5; i++ {
		lines = append(lines, fmt.Sprintf(`User Load (2.0ms)  SELECT "users".* FROM "users" WHERE "users"."id" = %d LIMIT 1`, i))
	}
	lines = append(lines, `Completed 200 OK in 30.0ms (ActiveRecord: 10.0ms)`)
	feedLines(m, "web", lines...)

	findings := m.NPlusOne()
	require.Len(t, findings, 1)
	require.Equal(t, "/posts", findings[0].Path)
	require.Len(t, findings[0].Findings, 1)
	require.Equal(t, 5, findings[0].Findings[0].Count)

	// Derived views are stable across reads.
	require.Equal(t, findings, m.NPlusOne())
}

func TestMonitorProcessesAreIsolated(t *testing.T) {
	m := monitor.New(monitor.Options{})

	// A request split across two processes must not correlate.
	feedLines(m, "web", `Started GET "/a" for 127.0.0.1 at 2026-08-29 10:00:00 +0000`)
	feedLines(m, "worker", `Completed 200 OK in 5.0ms`)

	require.Equal(t, 1, m.Requests().Diag().DroppedCompletions)
	require.Empty(t, m.Requests().Recent())
}

func TestMonitorPartialChunksAcrossReads(t *testing.T) {
	m := monitor.New(monitor.Options{})

	m.Consume("web", []byte(`Started GET "/us`))
	m.Consume("web", []byte("ers/1\" for 127.0.0.1 at 2026-08-29 10:00:00 +0000\n"))
	m.Consume("web", []byte("Completed 200 OK in 8.0ms\n"))

	contexts := m.Requests().Recent()
	require.Len(t, contexts, 1)
	require.Equal(t, "/users/1", contexts[0].Path)
}

func TestMonitorExceptionAndTestEvents(t *testing.T) {
	m := monitor.New(monitor.Options{})

	feedLines(m, "web",
		"NoMethodError (undefined method `name' for nil):",
		"  app/models/user.rb:42:in `display_name'",
		"  app/controllers/users_controller.rb:10:in `show'",
		"",
	)
	feedLines(m, "test", "10 examples, 2 failures, 1 pending")

	groups := m.Exceptions().Groups()
	require.Len(t, groups, 1)
	require.Equal(t, "NoMethodError", groups[0].Class)

	snap := m.Tests().Snapshot()
	require.NotNil(t, snap.LastRun)
	require.Equal(t, 10, snap.LastRun.Total)
	require.Equal(t, 2, snap.LastRun.Failed)
}

func TestMonitorStartupErrorsRecorded(t *testing.T) {
	m := monitor.New(monitor.Options{})

	feedLines(m, "web", "ActiveRecord::PendingMigrationError: Migrations are pending")

	errs := m.StartupErrors("web")
	require.Len(t, errs, 1)
	require.NotEmpty(t, errs[0].Hint)
	require.Empty(t, m.StartupErrors("worker"))
}

func TestMonitorTailBounded(t *testing.T) {
	m := monitor.New(monitor.Options{TailCapacity: 3})

	for i := 0; i < 6; i++ {
		feedLines(m, "web", fmt.Sprintf("plain line %d", i))
	}

	tail := m.Tail("web", 10)
	require.Len(t, tail, 3)
	require.Equal(t, "plain line 3", tail[0])
	require.Equal(t, "plain line 5", tail[2])

	require.Nil(t, m.Tail("unknown", 5))
}

func TestMonitorFeedsLatencyAndErrorRateSeries(t *testing.T) {
	ms := metrics.NewStore(16)
	m := monitor.New(monitor.Options{Metrics: ms})

	feedLines(m, "web",
		`Started GET "/users" for 127.0.0.1 at 2026-08-29 10:00:00 +0000`,
		`Completed 200 OK in 40.0ms (ActiveRecord: 10.0ms)`,
		`Started GET "/users" for 127.0.0.1 at 2026-08-29 10:00:01 +0000`,
		`Completed 500 Internal Server Error in 80.0ms (ActiveRecord: 10.0ms)`,
	)

	latency, ok := ms.Latest("web", metrics.KindLatencyMs)
	require.True(t, ok)
	require.Equal(t, 80.0, latency.Value)
	require.Len(t, ms.Sparkline("web", metrics.KindLatencyMs, 10), 2)

	// One failure out of two completions.
	rate, ok := ms.Latest("web", metrics.KindErrorRate)
	require.True(t, ok)
	require.Equal(t, 50.0, rate.Value)

	// A completion with no open context records nothing.
	feedLines(m, "worker", `Completed 200 OK in 5.0ms`)
	_, ok = ms.Latest("worker", metrics.KindLatencyMs)
	require.False(t, ok)
}

func TestMonitorProcessStoppedFlushesPendingException(t *testing.T) {
	m := monitor.New(monitor.Options{})

	// The backtrace never terminates; stopping the process must still
	// deliver the exception.
	m.Consume("web", []byte("RuntimeError (boom):\n  app/models/user.rb:1:in `a'\n"))
	require.Empty(t, m.Exceptions().Groups())

	m.ProcessStopped("web")
	require.Len(t, m.Exceptions().Groups(), 1)
}
