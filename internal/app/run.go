package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/railscope/internal/config"
	"github.com/blackwell-systems/railscope/internal/detect"
	"github.com/blackwell-systems/railscope/internal/exception"
	"github.com/blackwell-systems/railscope/internal/gitinfo"
	"github.com/blackwell-systems/railscope/internal/health"
	"github.com/blackwell-systems/railscope/internal/metrics"
	"github.com/blackwell-systems/railscope/internal/monitor"
	"github.com/blackwell-systems/railscope/internal/output"
	"github.com/blackwell-systems/railscope/internal/query"
	"github.com/blackwell-systems/railscope/internal/request"
	"github.com/blackwell-systems/railscope/internal/store"
	"github.com/blackwell-systems/railscope/internal/supervisor"
	"github.com/blackwell-systems/railscope/internal/testrun"
)

var (
	runRefresh time.Duration
	runOnly    []string
	runNoSave  bool
	runRaw     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a monitoring session for this project",
	Long: `Launch the project's development processes under railscope and watch
their output. Processes come from .railscope.toml, a Procfile, or
auto-detection, in that order. A status summary prints on an interval;
press ctrl-c to stop everything and save the session report.

Examples:
  railscope run                      # everything the project defines
  railscope run --only web,worker    # a subset of processes
  railscope run --refresh 5s         # status summary every 5 seconds`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().DurationVar(&runRefresh, "refresh", 10*time.Second, "Status summary interval")
	runCmd.Flags().StringSliceVar(&runOnly, "only", nil, "Run only the named processes")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Do not persist the session report")
	runCmd.Flags().BoolVar(&runRaw, "raw", false, "Echo raw process output")
	rootCmd.AddCommand(runCmd)
}

// session bundles everything one run owns.
type session struct {
	cfg     *config.Config
	root    string
	mon     *monitor.Monitor
	sup     *supervisor.Supervisor
	metrics *metrics.Store
	scorer  *health.Scorer
	started time.Time
}

func runSession(cmd *cobra.Command, args []string) error {
	applyColorPrefs()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	root, err := projectRoot()
	if err != nil {
		return err
	}
	root = detect.FindRailsRoot(root)

	project, err := config.LoadProject(root)
	if err != nil {
		return err
	}
	specs := project.Processes
	if len(specs) == 0 {
		specs = detect.DefaultProcesses(detect.Inspect(root))
	}
	specs = filterSpecs(specs, runOnly)
	if len(specs) == 0 {
		return errors.New("nothing to run: no .railscope.toml, Procfile, or detectable Rails app")
	}

	s := newSession(cfg, root)

	s.sup = supervisor.New(supervisor.Options{
		SharedEnv: project.SharedEnv,
		StopGrace: cfg.Policy.StopGrace,
		Output: func(process string, chunk []byte) {
			if runRaw {
				os.Stdout.Write(chunk)
			}
			s.mon.Consume(process, chunk)
		},
		OnState: func(process string, st supervisor.State, code int) {
			fmt.Printf("%s %s\n", output.StyleBold.Render(process), output.StateBadge(st, code))
			if st == supervisor.StateStopped || st == supervisor.StateCrashed {
				s.mon.ProcessStopped(process)
			}
		},
	})

	for _, spec := range specs {
		dir := spec.Dir
		if dir == "" {
			dir = root
		}
		if _, err := s.sup.Start(supervisor.Spec{
			Name:    spec.Name,
			Command: spec.Command,
			Dir:     dir,
			Env:     spec.Env,
		}); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Policy.StopGrace)
			defer cancel()
			_ = s.sup.StopAll(stopCtx)
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	sampler := metrics.NewSampler(s.metrics, s.sup.PIDs, cfg.Policy.SampleInterval)
	g.Go(func() error {
		err := sampler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := config.WatchProject(gctx, root,
			func(*config.Project) {
				fmt.Println(output.StyleWarning.Render("project config changed; restart railscope to apply"))
			},
			func(err error) {
				fmt.Fprintln(os.Stderr, "config watch:", err)
			})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(runRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.printStatus()
			}
		}
	})

	<-ctx.Done()
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Policy.StopGrace)
	defer cancel()
	if err := s.sup.StopAll(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stopping processes:", err)
	}
	_ = s.sup.Wait()
	_ = g.Wait()
	for _, p := range s.sup.Processes() {
		s.mon.ProcessStopped(p.Name())
	}

	s.printFinalReport()
	if !runNoSave {
		if err := s.persist(); err != nil {
			fmt.Fprintln(os.Stderr, "saving session:", err)
		}
	}
	return nil
}

func newSession(cfg *config.Config, root string) *session {
	pol := cfg.Policy
	analyzer := query.NewAnalyzer(query.Config{
		SlowQueryMs:       pol.SlowQueryMs,
		MissingIndexMs:    pol.MissingIndexMs,
		NPlusOneThreshold: pol.NPlusOneThreshold,
		FingerprintCap:    pol.FingerprintCap,
		EndpointCap:       pol.EndpointCap,
	})

	metricStore := metrics.NewStore(pol.MetricRingCapacity)

	mon := monitor.New(monitor.Options{
		Analyzer: analyzer,
		Requests: request.NewAggregator(pol.ContextRetention),
		Metrics:  metricStore,
		Exceptions: exception.NewGrouper(exception.Config{
			CriticalClasses: cfg.CriticalExceptions,
			LowClasses:      cfg.LowExceptions,
			ProjectRoot:     root,
			GroupCap:        pol.ExceptionGroupCap,
		}),
		Tests: testrun.NewTracker(0, 0),
	})

	scorer := health.NewScorer(health.Policy{
		LowWeight:      pol.Weights.Low,
		MediumWeight:   pol.Weights.Medium,
		HighWeight:     pol.Weights.High,
		CriticalWeight: pol.Weights.Critical,

		SlowMs:     pol.SlowQueryMs,
		VerySlowMs: pol.VerySlowQueryMs,
		CriticalMs: pol.CriticalQueryMs,

		SelectStarBonusRatio: health.DefaultPolicy().SelectStarBonusRatio,
		SelectStarBonus:      health.DefaultPolicy().SelectStarBonus,
		SlowBonusRatio:       health.DefaultPolicy().SlowBonusRatio,
		SlowBonus:            health.DefaultPolicy().SlowBonus,
	})

	return &session{
		cfg:     cfg,
		root:    root,
		mon:     mon,
		metrics: metricStore,
		scorer:  scorer,
		started: time.Now(),
	}
}

// printStatus renders the periodic summary: processes, health, and the
// noisiest findings.
func (s *session) printStatus() {
	now := time.Now()
	git := gitinfo.Describe(s.root)

	fmt.Println(output.Section("railscope"))
	if git.Branch != "" {
		line := git.Branch
		if git.Dirty > 0 {
			line += fmt.Sprintf(" +%d", git.Dirty)
		}
		if git.Ahead > 0 || git.Behind > 0 {
			line += fmt.Sprintf(" ↑%d ↓%d", git.Ahead, git.Behind)
		}
		fmt.Println(" " + output.StyleMuted.Render(line))
	}

	tbl := output.NewTable("PROCESS", "STATE", "UPTIME", "CPU", "RSS", "P95", "ERR").RightAlign(4, 5, 6)
	for _, p := range s.sup.Processes() {
		st, code := p.State()
		cpu := "-"
		if sample, ok := s.metrics.Latest(p.Name(), metrics.KindCPU); ok {
			cpu = fmt.Sprintf("%.0f%% %s", sample.Value, output.Sparkline(sparkValues(s.metrics, p.Name(), metrics.KindCPU)))
		}
		rss := "-"
		if sample, ok := s.metrics.Latest(p.Name(), metrics.KindRSS); ok {
			rss = fmt.Sprintf("%.0fMB", sample.Value/(1024*1024))
		}
		p95 := "-"
		if _, ok := s.metrics.Latest(p.Name(), metrics.KindLatencyMs); ok {
			p95 = output.Duration(s.metrics.Percentile(p.Name(), metrics.KindLatencyMs, 95))
		}
		errRate := "-"
		if sample, ok := s.metrics.Latest(p.Name(), metrics.KindErrorRate); ok {
			errRate = fmt.Sprintf("%.1f%%", sample.Value)
		}
		tbl.AddRow(p.Name(), output.StateBadge(st, code), p.Uptime(now).Truncate(time.Second).String(), cpu, rss, p95, errRate)
	}
	fmt.Println(tbl.Render())

	report := s.scorer.Compute(s.mon.Analyzer().Stats())
	fmt.Printf(" db health %s\n", output.ScoreBar(float64(report.Score), 20))
	for i, issue := range report.Issues {
		if i == 3 && !flagVerbose {
			fmt.Printf("   %s\n", output.StyleMuted.Render(fmt.Sprintf("... %d more issues", len(report.Issues)-i)))
			break
		}
		fmt.Printf("   %s %s\n", output.SeverityLabel(issue.Severity), issue.Description)
	}

	for _, cf := range s.mon.NPlusOne() {
		for _, f := range cf.Findings {
			fmt.Printf(" %s %s %s: %dx %s (%s wasted)\n",
				output.StyleError.Render("N+1"), cf.Method, cf.Path,
				f.Count, f.Fingerprint, output.Duration(f.WastedMs))
			if f.Suggestion != "" {
				fmt.Printf("     %s\n", output.StyleMuted.Render(f.Suggestion))
			}
		}
	}
}

// printFinalReport renders the end-of-session summary.
func (s *session) printFinalReport() {
	stats := s.mon.Analyzer().Stats()
	report := s.scorer.Compute(stats)

	fmt.Println(output.Section("session summary"))
	fmt.Printf(" duration   %s\n", time.Since(s.started).Truncate(time.Second))
	fmt.Printf(" queries    %d (%d slow)\n", stats.TotalQueries, stats.SlowQueries)
	fmt.Printf(" requests   %d\n", len(s.mon.Requests().Recent()))
	fmt.Printf(" db health  %s\n", output.ScoreBar(float64(report.Score), 20))

	if groups := s.mon.Exceptions().Groups(); len(groups) > 0 {
		fmt.Println(output.Section("exceptions"))
		tbl := output.NewTable("SEVERITY", "CLASS", "COUNT", "LOCATION").RightAlign(2)
		for _, grp := range groups {
			tbl.AddRow(output.SeverityLabel(grp.Severity), grp.Class, fmt.Sprintf("%d", grp.Count), grp.TopFrame)
		}
		fmt.Println(tbl.Render())
	}

	if snap := s.mon.Tests().Snapshot(); snap.LastRun != nil {
		fmt.Println(output.Section("tests"))
		run := snap.LastRun
		status := output.StyleSuccess.Render("passed")
		if !run.Passed() {
			status = output.StyleError.Render(fmt.Sprintf("%d failed", run.Failed+run.Errors))
		}
		fmt.Printf(" %s: %d examples, %s, %s\n", run.Framework, run.Total, status, output.Duration(run.DurationMs))
		for _, slow := range snap.Slowest {
			fmt.Printf("   slow: %s (%s)\n", slow.Name, output.Duration(slow.DurationMs))
		}
		for _, dbg := range snap.Debuggers {
			fmt.Printf("   %s %s at %s:%d\n", output.StyleWarning.Render("debugger"), dbg.Debugger, dbg.File, dbg.Line)
		}
	}
}

// persist writes the end-of-session snapshot for later comparison.
func (s *session) persist() error {
	db, err := store.Open(config.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	stats := s.mon.Analyzer().Stats()
	report := s.scorer.Compute(stats)

	var slow []store.SlowQueryRow
	for _, sample := range stats.SlowSamples {
		slow = append(slow, store.SlowQueryRow{
			Raw:       sample.Raw,
			TableName: sample.Table,
			MaxMs:     sample.MaxMs,
			Count:     sample.Count,
		})
	}

	var excs []store.ExceptionRow
	exceptionCount := 0
	for _, grp := range s.mon.Exceptions().Groups() {
		exceptionCount += grp.Count
		excs = append(excs, store.ExceptionRow{
			Class:    grp.Class,
			TopFrame: grp.TopFrame,
			Severity: grp.Severity.String(),
			Count:    grp.Count,
		})
	}

	var endpoints []store.EndpointRowRecord
	requestCount := 0
	for _, ep := range s.mon.Analyzer().Endpoints() {
		requestCount += ep.Count
		endpoints = append(endpoints, store.EndpointRowRecord{
			Method:       ep.Method,
			PathTemplate: ep.PathTemplate,
			Count:        ep.Count,
			Errors:       ep.Errors,
			AvgMs:        ep.AvgMs(),
		})
	}

	nPlusOne := 0
	for _, cf := range s.mon.NPlusOne() {
		nPlusOne += len(cf.Findings)
	}

	_, err = db.SaveSession(&store.Session{
		StartedAt:         s.started,
		EndedAt:           time.Now(),
		Project:           s.root,
		HealthScore:       report.Score,
		TotalQueries:      stats.TotalQueries,
		SlowQueries:       stats.SlowQueries,
		SelectStarCount:   stats.SelectStarCount,
		MissingIndexHints: stats.MissingIndexHints,
		RequestCount:      requestCount,
		ExceptionCount:    exceptionCount,
		NPlusOneCount:     nPlusOne,
	}, slow, excs, endpoints)
	return err
}

func filterSpecs(specs []config.ProcessSpec, only []string) []config.ProcessSpec {
	if len(only) == 0 {
		return specs
	}
	keep := make(map[string]bool, len(only))
	for _, name := range only {
		keep[name] = true
	}
	var out []config.ProcessSpec
	for _, spec := range specs {
		if keep[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}

func sparkValues(ms *metrics.Store, process string, kind metrics.Kind) []float64 {
	samples := ms.Sparkline(process, kind, 12)
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
