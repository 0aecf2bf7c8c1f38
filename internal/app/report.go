package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/railscope/internal/config"
	"github.com/blackwell-systems/railscope/internal/detect"
	"github.com/blackwell-systems/railscope/internal/output"
	"github.com/blackwell-systems/railscope/internal/store"
)

var (
	reportCompare bool
	reportLimit   int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show and compare saved session reports",
	Long: `Show the most recent saved session for this project, list recent
sessions, or compare the last two sessions to see whether database
health improved.

Examples:
  railscope report               # latest session
  railscope report --limit 10    # recent sessions
  railscope report --compare     # latest vs previous`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportCompare, "compare", false, "Compare the two most recent sessions")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "List the N most recent sessions")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	applyColorPrefs()

	root, err := projectRoot()
	if err != nil {
		return err
	}
	root = detect.FindRailsRoot(root)

	db, err := store.Open(config.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case reportCompare:
		return reportDiff(db, root)
	case reportLimit > 0:
		return reportList(db, root)
	default:
		return reportLatest(db, root)
	}
}

func reportLatest(db *store.DB, project string) error {
	s, err := db.LatestSession(project)
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Println("no saved sessions for this project; run 'railscope run' first")
		return nil
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(s)
	}

	fmt.Println(output.Section(fmt.Sprintf("session %d", s.ID)))
	fmt.Printf(" when       %s - %s\n", s.StartedAt.Local().Format("Jan 2 15:04"), s.EndedAt.Local().Format("15:04"))
	fmt.Printf(" db health  %s\n", output.ScoreBar(float64(s.HealthScore), 20))
	fmt.Printf(" queries    %d (%d slow, %d SELECT *)\n", s.TotalQueries, s.SlowQueries, s.SelectStarCount)
	fmt.Printf(" requests   %d\n", s.RequestCount)
	fmt.Printf(" exceptions %d\n", s.ExceptionCount)
	fmt.Printf(" N+1        %d\n", s.NPlusOneCount)

	slow, err := db.SlowQueries(s.ID)
	if err != nil {
		return err
	}
	if len(slow) > 0 {
		fmt.Println(output.Section("slow queries"))
		tbl := output.NewTable("MAX", "COUNT", "TABLE", "QUERY").RightAlign(0, 1)
		for _, q := range slow {
			tbl.AddRow(output.Duration(q.MaxMs), fmt.Sprintf("%d", q.Count), q.TableName, truncate(q.Raw, 60))
		}
		fmt.Println(tbl.Render())
	}

	endpoints, err := db.Endpoints(s.ID)
	if err != nil {
		return err
	}
	if len(endpoints) > 0 {
		fmt.Println(output.Section("endpoints"))
		tbl := output.NewTable("METHOD", "PATH", "COUNT", "ERRORS", "AVG").RightAlign(2, 3, 4)
		for _, ep := range endpoints {
			tbl.AddRow(ep.Method, ep.PathTemplate, fmt.Sprintf("%d", ep.Count), fmt.Sprintf("%d", ep.Errors), output.Duration(ep.AvgMs))
		}
		fmt.Println(tbl.Render())
	}
	return nil
}

func reportList(db *store.DB, project string) error {
	sessions, err := db.ListSessions(project, reportLimit)
	if err != nil {
		return err
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("no saved sessions for this project")
		return nil
	}

	tbl := output.NewTable("ID", "WHEN", "HEALTH", "QUERIES", "SLOW", "EXCEPTIONS").RightAlign(2, 3, 4, 5)
	for _, s := range sessions {
		tbl.AddRow(
			fmt.Sprintf("%d", s.ID),
			s.StartedAt.Local().Format("Jan 2 15:04"),
			fmt.Sprintf("%d", s.HealthScore),
			fmt.Sprintf("%d", s.TotalQueries),
			fmt.Sprintf("%d", s.SlowQueries),
			fmt.Sprintf("%d", s.ExceptionCount),
		)
	}
	fmt.Println(tbl.Render())
	return nil
}

func reportDiff(db *store.DB, project string) error {
	diff, err := db.Compare(project)
	if err != nil {
		return err
	}
	if diff == nil {
		fmt.Println("need at least two saved sessions to compare")
		return nil
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(diff)
	}

	fmt.Println(output.Section(fmt.Sprintf("session %d vs %d", diff.Current.ID, diff.Previous.ID)))
	tbl := output.NewTable("METRIC", "PREVIOUS", "CURRENT", "TREND").RightAlign(1, 2)
	for _, d := range diff.Deltas {
		higherIsBetter := d.Name == "health score"
		tbl.AddRow(d.Name,
			fmt.Sprintf("%.0f", d.Previous),
			fmt.Sprintf("%.0f", d.Current),
			output.TrendArrow(d.Delta, higherIsBetter))
	}
	fmt.Println(tbl.Render())
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
