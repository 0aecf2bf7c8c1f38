package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/railscope/internal/config"
	"github.com/blackwell-systems/railscope/internal/detect"
	"github.com/blackwell-systems/railscope/internal/output"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the project and railscope setup",
	Long: `Run a series of health checks against the current project and the
railscope configuration. Prints a pass/fail line for each check and a
summary of how many checks passed.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck holds the result of a single health check.
type doctorCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// doctorOutput is the JSON-serializable result of the doctor command.
type doctorOutput struct {
	Checks      []doctorCheck `json:"checks"`
	PassedCount int           `json:"passed"`
	TotalCount  int           `json:"total"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	applyColorPrefs()

	root, err := projectRoot()
	if err != nil {
		return err
	}
	root = detect.FindRailsRoot(root)
	result := detect.Inspect(root)

	var checks []doctorCheck

	checks = append(checks, check("rails app", result.Rails,
		fmt.Sprintf("found at %s", root),
		"no config/application.rb found; run from inside a Rails project"))

	_, cfgErr := config.Load(flagConfig)
	checks = append(checks, check("user config", cfgErr == nil,
		"loaded", fmt.Sprintf("failed to load: %v", cfgErr)))

	project, projErr := config.LoadProject(root)
	hasProcs := projErr == nil && (len(project.Processes) > 0 || len(detect.DefaultProcesses(result)) > 0)
	checks = append(checks, check("process list", hasProcs,
		"at least one process to run",
		"no .railscope.toml, Procfile, or detectable processes"))

	checks = append(checks, check("database config", result.DatabaseAdapter != "",
		fmt.Sprintf("adapter %s", result.DatabaseAdapter),
		"config/database.yml missing or has no adapter line"))

	dbURL := os.Getenv("DATABASE_URL")
	if projErr == nil && dbURL == "" {
		dbURL = project.SharedEnv["DATABASE_URL"]
	}
	checks = append(checks, check("explain support", dbURL != "",
		"DATABASE_URL is set; 'railscope explain' available",
		"DATABASE_URL not set; 'railscope explain' disabled"))

	_, gitErr := exec.LookPath("git")
	checks = append(checks, check("git", gitErr == nil,
		"installed", "not found on PATH; branch info disabled"))

	dbDir := filepath.Dir(config.DBPath())
	dirErr := os.MkdirAll(dbDir, 0o755)
	checks = append(checks, check("session database", dirErr == nil,
		fmt.Sprintf("writable at %s", config.DBPath()),
		fmt.Sprintf("cannot create %s: %v", dbDir, dirErr)))

	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(doctorOutput{
			Checks:      checks,
			PassedCount: passed,
			TotalCount:  len(checks),
		})
	}

	for _, c := range checks {
		mark := output.StyleSuccess.Render("✓")
		if !c.Passed {
			mark = output.StyleError.Render("✗")
		}
		fmt.Printf(" %s %-18s %s\n", mark, c.Name, output.StyleMuted.Render(c.Message))
	}
	fmt.Printf("\n %d/%d checks passed\n", passed, len(checks))
	return nil
}

func check(name string, ok bool, passMsg, failMsg string) doctorCheck {
	msg := passMsg
	if !ok {
		msg = failMsg
	}
	return doctorCheck{Name: name, Passed: ok, Message: msg}
}
