// Package app contains the Cobra command tree for railscope.
package app

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/railscope/internal/output"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
	flagConfig  string
	flagRoot    string
)

var rootCmd = &cobra.Command{
	Use:   "railscope",
	Short: "A development companion that watches your Rails processes",
	Long: `railscope supervises your development processes (Rails server, workers,
frontend build) and turns their raw output into structured insight: slow
queries, N+1 patterns, grouped exceptions, test results, and a live
0-100 database health score.

Run 'railscope run' inside a Rails project to start a session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("railscope", appVersion)
		fmt.Println()
		fmt.Println("Use a subcommand:")
		fmt.Println("  run       Start a monitoring session for this project")
		fmt.Println("  doctor    Check the project and railscope setup")
		fmt.Println("  report    Show and compare saved session reports")
		fmt.Println("  explain   Run EXPLAIN for a SQL statement against the dev database")
		return nil
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// applyColorPrefs disables styling for non-terminals and --no-color.
func applyColorPrefs() {
	if flagNoColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		output.SetNoColor(true)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/railscope/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "Project root (default: walk up from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")
}

// projectRoot resolves the project root from the flag or the working
// directory.
func projectRoot() (string, error) {
	if flagRoot != "" {
		return flagRoot, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return wd, nil
}
