package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/railscope/internal/config"
	"github.com/blackwell-systems/railscope/internal/detect"
	"github.com/blackwell-systems/railscope/internal/explain"
	"github.com/blackwell-systems/railscope/internal/output"
)

var explainCmd = &cobra.Command{
	Use:   "explain [sql]",
	Short: "Run EXPLAIN for a SQL statement against the dev database",
	Long: `Connect to the database named by DATABASE_URL (or database_url in the
railscope config) and run EXPLAIN for the given SELECT statement,
flagging sequential scans and expensive plan nodes.

Example:
  railscope explain 'SELECT * FROM users WHERE email = $1'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExplain,
}

func init() {
	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, args []string) error {
	applyColorPrefs()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		project, err := config.LoadProject(detect.FindRailsRoot(root))
		if err == nil {
			dbURL = project.SharedEnv["DATABASE_URL"]
		}
	}
	if dbURL == "" {
		return errors.New("no database configured: set DATABASE_URL or database_url in the railscope config")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	exec, err := explain.Connect(ctx, dbURL, explain.DefaultThresholds())
	if err != nil {
		return err
	}
	defer exec.Close(context.Background())

	plan, err := exec.Run(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(plan)
	}

	fmt.Println(output.Section("plan"))
	for _, line := range plan.Lines {
		fmt.Println(" " + line)
	}
	if len(plan.Findings) == 0 {
		fmt.Println("\n " + output.StyleSuccess.Render("no problems found"))
		return nil
	}
	fmt.Println(output.Section("findings"))
	for _, f := range plan.Findings {
		fmt.Printf(" %s %s\n", output.SeverityLabel(f.Severity), f.Message)
	}
	return nil
}
