package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/config"
	"github.com/jonathan/session-runner/internal/lifecycle"
	"github.com/jonathan/session-runner/internal/observability"
	"github.com/spf13/cobra"
)

var (
	runUserID      string
	runSessionID   string
	runDatabaseURL string
	runListLimit   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect session runs",
}

var runInspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Print a run with its predicted path and progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's runs of one session, newest first",
	RunE:  runList,
}

func init() {
	runCmd.PersistentFlags().StringVar(&runUserID, "user", "", "Owning user ID (required)")
	runCmd.PersistentFlags().StringVar(&runDatabaseURL, "database-url", "", "PostgreSQL connection URL")
	runListCmd.Flags().StringVar(&runSessionID, "session", "", "Learning session ID (required)")
	runListCmd.Flags().IntVar(&runListLimit, "limit", 20, "Maximum number of runs to list")

	if err := runCmd.MarkPersistentFlagRequired("user"); err != nil {
		panic(fmt.Sprintf("failed to mark user flag as required: %v", err))
	}
	if err := runListCmd.MarkFlagRequired("session"); err != nil {
		panic(fmt.Sprintf("failed to mark session flag as required: %v", err))
	}

	runCmd.AddCommand(runInspectCmd, runListCmd)
	rootCmd.AddCommand(runCmd)
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return id, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	userID, err := parseID("user ID", runUserID)
	if err != nil {
		return err
	}
	runID, err := parseID("run ID", args[0])
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(config.Config{DatabaseURL: runDatabaseURL})
	if err != nil {
		return err
	}
	ctx := context.Background()
	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	var blueprints lifecycle.BlueprintProvider = database
	if cfg.BlueprintSource == config.BlueprintSourceFiles {
		blueprints = blueprint.NewFileProvider(cfg.BlueprintDir)
	}
	ctrl := lifecycle.New(database, database, blueprints, nil, lifecycle.Config{})

	snap, err := ctrl.GetRun(ctx, userID, runID)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintRun(snap.Run, snap.Progress)
	printer.PrintPath(snap.PredictedPath, snap.Run.CurrentStepID)
	if verbose {
		printer.PrintBlueprint(snap.Blueprint)
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	userID, err := parseID("user ID", runUserID)
	if err != nil {
		return err
	}
	sessionID, err := parseID("session ID", runSessionID)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(config.Config{DatabaseURL: runDatabaseURL})
	if err != nil {
		return err
	}
	ctx := context.Background()
	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListSessionRuns(ctx, userID, sessionID, runListLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN ID\tSTATUS\tSTEP\tUPDATED")
	for _, run := range runs {
		status := string(run.Status)
		if run.Abandoned() {
			status = "ABANDONED"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", run.ID, status, run.CurrentStepID, run.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
