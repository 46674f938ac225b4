package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/config"
	"github.com/jonathan/session-runner/internal/observability"
	"github.com/jonathan/session-runner/internal/schemas"
	embedded "github.com/jonathan/session-runner/schemas"
	"github.com/spf13/cobra"
)

var blueprintCmd = &cobra.Command{
	Use:   "blueprint",
	Short: "Inspect, validate and import session blueprints",
}

var blueprintValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check blueprint files against the schema and the step graph rules",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBlueprintValidate,
}

var (
	pathInputs  string
	pathCurrent string
)

var blueprintPathCmd = &cobra.Command{
	Use:   "path <file>",
	Short: "Print the predicted step path of a blueprint for a set of inputs",
	Long:  "Resolves the path a learner would take through the blueprint given the answers in --inputs (a run inputs JSON document). Without inputs, branches fall back to their unconditional edges.",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlueprintPath,
}

var importDatabaseURL string

var blueprintImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Validate blueprint files and store them in the database",
	Long:  "Stores each valid blueprint. Blueprints are immutable: an id that already exists is left untouched and reported as skipped.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBlueprintImport,
}

func init() {
	blueprintPathCmd.Flags().StringVarP(&pathInputs, "inputs", "i", "", "Path to a run inputs JSON file")
	blueprintPathCmd.Flags().StringVar(&pathCurrent, "current", "", "Step id to mark as current")
	blueprintImportCmd.Flags().StringVar(&importDatabaseURL, "database-url", "", "PostgreSQL connection URL")

	blueprintCmd.AddCommand(blueprintValidateCmd, blueprintPathCmd, blueprintImportCmd)
	rootCmd.AddCommand(blueprintCmd)
}

// loadValidBlueprint parses a blueprint file and checks it against the JSON
// schema and the structural rules.
func loadValidBlueprint(path string) (*blueprint.Blueprint, error) {
	bp, err := blueprint.LoadFile(path)
	if err != nil {
		return nil, err
	}

	document, err := json.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blueprint %s: %w", path, err)
	}
	if err := schemas.ValidateDocument(embedded.Blueprint, document); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := blueprint.Validate(bp); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bp, nil
}

func runBlueprintValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		bp, err := loadValidBlueprint(path)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "✗ %v\n", err)
			continue
		}
		_, _ = fmt.Fprintf(out, "✓ %s (%s, %d steps)\n", path, bp.BlueprintID, len(bp.Steps))
		if verbose {
			observability.NewPrinter(out).PrintBlueprint(bp)
		}
	}

	if failed > 0 {
		return fmt.Errorf("validation failed for %d of %d blueprints", failed, len(args))
	}
	return nil
}

func runBlueprintPath(cmd *cobra.Command, args []string) error {
	bp, err := loadValidBlueprint(args[0])
	if err != nil {
		return err
	}

	inputs := blueprint.Inputs{}
	if pathInputs != "" {
		data, err := os.ReadFile(pathInputs)
		if err != nil {
			return fmt.Errorf("failed to read inputs file %s: %w", pathInputs, err)
		}
		if err := schemas.ValidateDocument(embedded.RunInputs, data); err != nil {
			return fmt.Errorf("%s: %w", pathInputs, err)
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return fmt.Errorf("failed to parse inputs file %s: %w", pathInputs, err)
		}
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	if verbose {
		printer.PrintBlueprint(bp)
	}
	printer.PrintPath(blueprint.PredictedPath(bp, inputs), pathCurrent)
	return nil
}

func runBlueprintImport(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(config.Config{DatabaseURL: importDatabaseURL})
	if err != nil {
		return err
	}

	// Validate everything before touching the database
	blueprints := make([]*blueprint.Blueprint, 0, len(args))
	for _, path := range args {
		bp, err := loadValidBlueprint(path)
		if err != nil {
			return err
		}
		blueprints = append(blueprints, bp)
	}

	ctx := context.Background()
	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	out := cmd.OutOrStdout()
	for _, bp := range blueprints {
		written, err := database.SaveBlueprint(ctx, bp)
		if err != nil {
			return err
		}
		if written {
			_, _ = fmt.Fprintf(out, "imported %s\n", bp.BlueprintID)
		} else {
			_, _ = fmt.Fprintf(out, "skipped %s (already exists)\n", bp.BlueprintID)
		}
	}
	return nil
}
