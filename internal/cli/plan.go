package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/engine"
	"github.com/skiff-io/skiff/internal/provider"
)

var (
	planOutFile string
	planTargets []string
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions skiff will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated (with diff)
  • Resources to be deleted`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan to file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to the given resource addresses")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, wd, err := loadConfigArg(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	backend, err := openBackend(wd)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	if err := loadRequiredProviders(cmd, registry, cfg); err != nil {
		return err
	}

	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(cmd, registry, currentState); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, currentState, planTargets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
	} else {
		fmt.Println("Skiff will perform the following actions:")
		renderPlanChanges(plan)
	}
	renderPlanSummary(plan)

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	return nil
}
