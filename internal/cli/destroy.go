package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/engine"
	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys all resources tracked in the state file, in reverse
dependency order. This command is the inverse of 'skiff apply'.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	backend, err := openBackend(wd)
	if err != nil {
		return err
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadStateProviders(cmd, registry, currentState); err != nil {
		return err
	}

	// Planning against an empty configuration turns every tracked
	// resource into a deletion.
	eng := engine.NewEngine(registry)
	plan, err := eng.CreatePlan(ctx, &ir.Config{}, currentState)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}

	fmt.Println("Skiff will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, renderApplyEvent)
	if err := backend.Write(ctx, newState); err != nil {
		if applyErr != nil {
			return fmt.Errorf("destroy failed (%v) and state could not be written: %w", applyErr, err)
		}
		return fmt.Errorf("failed to write state: %w", err)
	}
	if applyErr != nil {
		return fmt.Errorf("destroy failed: %w", applyErr)
	}

	fmt.Printf("\nDestroy complete! %d resource(s) deleted.\n", plan.Summary.Delete)
	return nil
}
