package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/engine"
	"github.com/skiff-io/skiff/internal/provider"
)

var (
	applyAutoApprove     bool
	applyTargets         []string
	applyContinueOnError bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Build or change infrastructure according to skiff configuration files.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to the given resource addresses")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying unaffected branches after a failure")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, wd, err := loadConfigArg(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	backend, err := openBackend(wd)
	if err != nil {
		return err
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

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
	eng.ContinueOnError = applyContinueOnError

	plan, err := eng.CreatePlanWithTargets(ctx, cfg, currentState, applyTargets)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("Skiff will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, renderApplyEvent)

	// Persist whatever converged, even on failure, so a rerun resumes
	// instead of repeating work.
	if err := backend.Write(ctx, newState); err != nil {
		if applyErr != nil {
			return fmt.Errorf("apply failed (%v) and state could not be written: %w", applyErr, err)
		}
		return fmt.Errorf("failed to write state: %w", err)
	}
	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Println("\nApply complete! Resources: " +
		fmt.Sprintf("%d added, %d changed, %d destroyed.", plan.Summary.Create, plan.Summary.Update, plan.Summary.Delete))

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}

func renderApplyEvent(ev engine.ApplyEvent) {
	switch ev.Status {
	case "started":
		fmt.Printf("%s: %s...\n", ev.Address, ev.Action)
	case "completed":
		fmt.Printf("%s: %s complete after %s\n", ev.Address, ev.Action, ev.Duration.Round(10*time.Millisecond))
	case "failed":
		fmt.Printf("%s: %s failed: %v\n", ev.Address, ev.Action, ev.Error)
	case "skipped":
		fmt.Printf("%s: skipped (dependency failed)\n", ev.Address)
	}
}
