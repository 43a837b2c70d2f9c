package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/config"
	"github.com/skiff-io/skiff/internal/engine"
	"github.com/skiff-io/skiff/internal/provider"
	"github.com/skiff-io/skiff/internal/runner"
)

var (
	upInstance    string
	upPlaybook    string
	upAutoApprove bool
)

var upCmd = &cobra.Command{
	Use:   "up [path]",
	Short: "Apply the configuration, then configure the resulting host",
	Long: `Converges the declared infrastructure and, once the compute
instance it produced is reachable, runs the playbook against it:

  skiff up --instance aws:EC2.Instance.web --playbook setup.yaml --user ubuntu --key ~/.ssh/id_ed25519

The playbook only starts after the instance's recorded public address
passes the readiness probe.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVar(&upInstance, "instance", "", "Address of the compute resource to configure (required)")
	upCmd.Flags().StringVar(&upPlaybook, "playbook", "", "Playbook to run against the instance (required)")
	upCmd.Flags().BoolVar(&upAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	upCmd.Flags().IntVar(&configurePort, "port", 22, "Target SSH port")
	upCmd.Flags().StringVar(&configureUser, "user", "root", "SSH user")
	upCmd.Flags().StringVar(&configureKeyPath, "key", "", "Path to the SSH private key")
	upCmd.Flags().StringVar(&configureBanner, "banner", "SSH-2.0", "Service banner the target must present before steps run")
	upCmd.Flags().DurationVar(&configureReadyTimeout, "ready-timeout", runner.DefaultReadyTimeout, "How long to wait for the target to become ready")
	upCmd.Flags().DurationVar(&configurePollInterval, "poll-interval", runner.DefaultPollInterval, "Delay between readiness probes")
	upCmd.MarkFlagRequired("instance")
	upCmd.MarkFlagRequired("playbook")
	upCmd.MarkFlagRequired("key")
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	playbook, err := config.LoadPlaybook(upPlaybook)
	if err != nil {
		return err
	}

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
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if len(plan.Changes) > 0 {
		fmt.Println("Skiff will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)

		if !upAutoApprove {
			fmt.Print("\nDo you want to perform these actions? (y/n): ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "yes" {
				fmt.Println("Up cancelled.")
				return nil
			}
		}

		fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))
		newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, renderApplyEvent)
		if err := backend.Write(ctx, newState); err != nil {
			if applyErr != nil {
				return fmt.Errorf("apply failed (%v) and state could not be written: %w", applyErr, err)
			}
			return fmt.Errorf("failed to write state: %w", err)
		}
		if applyErr != nil {
			return fmt.Errorf("apply failed: %w", applyErr)
		}
		currentState = newState
	} else {
		fmt.Println("No changes. Infrastructure is up-to-date.")
	}

	// Handoff: the instance's recorded public address becomes the
	// playbook target.
	target, err := runner.TargetFromState(currentState, upInstance, configureUser, configurePort)
	if err != nil {
		return err
	}
	target.Banner = configureBanner
	target.PrivateKeyPath = configureKeyPath

	return runPlaybook(cmd, target, playbook)
}
