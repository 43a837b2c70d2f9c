package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/config"
	"github.com/skiff-io/skiff/internal/runner"
	"github.com/skiff-io/skiff/internal/sshx"
)

var (
	configureHost         string
	configureFromState    string
	configurePort         int
	configureUser         string
	configureKeyPath      string
	configureBanner       string
	configureReadyTimeout time.Duration
	configurePollInterval time.Duration
)

var configureCmd = &cobra.Command{
	Use:   "configure <playbook.yaml>",
	Short: "Run a playbook against a host",
	Long: `Waits for a host to become ready, then executes the playbook's
steps against it in order over SSH.

The host is given either directly with --host, or with --from-state,
which reads the public address a previous apply recorded for a
compute resource:

  skiff configure --from-state aws:EC2.Instance.web --user ubuntu --key ~/.ssh/id_ed25519 setup.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureHost, "host", "", "Target host address")
	configureCmd.Flags().StringVar(&configureFromState, "from-state", "", "Resource address whose public_ip to target")
	configureCmd.Flags().IntVar(&configurePort, "port", 22, "Target SSH port")
	configureCmd.Flags().StringVar(&configureUser, "user", "root", "SSH user")
	configureCmd.Flags().StringVar(&configureKeyPath, "key", "", "Path to the SSH private key")
	configureCmd.Flags().StringVar(&configureBanner, "banner", "SSH-2.0", "Service banner the target must present before steps run")
	configureCmd.Flags().DurationVar(&configureReadyTimeout, "ready-timeout", runner.DefaultReadyTimeout, "How long to wait for the target to become ready")
	configureCmd.Flags().DurationVar(&configurePollInterval, "poll-interval", runner.DefaultPollInterval, "Delay between readiness probes")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	target, err := resolveTarget(cmd)
	if err != nil {
		return err
	}
	playbook, err := config.LoadPlaybook(args[0])
	if err != nil {
		return err
	}
	return runPlaybook(cmd, target, playbook)
}

// resolveTarget builds the runner target from the flags, resolving
// --from-state through the state backend.
func resolveTarget(cmd *cobra.Command) (runner.Target, error) {
	if configureHost == "" && configureFromState == "" {
		return runner.Target{}, fmt.Errorf("one of --host or --from-state is required")
	}
	if configureKeyPath == "" {
		return runner.Target{}, fmt.Errorf("--key is required")
	}

	target := runner.Target{
		Host:           configureHost,
		Port:           configurePort,
		User:           configureUser,
		Banner:         configureBanner,
		PrivateKeyPath: configureKeyPath,
	}

	if configureFromState != "" {
		backend, err := openStateBackend()
		if err != nil {
			return runner.Target{}, err
		}
		s, err := backend.Read(cmd.Context())
		if err != nil {
			return runner.Target{}, fmt.Errorf("failed to read state: %w", err)
		}
		fromState, err := runner.TargetFromState(s, configureFromState, configureUser, configurePort)
		if err != nil {
			return runner.Target{}, err
		}
		target.Host = fromState.Host
	}
	return target, nil
}

func runPlaybook(cmd *cobra.Command, target runner.Target, playbook *runner.Playbook) error {
	if playbook.User != "" && configureUser == "root" && !cmd.Flags().Changed("user") {
		target.User = playbook.User
	}
	if playbook.Port != 0 && !cmd.Flags().Changed("port") {
		target.Port = playbook.Port
	}

	r := runner.New(&sshx.Dialer{})
	r.ReadyTimeout = configureReadyTimeout
	r.PollInterval = configurePollInterval

	fmt.Printf("Configuring %s (playbook %q, %d steps)...\n", target.Addr(), playbook.Name, len(playbook.Steps))

	result, err := r.Run(cmd.Context(), target, playbook)
	for _, sr := range result.Steps {
		status := "ok"
		if sr.Skipped {
			status = "skipped"
		} else if sr.ExitCode != 0 {
			status = fmt.Sprintf("failed (exit %d)", sr.ExitCode)
		}
		fmt.Printf("  [%s] %s (as %s, %s)\n", status, sr.Name, sr.EffectiveUser, sr.Duration.Round(time.Millisecond))
	}

	if err != nil {
		return fmt.Errorf("configure %s: %w", result.Phase, err)
	}
	fmt.Printf("Configure complete: %s, %d step(s) in %s.\n", result.Phase, len(result.Steps), result.Elapsed.Round(time.Second))
	return nil
}
