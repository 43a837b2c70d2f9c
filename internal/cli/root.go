package cli

import (
	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/logging"
)

var (
	logLevel         string
	statePath        string
	backendType      string
	backendConfig    map[string]string
	providerSettings map[string]string
)

var rootCmd = &cobra.Command{
	Use:   "skiff",
	Short: "Declarative infrastructure convergence and host bring-up",
	Long: `Skiff converges declared infrastructure against recorded state and
brings the resulting hosts into service.

It provides:
  • Dependency-ordered create/update/replace/delete convergence
  • Parallel apply across independent resource branches
  • Readiness-gated playbook runs against provisioned hosts
  • Local or S3-backed state with locking`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Path to the state file (default .skiff/state.json)")
	rootCmd.PersistentFlags().StringVar(&backendType, "backend", "local", "State backend (local, s3)")
	rootCmd.PersistentFlags().StringToStringVar(&backendConfig, "backend-config", nil, "Backend settings (format: key=value)")
	rootCmd.PersistentFlags().StringToStringVar(&providerSettings, "provider-setting", nil, "Provider settings (format: provider.key=value)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(versionCmd)
}
