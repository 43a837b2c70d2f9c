package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the configuration",
	Long: `Parses the configuration and checks it for structural problems:
unresolvable references, duplicate addresses, and dependency cycles.
No providers are contacted and no state is read.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfigArg(args)
	if err != nil {
		return err
	}

	if _, err := engine.BuildDAG(engine.ExpandForEach(cfg.Resources)); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid. %d resource(s), %d output(s).\n",
		len(cfg.Resources), len(cfg.Outputs))
	return nil
}
