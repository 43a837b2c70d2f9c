package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage skiff state",
	Long:  `Commands for inspecting and modifying skiff state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func openStateBackend() (state.Backend, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return openBackend(wd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	backend, err := openStateBackend()
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		fmt.Printf("  %s (provider: %s)\n", res.Addr(), res.Provider)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	backend, err := openStateBackend()
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := s.Lookup(args[0])
	if res == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}

	fmt.Printf("# %s\n", res.Addr())
	fmt.Printf("  provider = %s\n", res.Provider)
	fmt.Printf("  type     = %s\n", res.Type)
	fmt.Printf("  name     = %s\n", res.Name)

	if len(res.Inputs) > 0 {
		fmt.Println("\n  Inputs:")
		for k, v := range res.Inputs {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}
	if len(res.Outputs) > 0 {
		fmt.Println("\n  Outputs:")
		for k, v := range res.Outputs {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}
	if len(res.Dependencies) > 0 {
		fmt.Println("\n  Dependencies:")
		for _, dep := range res.Dependencies {
			fmt.Printf("    %s\n", dep)
		}
	}
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	backend, err := openStateBackend()
	if err != nil {
		return err
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	newResources := make([]*ir.ResourceState, 0, len(s.Resources))
	found := false
	for _, res := range s.Resources {
		if res.Addr() == target {
			found = true
			continue
		}
		newResources = append(newResources, res)
	}
	if !found {
		return fmt.Errorf("resource %s not found in state", target)
	}

	s.Resources = newResources
	if err := backend.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}
