package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/config"
	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/provider"
	"github.com/skiff-io/skiff/internal/state"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

// loadConfigArg resolves the optional positional argument into a
// configuration. A directory loads every .hcl file in it; a file
// loads just that file; no argument loads the working directory.
func loadConfigArg(args []string) (*ir.Config, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get working directory: %w", err)
	}

	if len(args) == 0 {
		cfg, err := config.LoadDir(wd)
		return cfg, wd, err
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}

	if info.IsDir() {
		cfg, err := config.LoadDir(absPath)
		return cfg, absPath, err
	}
	cfg, err := config.LoadFile(absPath)
	return cfg, filepath.Dir(absPath), err
}

// openBackend builds the state backend from the persistent flags.
func openBackend(wd string) (state.Backend, error) {
	cfg := &state.BackendConfig{Type: backendType, Config: map[string]string{}}
	for k, v := range backendConfig {
		cfg.Config[k] = v
	}
	if cfg.Type == "local" && cfg.Config["path"] == "" {
		path := statePath
		if path == "" {
			path = filepath.Join(wd, ".skiff", "state.json")
		}
		cfg.Config["path"] = path
	}
	return state.NewBackend(cfg)
}

// loadRequiredProviders auto-loads and configures all providers
// referenced by config resources.
func loadRequiredProviders(cmd *cobra.Command, registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := loadAndConfigure(cmd, registry, res.Provider); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadStateProviders auto-loads all providers referenced by state resources (needed for DELETE).
func loadStateProviders(cmd *cobra.Command, registry *provider.Registry, s *ir.State) error {
	seen := make(map[string]bool)
	for _, res := range s.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := loadAndConfigure(cmd, registry, res.Provider); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadAndConfigure(cmd *cobra.Command, registry *provider.Registry, name string) error {
	if err := registry.LoadProvider(name); err != nil {
		return fmt.Errorf("failed to load provider %s: %w", name, err)
	}
	settings := make(map[string]string)
	for key, value := range providerSettings {
		if prov, rest, ok := strings.Cut(key, "."); ok && prov == name {
			settings[rest] = value
		}
	}
	if len(settings) == 0 {
		return nil
	}
	p, err := registry.Get(name)
	if err != nil {
		return err
	}
	if err := p.Configure(cmd.Context(), settings); err != nil {
		return fmt.Errorf("failed to configure provider %s: %w", name, err)
	}
	return nil
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := "~"
		switch change.Action {
		case string(pv.ActionCreate):
			symbol = "+"
		case string(pv.ActionDelete):
			symbol = "-"
		case string(pv.ActionReplace):
			symbol = "-/+"
		case string(pv.ActionNoop):
			symbol = " "
		}

		color := "\033[0m"
		switch change.Action {
		case string(pv.ActionCreate):
			color = "\033[32m"
		case string(pv.ActionDelete):
			color = "\033[31m"
		case string(pv.ActionUpdate), string(pv.ActionReplace):
			color = "\033[33m"
		}

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, "\033[0m")
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)

		if len(change.Diff) > 0 {
			renderPropertyDiff(change, color)
		} else if change.Action == string(pv.ActionCreate) && change.Desired != nil {
			for k, v := range change.Desired.Properties {
				fmt.Printf("%s      + %s = %v\n", color, k, formatValue(v))
			}
		} else {
			fmt.Printf("%s      ...\n", color)
		}
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

// renderPropertyDiff prints structured property diffs.
func renderPropertyDiff(change *ir.ResourceChange, color string) {
	for key, diff := range change.Diff {
		switch diff.Action {
		case "create":
			fmt.Printf("\033[32m      + %s = %v\033[0m\n", key, formatValue(diff.After))
		case "delete":
			fmt.Printf("\033[31m      - %s = %v\033[0m\n", key, formatValue(diff.Before))
		case "update":
			fmt.Printf("\033[33m      ~ %s = %v -> %v\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After))
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}
