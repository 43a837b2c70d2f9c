package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/provider"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Update state to match real infrastructure",
	Long: `Reads the current attributes of every managed resource from its
provider and updates the state file to reflect actual infrastructure.

This detects drift between what skiff recorded and what actually exists.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	backend, err := openStateBackend()
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
		fmt.Println("No resources to refresh.")
		return nil
	}

	registry := provider.NewRegistry()
	if err := loadStateProviders(cmd, registry, currentState); err != nil {
		return err
	}

	fmt.Printf("Refreshing %d resource(s)...\n\n", len(currentState.Resources))

	drifted, deleted := 0, 0
	var kept []*ir.ResourceState
	for _, res := range currentState.Resources {
		addr := res.Addr()
		prov, err := registry.Get(res.Provider)
		if err != nil {
			fmt.Printf("  %s: SKIP (provider %s not available)\n", addr, res.Provider)
			kept = append(kept, res)
			continue
		}

		var resourceID string
		if id, ok := res.Outputs["id"]; ok {
			resourceID = fmt.Sprintf("%v", id)
		}
		var currentJSON []byte
		if res.Outputs != nil {
			currentJSON, _ = json.Marshal(res.Outputs)
		}

		resp, err := prov.Read(ctx, &pv.ReadRequest{
			Type:        res.Type,
			ID:          resourceID,
			CurrentJSON: currentJSON,
		})
		if err != nil {
			fmt.Printf("  %s: ERROR (%v)\n", addr, err)
			kept = append(kept, res)
			continue
		}

		if !resp.Exists {
			fmt.Printf("  \033[31m%s: DELETED (no longer exists, removed from state)\033[0m\n", addr)
			deleted++
			continue
		}
		kept = append(kept, res)

		if len(resp.StateJSON) > 0 {
			var newOutputs map[string]any
			if err := json.Unmarshal(resp.StateJSON, &newOutputs); err == nil {
				if fmt.Sprintf("%v", newOutputs) != fmt.Sprintf("%v", res.Outputs) {
					fmt.Printf("  \033[33m%s: DRIFTED (state updated)\033[0m\n", addr)
					res.Outputs = newOutputs
					drifted++
					continue
				}
			}
		}
		fmt.Printf("  %s: OK\n", addr)
	}
	currentState.Resources = kept

	if drifted > 0 || deleted > 0 {
		currentState.Serial++
		if err := backend.Write(ctx, currentState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Printf("\nRefresh complete. %d drifted, %d deleted.\n", drifted, deleted)
	return nil
}
