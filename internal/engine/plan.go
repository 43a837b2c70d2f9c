package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/logging"
	"github.com/skiff-io/skiff/internal/provider"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // If true, apply continues past failures instead of stopping
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{registry: registry}
}

// CreatePlan generates an execution plan by comparing desired config
// with current state. It builds the dependency graph first; a cyclic
// graph fails with *CycleError before any provider is consulted.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses. If targets is empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	// Iterated resources flatten into one node each before the graph
	// is built. Cycle detection happens before any provider call.
	resources := ExpandForEach(cfg.Resources)
	dag, err := BuildDAG(resources)
	if err != nil {
		return nil, err
	}

	for _, res := range resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Addr()] = res
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range resources {
		configByAddr[resourceAddr(res)] = res
	}

	// If targets are given, include their transitive dependencies so the
	// plan stays self-consistent.
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		desiredJSON, err := json.Marshal(res.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		var priorJSON []byte
		if prior, ok := stateMap[addr]; ok {
			priorJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &pv.PlanRequest{
			Type:        res.Type,
			Name:        res.Name,
			DesiredJSON: desiredJSON,
			PriorJSON:   priorJSON,
		})
		if err != nil {
			return nil, &ProviderError{Address: addr, Op: "plan", Err: err}
		}

		action := resp.Action
		if action != pv.ActionNoop {
			if err := enforceLifecycle(res, action, addr); err != nil {
				return nil, err
			}
			if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == pv.ActionUpdate {
				action = filterIgnoredChanges(res, resp)
			}
		}

		if action == pv.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  string(action),
			Desired: res,
		}
		if prior, ok := stateMap[addr]; ok {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}
		plan.Changes = append(plan.Changes, change)

		switch action {
		case pv.ActionCreate:
			plan.Summary.Create++
		case pv.ActionUpdate:
			plan.Summary.Update++
		case pv.ActionReplace:
			plan.Summary.Replace++
		case pv.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources present in state but absent from config get destroyed,
	// in reverse dependency order.
	var doomed []*ir.ResourceState
	for _, res := range state.Resources {
		addr := res.Addr()
		if _, ok := configByAddr[addr]; ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		doomed = append(doomed, res)
	}
	if len(doomed) > 0 {
		stateDag, err := BuildDAGFromState(doomed)
		if err != nil {
			return nil, err
		}
		for _, addr := range stateDag.DestructionOrder() {
			res := stateMap[addr]
			if err := e.registry.LoadProvider(res.Provider); err != nil {
				return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: addr,
				Action:  string(pv.ActionDelete),
				Prior: &ir.Resource{
					Type:       res.Type,
					Name:       res.Name,
					Provider:   res.Provider,
					Properties: res.Inputs,
				},
				Diff: buildDeleteDiff(res.Inputs),
			})
			plan.Summary.Delete++
		}
	}

	return plan, nil
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action pv.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}
	if res.Lifecycle.PreventDestroy && (action == pv.ActionDelete || action == pv.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}
	return nil
}

// filterIgnoredChanges downgrades an UPDATE to NOOP when every changed
// attribute is listed in ignore_changes.
func filterIgnoredChanges(res *ir.Resource, resp *pv.PlanResponse) pv.Action {
	if len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}
	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}
	for _, attr := range resp.ChangedAttributes {
		if !ignoreSet[attr] {
			return resp.Action
		}
	}
	return pv.ActionNoop
}

// buildPropertyDiff compares prior and desired properties.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete"}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}
