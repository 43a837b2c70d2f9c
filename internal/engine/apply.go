package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/logging"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// Reconcile plans and applies the desired configuration in one call.
// It returns the snapshots of every resource successfully applied; on
// failure the returned slice still holds the resources that converged
// before the error, so a rerun can resume from partial state.
func (e *Engine) Reconcile(ctx context.Context, cfg *ir.Config, state *ir.State) ([]*ir.ResourceState, error) {
	plan, err := e.CreatePlan(ctx, cfg, state)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	applied := make(map[string]bool)
	_, applyErr := e.ApplyPlanWithCallback(ctx, plan, state, func(ev ApplyEvent) {
		if ev.Status == "completed" && ev.Action != string(pv.ActionDelete) {
			mu.Lock()
			applied[ev.Address] = true
			mu.Unlock()
		}
	})

	var snapshots []*ir.ResourceState
	for _, res := range state.Resources {
		if applied[res.Addr()] {
			snapshots = append(snapshots, res)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Addr() < snapshots[j].Addr() })
	return snapshots, applyErr
}

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Creates/updates run before deletes; within each group, independent
// dependency branches run in parallel while every resource waits on a
// join barrier for its own dependencies. A failure halts the failing
// branch (dependents are skipped) but other branches finish.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		stateIndex[res.Addr()] = i
	}

	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == string(pv.ActionDelete) {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	for _, group := range [][]*ir.ResourceChange{createUpdates, deletes} {
		if len(group) == 0 {
			continue
		}
		if err := e.applyGroup(ctx, group, state, &stateIndex, &mu, emit); err != nil {
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
		}
	}

	if len(plan.Changes) > 0 {
		state.Serial++
	}
	state.Outputs = plan.Outputs

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource group(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return state, nil
}

// applyGroup applies changes concurrently, using each change's declared
// and implicit dependencies as a join barrier.
func (e *Engine) applyGroup(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	// Only dependencies that are themselves part of this apply matter
	// for ordering; everything else is already converged.
	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		if c.Desired == nil {
			continue
		}
		for _, d := range c.Desired.DependsOn {
			if _, ok := changeMap[d]; ok {
				deps[c.Address][d] = true
			}
		}
		for _, ref := range extractRefs(c.Desired.Properties) {
			depAddr := refToAddr(ref)
			if _, ok := changeMap[depAddr]; ok && depAddr != c.Address {
				deps[c.Address][depAddr] = true
			}
		}
	}

	// Deletes order off the dependencies recorded in state, reversed:
	// a resource waits for the resources that depend on it to go first.
	mu.Lock()
	for _, res := range state.Resources {
		if _, ok := changeMap[res.Addr()]; !ok {
			continue
		}
		for _, dep := range res.Dependencies {
			if c, ok := changeMap[dep]; ok && c.Desired == nil {
				deps[dep][res.Addr()] = true
			}
		}
	}
	mu.Unlock()

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	barrierMu := sync.Mutex{}
	barrier := sync.NewCond(&barrierMu)
	var firstErr error
	var allErrs []error
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			// Join barrier: wait until every dependency completed, or
			// bail when one of them failed. A failure elsewhere in the
			// graph does not stop branches that don't depend on it.
			barrierMu.Lock()
			for {
				if ctx.Err() != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("apply cancelled: %w", ctx.Err())
					}
					failed[c.Address] = true
					barrierMu.Unlock()
					barrier.Broadcast()
					return
				}
				ready := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						ready = false
						break
					}
				}
				if depFailed {
					failed[c.Address] = true
					barrierMu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped"})
					barrier.Broadcast()
					return
				}
				if ready {
					break
				}
				barrier.Wait()
			}
			barrierMu.Unlock()

			if err := ctx.Err(); err != nil {
				barrierMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				failed[c.Address] = true
				barrierMu.Unlock()
				barrier.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				barrierMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				barrierMu.Unlock()
				barrier.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			barrierMu.Lock()
			completed[c.Address] = true
			barrierMu.Unlock()
			barrier.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	return firstErr
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON, priorJSON []byte
	var name, typ string

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		mu.Lock()
		resolved := resolveReferences(change.Desired.Properties, state)
		mu.Unlock()
		desiredJSON, _ = json.Marshal(resolved)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		if prior := state.Resources[idx]; prior.Outputs != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case string(pv.ActionCreate), string(pv.ActionUpdate), string(pv.ActionReplace):
		// A replacement destroys the prior object and creates a fresh
		// one. With create_before_destroy the order flips: the new
		// object comes up first, then the old one is torn down.
		replacedPrior := priorJSON
		deferDestroy := false
		if change.Action == string(pv.ActionReplace) && len(priorJSON) > 0 {
			if change.Desired.Lifecycle != nil && change.Desired.Lifecycle.CreateBeforeDestroy {
				deferDestroy = true
			} else if err := destroyPrior(ctx, prov, typ, addr, priorJSON, retryPolicy); err != nil {
				return err
			}
			priorJSON = nil
		}

		var resp *pv.ApplyResponse
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &pv.ApplyRequest{
				Type:        typ,
				Name:        name,
				DesiredJSON: desiredJSON,
				PriorJSON:   priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return &ProviderError{Address: addr, Op: "apply", Err: err}
		}

		var outputs map[string]any
		if len(resp.StateJSON) > 0 {
			if err := json.Unmarshal(resp.StateJSON, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal provider state for %s: %w", addr, err)
			}
		}

		newResState := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			Outputs:      outputs,
			Dependencies: dependencyAddrs(change.Desired),
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		mu.Unlock()

		// The new object is already recorded, so a failure here leaks
		// only the replaced one.
		if deferDestroy {
			if err := destroyPrior(ctx, prov, typ, addr, replacedPrior, retryPolicy); err != nil {
				return err
			}
		}

	case string(pv.ActionDelete):
		var resourceID string
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			if id, exists := state.Resources[idx].Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
		mu.Unlock()

		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			return prov.Delete(ctx, &pv.DeleteRequest{
				Type:        typ,
				ID:          resourceID,
				CurrentJSON: priorJSON,
			})
		}, IsTransientError)
		if err != nil {
			return &ProviderError{Address: addr, Op: "delete", Err: err}
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			*stateIndex = make(map[string]int)
			for i, res := range state.Resources {
				(*stateIndex)[res.Addr()] = i
			}
		}
		mu.Unlock()
	}

	return nil
}

// destroyPrior tears down the remote object recorded in priorJSON as
// the destroy half of a replacement.
func destroyPrior(ctx context.Context, prov pv.Provider, typ, addr string, priorJSON []byte, policy *RetryPolicy) error {
	var outputs map[string]any
	_ = json.Unmarshal(priorJSON, &outputs)
	var id string
	if v, ok := outputs["id"]; ok {
		id = fmt.Sprintf("%v", v)
	}
	err := RetryWithBackoff(ctx, policy, func() error {
		return prov.Delete(ctx, &pv.DeleteRequest{
			Type:        typ,
			ID:          id,
			CurrentJSON: priorJSON,
		})
	}, IsTransientError)
	if err != nil {
		return &ProviderError{Address: addr, Op: "delete", Err: err}
	}
	return nil
}

// dependencyAddrs records the addresses a resource depends on so that
// destroys ordered from state alone stay safe.
func dependencyAddrs(res *ir.Resource) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	for _, d := range res.DependsOn {
		add(d)
	}
	for _, ref := range extractRefs(res.Properties) {
		add(refToAddr(ref))
	}
	sort.Strings(out)
	return out
}

// resolveReferences replaces ref:// strings with the referenced
// resource's applied attribute values.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if strings.HasPrefix(v, RefScheme) {
			for _, res := range state.Resources {
				matchPrefix := fmt.Sprintf("%s%s/%s/", RefScheme, res.Type, res.Name)
				if strings.HasPrefix(v, matchPrefix) {
					attr := v[len(matchPrefix):]
					if val, ok := res.Outputs[attr]; ok {
						return val
					}
					if val, ok := res.Inputs[attr]; ok {
						return val
					}
					return v
				}
			}
		}
		return v
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, vv := range v {
			newMap[k] = resolveReferences(vv, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, vv := range v {
			newSlice[i] = resolveReferences(vv, state)
		}
		return newSlice
	default:
		return v
	}
}
