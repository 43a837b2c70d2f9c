// Package null implements a provider whose resources exist only in
// state. Useful for wiring triggers and for exercising the engine in
// tests without touching a real API.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	pv "github.com/skiff-io/skiff/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Config is the user-facing shape of a null resource.
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

// State is what the null provider records after apply.
type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (p *Provider) Plan(ctx context.Context, req *pv.PlanRequest) (*pv.PlanResponse, error) {
	if req.DesiredJSON == nil && req.PriorJSON != nil {
		return &pv.PlanResponse{Action: pv.ActionDelete}, nil
	}
	if req.PriorJSON == nil {
		return &pv.PlanResponse{Action: pv.ActionCreate}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior State
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	// Changing any trigger forces a replacement.
	if !equal(desired.Triggers, prior.Triggers) {
		return &pv.PlanResponse{
			Action:            pv.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}
	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		return &pv.ApplyResponse{}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateJSON, _ := json.Marshal(state)

	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) Read(ctx context.Context, req *pv.ReadRequest) (*pv.ReadResponse, error) {
	return &pv.ReadResponse{
		Exists:    true,
		StateJSON: req.CurrentJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *pv.DeleteRequest) error {
	return nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
