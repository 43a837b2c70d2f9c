package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pv "github.com/skiff-io/skiff/pkg/provider"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	// New resource
	resp, err := p.Plan(ctx, &pv.PlanRequest{
		Type:        "null_resource",
		Name:        "test",
		DesiredJSON: desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionCreate, resp.Action)

	// Same triggers
	state := State{ID: "null-test", Triggers: desired.Triggers}
	stateJSON, _ := json.Marshal(state)

	resp, err = p.Plan(ctx, &pv.PlanRequest{
		Type:        "null_resource",
		Name:        "test",
		DesiredJSON: desiredJSON,
		PriorJSON:   stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionNoop, resp.Action)

	// Changed triggers force a replacement
	newDesired := Config{Triggers: map[string]string{"foo": "baz"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	resp, err = p.Plan(ctx, &pv.PlanRequest{
		Type:        "null_resource",
		Name:        "test",
		DesiredJSON: newDesiredJSON,
		PriorJSON:   stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionReplace, resp.Action)
	assert.Equal(t, []string{"triggers"}, resp.ChangedAttributes)

	// Removal
	resp, err = p.Plan(ctx, &pv.PlanRequest{
		Type:      "null_resource",
		Name:      "test",
		PriorJSON: stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionDelete, resp.Action)
}

func TestProvider_Apply(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"run": "1"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Apply(ctx, &pv.ApplyRequest{
		Type:        "null_resource",
		Name:        "probe",
		DesiredJSON: desiredJSON,
	})
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(resp.StateJSON, &got))
	assert.Equal(t, "null-probe", got.ID)
	assert.Equal(t, desired.Triggers, got.Triggers)
}

func TestProvider_ReadAndDelete(t *testing.T) {
	p := New()
	ctx := context.Background()

	current := []byte(`{"id":"null-probe"}`)
	resp, err := p.Read(ctx, &pv.ReadRequest{Type: "null_resource", ID: "null-probe", CurrentJSON: current})
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	assert.Equal(t, current, resp.StateJSON)

	assert.NoError(t, p.Delete(ctx, &pv.DeleteRequest{Type: "null_resource", ID: "null-probe"}))
}
