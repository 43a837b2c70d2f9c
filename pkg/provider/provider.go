// Package provider defines the contract between the skiff engine and
// resource providers. A provider implements the capability set for one
// backing service (a cloud API, a container runtime, ...), dispatched
// by resource type. All payloads cross the boundary as JSON so the
// engine stays agnostic of per-type schemas.
package provider

import "context"

// Action is the change a plan decided on for one resource.
type Action string

const (
	ActionNoop    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// PlanRequest asks the provider to compare desired config against the
// prior recorded state (and, where it chooses to, against the live
// remote state) for a single resource.
type PlanRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte // nil means the resource should no longer exist
	PriorJSON   []byte // nil means the resource has never been applied
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

// ApplyRequest asks the provider to converge one resource. A nil
// DesiredJSON means destroy.
type ApplyRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte
	PriorJSON   []byte
}

type ApplyResponse struct {
	// StateJSON is the provider-assigned attribute set, including any
	// generated identifier and network address.
	StateJSON []byte
}

// ReadRequest fetches current remote attributes for drift detection.
type ReadRequest struct {
	Type        string
	ID          string
	CurrentJSON []byte
}

type ReadResponse struct {
	Exists    bool
	StateJSON []byte
}

// DeleteRequest removes a resource that is no longer declared.
type DeleteRequest struct {
	Type        string
	ID          string
	CurrentJSON []byte
}

// Provider is the capability set implemented per backing service.
type Provider interface {
	// Configure passes provider-level settings (region, endpoint, ...).
	Configure(ctx context.Context, settings map[string]string) error

	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error
}
