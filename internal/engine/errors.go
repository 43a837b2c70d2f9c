package engine

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle in the declared resource graph.
// It is returned before any provider call is made.
type CycleError struct {
	// Nodes holds the addresses participating in (or downstream of) the cycle.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected in resource graph: %s", strings.Join(e.Nodes, ", "))
}

// ProviderError wraps a failure from an external provider API. It is
// scoped to a single resource; the engine halts that resource's
// dependents but lets independent branches continue.
type ProviderError struct {
	Address string
	Op      string // "plan", "apply", "delete"
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
