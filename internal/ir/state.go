package ir

// State is the persisted record of everything skiff manages.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the immutable snapshot emitted for a successfully
// applied resource. Outputs carry whatever the provider assigned,
// including the generated identifier and any network addresses.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Inputs       map[string]any `json:"inputs"`
	Outputs      map[string]any `json:"outputs"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Addr returns the state entry's resource address (type.name).
func (r *ResourceState) Addr() string {
	return r.Type + "." + r.Name
}

// Lookup returns the state entry for addr, or nil.
func (s *State) Lookup(addr string) *ResourceState {
	for _, res := range s.Resources {
		if res.Addr() == addr {
			return res
		}
	}
	return nil
}
