package ir

// Config is the top-level desired-state document.
type Config struct {
	Resources []*Resource    `json:"resources"`
	Outputs   map[string]any `json:"outputs,omitempty"`
}
