package ir

// Resource is a single declared resource.
type Resource struct {
	Type       string         `json:"type"` // e.g. "aws:EC2.Vpc"
	Name       string         `json:"name"`
	Provider   string         `json:"provider"`
	Lifecycle  *Lifecycle     `json:"lifecycle,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Count      int            `json:"count,omitempty"`
	ForEach    map[string]any `json:"forEach,omitempty"`
	Properties map[string]any `json:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `json:"ignoreChanges,omitempty"`
}
