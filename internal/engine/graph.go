package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skiff-io/skiff/internal/ir"
)

// RefScheme prefixes implicit references between resources inside
// property values: ref://provider:Type/name/attribute.
const RefScheme = "ref://"

// DAG is the dependency graph of resources, kept as an explicit
// adjacency mapping so cycle detection and ordered traversal stay
// straightforward.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // addresses this node depends on
	revEdges []string // addresses that depend on this node
}

// BuildDAG constructs a dependency graph from declared resources.
// Edges come from explicit depends_on entries and from implicit ref://
// references found in property values.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode)}

	for _, res := range resources {
		addr := resourceAddr(res)
		dag.nodes[addr] = &dagNode{addr: addr}
	}

	for _, res := range resources {
		node := dag.nodes[resourceAddr(res)]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range extractRefs(res.Properties) {
			depAddr := refToAddr(ref)
			if depAddr == "" || depAddr == node.addr {
				continue
			}
			if _, ok := dag.nodes[depAddr]; ok {
				node.edges = append(node.edges, depAddr)
			}
		}
	}

	return dag.finish()
}

// BuildDAGFromState constructs a dependency graph from recorded state,
// used to order destroys when no config is present.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode)}

	for _, res := range resources {
		dag.nodes[res.Addr()] = &dagNode{addr: res.Addr()}
	}
	for _, res := range resources {
		node := dag.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}
	}

	return dag.finish()
}

func (d *DAG) finish() (*DAG, error) {
	for _, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, node.addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return d, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string { return d.order }

// DestructionOrder returns addresses in reverse dependency order.
func (d *DAG) DestructionOrder() []string { return d.revOrder }

// Dependencies returns the direct dependencies of addr.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every address reachable from addr via
// dependency edges.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for a := range seen {
		deps = append(deps, a)
	}
	sort.Strings(deps)
	return deps
}

// Dependents returns every address that transitively depends on addr.
func (d *DAG) Dependents(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, rev := range node.revEdges {
			if !seen[rev] {
				seen[rev] = true
				walk(rev)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for a := range seen {
		deps = append(deps, a)
	}
	sort.Strings(deps)
	return deps
}

// topoSort runs Kahn's algorithm. A non-empty remainder means a cycle.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue) // deterministic order among roots

	var sorted []string
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		for _, dependent := range d.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		var cyclic []string
		inSorted := make(map[string]bool, len(sorted))
		for _, a := range sorted {
			inSorted[a] = true
		}
		for addr := range d.nodes {
			if !inSorted[addr] {
				cyclic = append(cyclic, addr)
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{Nodes: cyclic}
	}

	return sorted, nil
}

// ResourceAddr returns the address of a declared resource (type.name).
func ResourceAddr(res *ir.Resource) string {
	return resourceAddr(res)
}

func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Name)
}

// extractRefs collects all ref:// strings from a property value.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, RefScheme) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	}
	return refs
}

// refToAddr converts a reference to a resource address.
// ref://aws:EC2.Vpc/main/id -> aws:EC2.Vpc.main
func refToAddr(ref string) string {
	if !strings.HasPrefix(ref, RefScheme) {
		return ""
	}
	path := ref[len(RefScheme):]
	// Format: provider:Type/name/attribute (attribute optional).
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}
