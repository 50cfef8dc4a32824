package diagnoser

import "sort"

// Component is one node of the statically known pipeline topology.
type Component struct {
	ID        string
	Kind      string
	DependsOn []string // upstream component ids this one consumes
	StateKeys []string // shared state this component reads or writes
}

// DependencyGraph answers blast-radius questions about the pipeline topology.
// It is built once at startup from static wiring and never mutated.
type DependencyGraph struct {
	components map[string]Component
	downstream map[string][]string // reverse edges: id -> consumers
}

// NewDependencyGraph indexes the component list.
func NewDependencyGraph(components []Component) *DependencyGraph {
	g := &DependencyGraph{
		components: make(map[string]Component, len(components)),
		downstream: make(map[string][]string),
	}
	for _, c := range components {
		g.components[c.ID] = c
	}
	for _, c := range components {
		for _, dep := range c.DependsOn {
			g.downstream[dep] = append(g.downstream[dep], c.ID)
		}
	}
	return g
}

// Affected walks downstream from the failing component and returns every
// component whose input transitively depends on it, including the origin.
func (g *DependencyGraph) Affected(componentID string) []string {
	seen := map[string]struct{}{componentID: {}}
	queue := []string{componentID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.downstream[current] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return sortedKeys(seen)
}

// SharingState returns components that share any of the given state keys.
// Used to widen the blast radius for memory-corruption class causes.
func (g *DependencyGraph) SharingState(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	matched := make(map[string]struct{})
	for id, c := range g.components {
		for _, k := range c.StateKeys {
			if _, ok := wanted[k]; ok {
				matched[id] = struct{}{}
				break
			}
		}
	}
	return sortedKeys(matched)
}

// KindOf returns the registered kind for a component id, empty when unknown.
func (g *DependencyGraph) KindOf(componentID string) string {
	return g.components[componentID].Kind
}

// StateKeysOf returns the shared state keys of a component.
func (g *DependencyGraph) StateKeysOf(componentID string) []string {
	return g.components[componentID].StateKeys
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
