// Package catalog holds the immutable registry of emergency definitions. The
// catalog is built once at startup and injected into the monitor and
// orchestrator; nothing mutates it afterwards.
package catalog

import (
	"fmt"

	"github.com/opsforge/remedy/internal/models"
)

// Catalog is an immutable set of trigger definitions keyed by id.
type Catalog struct {
	ordered []models.TriggerDefinition
	byID    map[string]int
}

// New validates every definition and builds the catalog. Duplicate ids and
// invalid fallback chains are rejected so a bad definition fails at boot, not
// mid-emergency.
func New(defs ...models.TriggerDefinition) (*Catalog, error) {
	c := &Catalog{
		ordered: make([]models.TriggerDefinition, 0, len(defs)),
		byID:    make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if _, exists := c.byID[def.ID]; exists {
			return nil, fmt.Errorf("catalog: duplicate trigger id %q", def.ID)
		}
		c.byID[def.ID] = len(c.ordered)
		c.ordered = append(c.ordered, def)
	}
	return c, nil
}

// All returns the definitions in registration order. Callers get a copy of the
// slice header; definitions themselves are treated as read-only by convention.
func (c *Catalog) All() []models.TriggerDefinition {
	out := make([]models.TriggerDefinition, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Get looks a trigger up by id.
func (c *Catalog) Get(id string) (models.TriggerDefinition, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return models.TriggerDefinition{}, false
	}
	return c.ordered[idx], true
}

// ForFailureKind returns the first trigger covering the given failure kind.
// Inbound failures that match no trigger are handled by the orchestrator's
// generic path.
func (c *Catalog) ForFailureKind(kind models.FailureKind) (models.TriggerDefinition, bool) {
	for _, def := range c.ordered {
		if def.Covers(kind) {
			return def, true
		}
	}
	return models.TriggerDefinition{}, false
}

// Len reports the number of registered triggers.
func (c *Catalog) Len() int {
	return len(c.ordered)
}
