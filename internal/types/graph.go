package types

import (
	"fmt"
	"strings"
	"time"
)

// Entity is a node in the knowledge graph.
type Entity struct {
	ID      ID     `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// UpdatedAt moves forward whenever the entity is written or absorbs a
	// merge, so downstream consumers can re-index it.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Validate checks that the entity has the minimum required fields.
func (e *Entity) Validate() error {
	if e.ID.IsZero() {
		return fmt.Errorf("entity ID is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity name is required")
	}
	return nil
}

// Relationship is a directed, weighted edge between two entities.
type Relationship struct {
	ID     ID      `json:"id" yaml:"id"`
	Source ID      `json:"source" yaml:"source"`
	Target ID      `json:"target" yaml:"target"`
	Kind   string  `json:"kind" yaml:"kind"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Validate checks that the relationship has valid endpoints.
func (r *Relationship) Validate() error {
	if r.ID.IsZero() {
		return fmt.Errorf("relationship ID is required")
	}
	if r.Source.IsZero() {
		return fmt.Errorf("relationship source is required")
	}
	if r.Target.IsZero() {
		return fmt.Errorf("relationship target is required")
	}
	if r.Source == r.Target {
		return fmt.Errorf("relationship cannot be a self-loop")
	}
	if strings.TrimSpace(r.Kind) == "" {
		return fmt.Errorf("relationship kind is required")
	}
	return nil
}
