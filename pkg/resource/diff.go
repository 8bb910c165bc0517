package resource

import (
	"encoding/json"
	"maps"
)

// DiffType represents the type of change detected.
type DiffType string

const (
	// DiffAdded indicates a resource was observed for the first time.
	DiffAdded DiffType = "added"
	// DiffModified indicates a stored resource's properties changed.
	DiffModified DiffType = "modified"
)

// Field names reported in Diff.Changes.
const (
	FieldOwner  = "owner"
	FieldName   = "name"
	FieldState  = "state"
	FieldHealth = "health"
	FieldActive = "active"
	FieldTags   = "tags"
)

// Change represents a single field change.
// The field name is the map key in Diff.Changes.
type Change struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Diff represents a detected change between the stored and observed resource.
type Diff struct {
	Type    DiffType
	ARN     string
	Changes map[string]Change // field name → change details
}

// Has reports whether the given field changed.
func (d *Diff) Has(field string) bool {
	if d == nil {
		return false
	}
	_, ok := d.Changes[field]
	return ok
}

// Compare returns the diff between a stored resource and a new observation.
// A nil stored resource yields DiffAdded. Returns nil when nothing tracked changed.
// Timestamps, metrics and details are excluded as they change on every pass.
func Compare(stored *Resource, observed Resource) *Diff {
	if stored == nil {
		return &Diff{Type: DiffAdded, ARN: observed.ARN}
	}

	changes := make(map[string]Change)
	track := func(field, prev, curr string) {
		if prev != curr {
			changes[field] = Change{Previous: prev, Current: curr}
		}
	}

	track(FieldOwner, stored.AccountConfigID, observed.AccountConfigID)
	track(FieldName, stored.Name, observed.Name)
	track(FieldState, stored.State, observed.State)
	track(FieldHealth, string(stored.Health), string(observed.Health))
	track(FieldActive, boolString(stored.IsActive), boolString(observed.IsActive))
	if !maps.Equal(stored.Tags, observed.Tags) {
		changes[FieldTags] = Change{
			Previous: mapToJSON(stored.Tags),
			Current:  mapToJSON(observed.Tags),
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return &Diff{Type: DiffModified, ARN: observed.ARN, Changes: changes}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// mapToJSON converts a map to a deterministic JSON string for comparison.
func mapToJSON(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}
