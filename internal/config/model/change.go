package model

import (
	"sort"

	"github.com/dshills/layerconf/internal/config/notify"
)

// OverrideChange lists the keys changed inside one override identifier.
type OverrideChange struct {
	Identifier string   `json:"identifier" yaml:"identifier"`
	Keys       []string `json:"keys" yaml:"keys"`
}

// Change describes which keys changed between two configurations.
type Change struct {
	Keys      []string         `json:"keys" yaml:"keys"`
	Overrides []OverrideChange `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// IsEmpty reports whether no keys changed.
func (c Change) IsEmpty() bool {
	return len(c.Keys) == 0 && len(c.Overrides) == 0
}

// Affects reports whether section or any of its ancestors or descendants
// changed. When overrideIdentifier is set the section must also have changed
// for that identifier, or changed at the base level.
func (c Change) Affects(section, overrideIdentifier string) bool {
	if overrideIdentifier == "" {
		return notify.Affects(c.Keys, section)
	}
	for _, o := range c.Overrides {
		if o.Identifier == overrideIdentifier && notify.Affects(o.Keys, section) {
			return true
		}
	}
	return notify.Affects(c.Keys, section)
}

// OverrideKeys returns the changed keys for identifier.
func (c Change) OverrideKeys(identifier string) []string {
	for _, o := range c.Overrides {
		if o.Identifier == identifier {
			return append([]string(nil), o.Keys...)
		}
	}
	return nil
}

// MergeChanges unions changes. Keys are sorted and deduplicated.
func MergeChanges(changes ...Change) Change {
	keys := make(map[string]bool)
	overrides := make(map[string]map[string]bool)

	for _, c := range changes {
		for _, k := range c.Keys {
			keys[k] = true
		}
		for _, o := range c.Overrides {
			set := overrides[o.Identifier]
			if set == nil {
				set = make(map[string]bool)
				overrides[o.Identifier] = set
			}
			for _, k := range o.Keys {
				set[k] = true
			}
		}
	}

	result := Change{Keys: sortedSet(keys)}
	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		result.Overrides = append(result.Overrides, OverrideChange{
			Identifier: id,
			Keys:       sortedSet(overrides[id]),
		})
	}
	return result
}
