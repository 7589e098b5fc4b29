// Package model implements the immutable configuration model shared by
// every configuration layer.
//
// A Model holds a nested contents tree, the flat list of dot-delimited keys
// it defines, and language override sections. Models are never mutated after
// construction: every operation that changes values returns a new Model,
// so a Model may be shared freely between goroutines.
package model

import (
	"errors"
	"sort"
	"sync"

	"github.com/dshills/layerconf/internal/config/registry"
)

// Errors returned by the model package.
var (
	// ErrConflict is returned when a key would be nested under a non-object value.
	ErrConflict = errors.New("conflicting key")

	// ErrInvalidJSON is returned when settings content cannot be parsed.
	ErrInvalidJSON = errors.New("invalid settings JSON")

	// ErrNotObject is returned when settings content is valid JSON but not an object.
	ErrNotObject = errors.New("settings must be a JSON object")
)

// Override is a language specific section such as "[go]".
type Override struct {
	Identifiers []string
	Contents    map[string]any
	Keys        []string
}

func (o Override) clone() Override {
	return Override{
		Identifiers: append([]string(nil), o.Identifiers...),
		Contents:    cloneMap(o.Contents),
		Keys:        append([]string(nil), o.Keys...),
	}
}

func (o Override) hasIdentifier(id string) bool {
	for _, i := range o.Identifiers {
		if i == id {
			return true
		}
	}
	return false
}

// Overrides selects the view a value is resolved in.
type Overrides struct {
	// Resource is a file path or file URI inside a workspace folder.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// OverrideIdentifier is a language id such as "go".
	OverrideIdentifier string `json:"overrideIdentifier,omitempty" yaml:"overrideIdentifier,omitempty"`
}

// Model is an immutable configuration model.
type Model struct {
	contents  map[string]any
	keys      []string
	overrides []Override

	overrideCache sync.Map // identifier -> *Model
}

var emptyModel = &Model{contents: map[string]any{}}

// Empty returns the shared empty model.
func Empty() *Model {
	return emptyModel
}

// New creates a model. Inputs are copied.
func New(contents map[string]any, keys []string, overrides []Override) *Model {
	m := &Model{
		contents: cloneMap(contents),
		keys:     dedupe(keys),
	}
	if m.contents == nil {
		m.contents = make(map[string]any)
	}
	for _, o := range overrides {
		m.overrides = append(m.overrides, o.clone())
	}
	return m
}

// FromFlat creates a model from dot-delimited key/value pairs. Values are
// normalized to their JSON shape.
func FromFlat(values map[string]any) *Model {
	m := &Model{contents: make(map[string]any)}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := addToTree(m.contents, k, Normalize(values[k])); err == nil {
			m.keys = append(m.keys, k)
		}
	}
	return m
}

// WithOverrides returns a copy of m with the given override sections added.
// Sections are keyed by header ("[go]") and hold flat key/value pairs.
func (m *Model) WithOverrides(sections map[string]map[string]any) *Model {
	if len(sections) == 0 {
		return m
	}
	headers := make([]string, 0, len(sections))
	for h := range sections {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	var overrides []Override
	for _, h := range headers {
		ids := registry.SplitOverrideHeader(h)
		if len(ids) == 0 {
			continue
		}
		flat := FromFlat(sections[h])
		overrides = append(overrides, Override{Identifiers: ids, Contents: flat.contents, Keys: flat.keys})
	}
	return m.Merge(&Model{contents: map[string]any{}, overrides: overrides})
}

// Contents returns a deep copy of the contents tree.
func (m *Model) Contents() map[string]any {
	return cloneMap(m.contents)
}

// Keys returns the keys defined by the model.
func (m *Model) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Overrides returns copies of the override sections.
func (m *Model) Overrides() []Override {
	out := make([]Override, len(m.overrides))
	for i, o := range m.overrides {
		out[i] = o.clone()
	}
	return out
}

// OverrideIdentifiers returns the sorted identifiers of all override sections.
func (m *Model) OverrideIdentifiers() []string {
	seen := make(map[string]bool)
	for _, o := range m.overrides {
		for _, id := range o.Identifiers {
			seen[id] = true
		}
	}
	return sortedSet(seen)
}

// IsEmpty reports whether the model defines no keys and no overrides.
func (m *Model) IsEmpty() bool {
	return len(m.keys) == 0 && len(m.contents) == 0 && len(m.overrides) == 0
}

// GetValue returns the value at section. An empty section returns the whole
// tree; a missing section returns nil. The result is a copy.
func (m *Model) GetValue(section string) any {
	if section == "" {
		return m.Contents()
	}
	v, ok := GetByPath(m.contents, section)
	if !ok {
		return nil
	}
	return cloneValue(v)
}

// GetValueFor returns the value at section as seen through the override
// identifier.
func (m *Model) GetValueFor(section, overrideIdentifier string) any {
	if overrideIdentifier == "" {
		return m.GetValue(section)
	}
	return m.Override(overrideIdentifier).GetValue(section)
}

// GetOverrideValue returns the value at section defined inside the override
// sections for identifier only, or nil.
func (m *Model) GetOverrideValue(section, identifier string) any {
	contents := m.overrideContents(identifier)
	if contents == nil {
		return nil
	}
	if section == "" {
		return contents
	}
	v, ok := GetByPath(contents, section)
	if !ok {
		return nil
	}
	return cloneValue(v)
}

// Override returns the model as seen through an override identifier: values
// from matching override sections replace base values, and objects merge.
func (m *Model) Override(identifier string) *Model {
	if identifier == "" {
		return m
	}
	if cached, ok := m.overrideCache.Load(identifier); ok {
		return cached.(*Model)
	}

	overrideContents := m.overrideContents(identifier)
	if len(overrideContents) == 0 {
		m.overrideCache.Store(identifier, m)
		return m
	}

	contents := cloneMap(m.contents)
	for key, ov := range overrideContents {
		base, exists := contents[key]
		baseMap, baseIsMap := base.(map[string]any)
		ovMap, ovIsMap := ov.(map[string]any)
		if exists && baseIsMap && ovIsMap {
			contents[key] = DeepMerge(cloneMap(baseMap), ovMap)
		} else {
			contents[key] = cloneValue(ov)
		}
	}

	keys := append([]string(nil), m.keys...)
	for _, o := range m.overrides {
		if o.hasIdentifier(identifier) {
			keys = append(keys, o.Keys...)
		}
	}

	result := &Model{contents: contents, keys: dedupe(keys), overrides: m.overrides}
	m.overrideCache.Store(identifier, result)
	return result
}

func (m *Model) overrideContents(identifier string) map[string]any {
	var contents map[string]any
	for _, o := range m.overrides {
		if !o.hasIdentifier(identifier) {
			continue
		}
		if contents == nil {
			contents = make(map[string]any)
		}
		DeepMerge(contents, o.Contents)
	}
	return contents
}

// Merge returns a new model with others merged over m in order. Later
// models win; objects merge recursively; override sections merge per
// identifier set.
func (m *Model) Merge(others ...*Model) *Model {
	contents := cloneMap(m.contents)
	keys := append([]string(nil), m.keys...)
	overrides := make([]Override, 0, len(m.overrides))
	for _, o := range m.overrides {
		overrides = append(overrides, o.clone())
	}

	for _, other := range others {
		if other == nil {
			continue
		}
		DeepMerge(contents, other.contents)
		keys = append(keys, other.keys...)
		for _, o := range other.overrides {
			idx := findOverride(overrides, o.Identifiers)
			if idx < 0 {
				overrides = append(overrides, o.clone())
				continue
			}
			DeepMerge(overrides[idx].Contents, o.Contents)
			overrides[idx].Keys = dedupe(append(overrides[idx].Keys, o.Keys...))
		}
	}

	return &Model{contents: contents, keys: dedupe(keys), overrides: overrides}
}

// SetValue returns a copy of m with key set to value.
func (m *Model) SetValue(key string, value any) *Model {
	out := m.Merge()
	SetByPath(out.contents, key, Normalize(value))
	out.keys = dedupe(append(out.keys, key))
	return out
}

// RemoveValue returns a copy of m without key.
func (m *Model) RemoveValue(key string) *Model {
	out := m.Merge()
	DeleteByPath(out.contents, key)
	out.keys = removeKey(out.keys, key)
	return out
}

// SetOverrideValue returns a copy of m with key set inside the override
// section for identifiers.
func (m *Model) SetOverrideValue(identifiers []string, key string, value any) *Model {
	out := m.Merge()
	idx := findOverride(out.overrides, identifiers)
	if idx < 0 {
		out.overrides = append(out.overrides, Override{
			Identifiers: append([]string(nil), identifiers...),
			Contents:    make(map[string]any),
		})
		idx = len(out.overrides) - 1
	}
	SetByPath(out.overrides[idx].Contents, key, Normalize(value))
	out.overrides[idx].Keys = dedupe(append(out.overrides[idx].Keys, key))
	return out
}

// RemoveOverrideValue returns a copy of m without key in the override
// section for identifiers. An override section left empty is dropped.
func (m *Model) RemoveOverrideValue(identifiers []string, key string) *Model {
	out := m.Merge()
	idx := findOverride(out.overrides, identifiers)
	if idx < 0 {
		return out
	}
	DeleteByPath(out.overrides[idx].Contents, key)
	out.overrides[idx].Keys = removeKey(out.overrides[idx].Keys, key)
	if len(out.overrides[idx].Keys) == 0 {
		out.overrides = append(out.overrides[:idx:idx], out.overrides[idx+1:]...)
	}
	return out
}

// Compare reports the keys and override keys that differ between m and
// other. A nil other is treated as empty.
func (m *Model) Compare(other *Model) Change {
	if other == nil {
		other = Empty()
	}
	var change Change

	keys := unionSorted(m.keys, other.keys)
	for _, k := range keys {
		if !Equal(m.GetValue(k), other.GetValue(k)) {
			change.Keys = append(change.Keys, k)
		}
	}

	ids := unionSorted(m.OverrideIdentifiers(), other.OverrideIdentifiers())
	for _, id := range ids {
		a := m.overrideContents(id)
		b := other.overrideContents(id)
		var changed []string
		for _, k := range unionSorted(m.overrideKeys(id), other.overrideKeys(id)) {
			va, _ := GetByPath(a, k)
			vb, _ := GetByPath(b, k)
			if !Equal(va, vb) {
				changed = append(changed, k)
			}
		}
		if len(changed) > 0 {
			change.Overrides = append(change.Overrides, OverrideChange{Identifier: id, Keys: changed})
			change.Keys = append(change.Keys, registry.OverrideHeader(id))
		}
	}

	change.Keys = dedupeSorted(change.Keys)
	return change
}

func (m *Model) overrideKeys(identifier string) []string {
	var keys []string
	for _, o := range m.overrides {
		if o.hasIdentifier(identifier) {
			keys = append(keys, o.Keys...)
		}
	}
	return keys
}

func findOverride(overrides []Override, identifiers []string) int {
	for i, o := range overrides {
		if sameSet(o.Identifiers, identifiers) {
			return i
		}
	}
	return -1
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

func dedupe(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func removeKey(keys []string, key string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key && !isChildKey(key, k) {
			out = append(out, k)
		}
	}
	return out
}

func isChildKey(parent, child string) bool {
	return len(child) > len(parent) && child[:len(parent)] == parent && child[len(parent)] == '.'
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, k := range a {
		seen[k] = true
	}
	for _, k := range b {
		seen[k] = true
	}
	return sortedSet(seen)
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	return sortedSet(seen)
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
