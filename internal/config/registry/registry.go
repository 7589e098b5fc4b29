package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/layerconf/internal/config/notify"
)

// Errors returned by the registry.
var (
	// ErrSettingAlreadyRegistered is returned when attempting to register a duplicate setting.
	ErrSettingAlreadyRegistered = errors.New("setting already registered")

	// ErrInvalidKey is returned for empty keys or keys with empty segments.
	ErrInvalidKey = errors.New("invalid setting key")

	// ErrUnknownScope is returned by ParseScope.
	ErrUnknownScope = errors.New("unknown scope")
)

// Registry maintains all known setting definitions and language-specific
// default overrides.
type Registry struct {
	mu       sync.RWMutex
	settings map[string]*Setting
	sections map[string][]*Setting

	// defaultOverrides maps an override header such as "[go]" to flat
	// key/value defaults for that identifier set.
	defaultOverrides map[string]map[string]any

	// plain key default overrides contributed without a header.
	valueOverrides map[string]any

	onDidUpdate *notify.Emitter[[]string]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		settings:         make(map[string]*Setting),
		sections:         make(map[string][]*Setting),
		defaultOverrides: make(map[string]map[string]any),
		valueOverrides:   make(map[string]any),
		onDidUpdate:      notify.NewEmitter[[]string](),
	}
}

// NewWithDefaults creates a registry with the built-in settings.
func NewWithDefaults() *Registry {
	r := New()
	r.RegisterDefaults()
	return r
}

// OnDidUpdate fires with the affected keys after settings or default
// overrides change.
func (r *Registry) OnDidUpdate() notify.Event[[]string] {
	return r.onDidUpdate
}

// Register adds setting definitions. Either all are added or none.
func (r *Registry) Register(settings ...Setting) error {
	r.mu.Lock()

	seen := make(map[string]bool, len(settings))
	for _, s := range settings {
		if !validKey(s.Key) {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrInvalidKey, s.Key)
		}
		if _, exists := r.settings[s.Key]; exists || seen[s.Key] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSettingAlreadyRegistered, s.Key)
		}
		seen[s.Key] = true
	}

	keys := make([]string, 0, len(settings))
	for _, setting := range settings {
		s := setting
		r.settings[s.Key] = &s
		section := extractSection(s.Key)
		r.sections[section] = append(r.sections[section], &s)
		keys = append(keys, s.Key)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	r.onDidUpdate.Fire(keys)
	return nil
}

// MustRegister registers settings and panics on error.
// Useful for registering built-in settings at init time.
func (r *Registry) MustRegister(settings ...Setting) {
	if err := r.Register(settings...); err != nil {
		panic(err)
	}
}

// Deregister removes settings. Unknown keys are ignored.
func (r *Registry) Deregister(keys ...string) {
	r.mu.Lock()
	var removed []string
	for _, key := range keys {
		if _, ok := r.settings[key]; !ok {
			continue
		}
		delete(r.settings, key)
		section := extractSection(key)
		list := r.sections[section]
		for i, s := range list {
			if s.Key == key {
				r.sections[section] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.sections[section]) == 0 {
			delete(r.sections, section)
		}
		removed = append(removed, key)
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		sort.Strings(removed)
		r.onDidUpdate.Fire(removed)
	}
}

// RegisterDefaultOverrides contributes default values that replace the
// schema defaults. Keys of the form "[id]" carry an object of language
// specific defaults; other keys override the plain default.
func (r *Registry) RegisterDefaultOverrides(overrides map[string]any) {
	r.mu.Lock()
	var affected []string
	for key, value := range overrides {
		if IsOverrideHeader(key) {
			section, ok := value.(map[string]any)
			if !ok {
				continue
			}
			flat := r.defaultOverrides[key]
			if flat == nil {
				flat = make(map[string]any)
				r.defaultOverrides[key] = flat
			}
			for k, v := range section {
				flat[k] = v
			}
			affected = append(affected, key)
			continue
		}
		r.valueOverrides[key] = value
		affected = append(affected, key)
	}
	r.mu.Unlock()

	if len(affected) > 0 {
		sort.Strings(affected)
		r.onDidUpdate.Fire(affected)
	}
}

// Get returns the setting definition for the given key.
// Returns nil if the setting is not registered.
func (r *Registry) Get(key string) *Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings[key]
}

// Has checks if a setting is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.settings[key]
	return exists
}

// ScopeOf returns the effective scope of a registered setting.
func (r *Registry) ScopeOf(key string) (Scope, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[key]
	if !ok {
		return 0, false
	}
	return s.EffectiveScope(), true
}

// Lookup finds the setting that governs key. A key nested under a
// registered object setting (e.g. "files.exclude.node_modules") resolves to
// that setting.
func (r *Registry) Lookup(key string) *Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := key; k != ""; {
		if s, ok := r.settings[k]; ok {
			return s
		}
		i := strings.LastIndexByte(k, '.')
		if i < 0 {
			break
		}
		k = k[:i]
	}
	return nil
}

// HasChildren reports whether any registered key is nested under prefix.
func (r *Registry) HasChildren(prefix string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := prefix + "."
	for k := range r.settings {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

// All returns all registered settings sorted by key.
func (r *Registry) All() []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Setting, 0, len(r.settings))
	for _, s := range r.settings {
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// Section returns all settings in a given section (e.g., "editor").
func (r *Registry) Section(name string) []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settings := r.sections[name]
	result := make([]*Setting, len(settings))
	copy(result, settings)
	return result
}

// Search finds settings whose key, description or tags contain query.
func (r *Registry) Search(query string) []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.ToLower(query)
	var result []*Setting
	for _, s := range r.settings {
		if matchesSetting(s, query) {
			result = append(result, s)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// RestrictedKeys returns the sorted keys of all restricted settings.
func (r *Registry) RestrictedKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []string
	for k, s := range r.settings {
		if s.Restricted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Default returns the default value for a setting, honoring plain default
// overrides.
func (r *Registry) Default(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.valueOverrides[key]; ok {
		return v
	}
	if s, ok := r.settings[key]; ok {
		return s.Default
	}
	return nil
}

// Defaults returns a flat key to default value map. Settings without a
// default are omitted.
func (r *Registry) Defaults() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]any, len(r.settings))
	for key, s := range r.settings {
		if s.Default != nil {
			result[key] = s.Default
		}
	}
	for key, v := range r.valueOverrides {
		result[key] = v
	}
	return result
}

// DefaultOverrides returns a copy of the language specific defaults keyed by
// override header.
func (r *Registry) DefaultOverrides() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]map[string]any, len(r.defaultOverrides))
	for header, flat := range r.defaultOverrides {
		c := make(map[string]any, len(flat))
		for k, v := range flat {
			c[k] = v
		}
		result[header] = c
	}
	return result
}

// OverrideIdentifiers returns the identifiers that have default overrides.
func (r *Registry) OverrideIdentifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for header := range r.defaultOverrides {
		for _, id := range SplitOverrideHeader(header) {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks if a value is valid for a setting. Unknown settings are
// accepted.
func (r *Registry) Validate(key string, value any) error {
	r.mu.RLock()
	s, ok := r.settings[key]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return s.Validate(value)
}

// IsOverrideHeader reports whether key is an override section header such
// as "[go]" or "[go][markdown]".
func IsOverrideHeader(key string) bool {
	return len(key) > 2 && key[0] == '[' && key[len(key)-1] == ']' && len(SplitOverrideHeader(key)) > 0
}

// SplitOverrideHeader returns the identifiers of an override header.
// "[go][markdown]" yields ["go", "markdown"]. A malformed header yields nil.
func SplitOverrideHeader(header string) []string {
	var ids []string
	rest := header
	for rest != "" {
		if rest[0] != '[' {
			return nil
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil
		}
		id := strings.TrimSpace(rest[1:end])
		if id == "" {
			return nil
		}
		ids = append(ids, id)
		rest = rest[end+1:]
	}
	return ids
}

// OverrideHeader builds the header for identifiers.
func OverrideHeader(identifiers ...string) string {
	var b strings.Builder
	for _, id := range identifiers {
		b.WriteByte('[')
		b.WriteString(id)
		b.WriteByte(']')
	}
	return b.String()
}

func validKey(key string) bool {
	if key == "" || IsOverrideHeader(key) {
		return false
	}
	for _, part := range strings.Split(key, ".") {
		if part == "" {
			return false
		}
	}
	return true
}

func extractSection(key string) string {
	parts := strings.SplitN(key, ".", 2)
	return parts[0]
}

func matchesSetting(s *Setting, query string) bool {
	if strings.Contains(strings.ToLower(s.Key), query) {
		return true
	}
	if strings.Contains(strings.ToLower(s.Description), query) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
