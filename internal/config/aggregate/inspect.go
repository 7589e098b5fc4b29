package aggregate

import (
	"sort"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
)

// Inspection shows the value of one key in every layer.
type Inspection struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`

	DefaultValue         any `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	UserValue            any `json:"userValue,omitempty" yaml:"userValue,omitempty"`
	UserLocalValue       any `json:"userLocalValue,omitempty" yaml:"userLocalValue,omitempty"`
	UserRemoteValue      any `json:"userRemoteValue,omitempty" yaml:"userRemoteValue,omitempty"`
	WorkspaceValue       any `json:"workspaceValue,omitempty" yaml:"workspaceValue,omitempty"`
	WorkspaceFolderValue any `json:"workspaceFolderValue,omitempty" yaml:"workspaceFolderValue,omitempty"`
	MemoryValue          any `json:"memoryValue,omitempty" yaml:"memoryValue,omitempty"`

	// OverrideIdentifiers lists the identifiers with an override section
	// that sets the key.
	OverrideIdentifiers []string `json:"overrideIdentifiers,omitempty" yaml:"overrideIdentifiers,omitempty"`
}

// LayerKeys lists the keys each layer defines.
type LayerKeys struct {
	Default         []string `json:"default" yaml:"default"`
	User            []string `json:"user" yaml:"user"`
	Workspace       []string `json:"workspace" yaml:"workspace"`
	WorkspaceFolder []string `json:"workspaceFolder" yaml:"workspaceFolder"`
}

// Inspect returns the value of key in each layer as seen through overrides.
func (c *Configuration) Inspect(key string, overrides model.Overrides) Inspection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id := overrides.OverrideIdentifier
	uri := c.folderURILocked(overrides.Resource)
	view := c.viewLocked(overrides.Resource)

	memory := c.memory
	if mem, ok := c.memoryFolders[uri]; ok && uri != "" {
		memory = memory.Merge(mem)
	}

	in := Inspection{
		Key:             key,
		Value:           view.GetValueFor(key, id),
		DefaultValue:    c.defaults.GetValueFor(key, id),
		UserValue:       c.user.GetValueFor(key, id),
		UserLocalValue:  c.localUser.GetValueFor(key, id),
		UserRemoteValue: c.remoteUser.GetValueFor(key, id),
		WorkspaceValue:  c.workspace.GetValueFor(key, id),
		MemoryValue:     memory.GetValueFor(key, id),
	}
	if folder, ok := c.folders[uri]; ok && uri != "" {
		in.WorkspaceFolderValue = folder.GetValueFor(key, id)
	}

	for _, o := range view.Overrides() {
		if notify.Affects(o.Keys, key) {
			in.OverrideIdentifiers = append(in.OverrideIdentifiers, o.Identifiers...)
		}
	}
	in.OverrideIdentifiers = uniqueSorted(in.OverrideIdentifiers)
	return in
}

// Keys returns the keys of each layer. WorkspaceFolder is the union over
// all folders.
func (c *Configuration) Keys() LayerKeys {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var folderKeys []string
	for _, uri := range sortedKeys(c.folders) {
		folderKeys = append(folderKeys, c.folders[uri].Keys()...)
	}

	return LayerKeys{
		Default:         c.defaults.Keys(),
		User:            c.user.Keys(),
		Workspace:       c.workspace.Keys(),
		WorkspaceFolder: uniqueSorted(folderKeys),
	}
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
