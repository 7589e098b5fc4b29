package aggregate

import (
	"github.com/dshills/layerconf/internal/config/model"
)

// ModelData is the serializable form of a model.
type ModelData struct {
	Contents  map[string]any `json:"contents" yaml:"contents"`
	Keys      []string       `json:"keys" yaml:"keys"`
	Overrides []OverrideData `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// OverrideData is the serializable form of an override section.
type OverrideData struct {
	Identifiers []string       `json:"identifiers" yaml:"identifiers"`
	Contents    map[string]any `json:"contents" yaml:"contents"`
	Keys        []string       `json:"keys" yaml:"keys"`
}

// Data is a snapshot of every layer. It is what change events carry as the
// previous configuration.
type Data struct {
	Defaults      ModelData            `json:"defaults" yaml:"defaults"`
	LocalUser     ModelData            `json:"localUser" yaml:"localUser"`
	RemoteUser    ModelData            `json:"remoteUser" yaml:"remoteUser"`
	Workspace     ModelData            `json:"workspace" yaml:"workspace"`
	Folders       map[string]ModelData `json:"folders,omitempty" yaml:"folders,omitempty"`
	Memory        ModelData            `json:"memory" yaml:"memory"`
	MemoryFolders map[string]ModelData `json:"memoryFolders,omitempty" yaml:"memoryFolders,omitempty"`
}

// ToModelData converts a model to its serializable form.
func ToModelData(m *model.Model) ModelData {
	d := ModelData{Contents: m.Contents(), Keys: m.Keys()}
	for _, o := range m.Overrides() {
		d.Overrides = append(d.Overrides, OverrideData(o))
	}
	return d
}

// Model rebuilds the model.
func (d ModelData) Model() *model.Model {
	if len(d.Contents) == 0 && len(d.Keys) == 0 && len(d.Overrides) == 0 {
		return model.Empty()
	}
	overrides := make([]model.Override, 0, len(d.Overrides))
	for _, o := range d.Overrides {
		overrides = append(overrides, model.Override(o))
	}
	return model.New(d.Contents, d.Keys, overrides)
}

// ToData snapshots every layer.
func (c *Configuration) ToData() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := Data{
		Defaults:   ToModelData(c.defaults),
		LocalUser:  ToModelData(c.localUser),
		RemoteUser: ToModelData(c.remoteUser),
		Workspace:  ToModelData(c.workspace),
		Memory:     ToModelData(c.memory),
	}
	if len(c.folders) > 0 {
		d.Folders = make(map[string]ModelData, len(c.folders))
		for uri, m := range c.folders {
			d.Folders[uri] = ToModelData(m)
		}
	}
	if len(c.memoryFolders) > 0 {
		d.MemoryFolders = make(map[string]ModelData, len(c.memoryFolders))
		for uri, m := range c.memoryFolders {
			d.MemoryFolders[uri] = ToModelData(m)
		}
	}
	return d
}

// FromData rebuilds a configuration from a snapshot.
func FromData(d Data, resolver FolderResolver) *Configuration {
	c := New(d.Defaults.Model(), resolver)
	c.localUser = d.LocalUser.Model()
	c.remoteUser = d.RemoteUser.Model()
	c.workspace = d.Workspace.Model()
	c.memory = d.Memory.Model()
	for uri, m := range d.Folders {
		c.folders[uri] = m.Model()
	}
	for uri, m := range d.MemoryFolders {
		c.memoryFolders[uri] = m.Model()
	}
	c.rebuildLocked()
	return c
}
