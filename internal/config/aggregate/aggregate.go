// Package aggregate combines the configuration layers into resolved views.
//
// Layers have a fixed precedence, lowest first:
//
//	default < user-local < user-remote < workspace < folder < memory
//
// The memory layer holds values set for the session only. A folder may also
// carry its own memory layer, which sits above the global one.
//
// Merged views are rebuilt whenever a layer is swapped, so reads never
// merge. Every CompareAndUpdate method reports the net effect of the swap:
// a key is reported only when its resolved value changed in the global view,
// in a folder view, or in an override view of either.
package aggregate

import (
	"sort"
	"sync"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// FolderResolver maps a resource to the workspace folder that contains it.
// *workspace.Workspace satisfies it.
type FolderResolver interface {
	GetFolder(path string) (workspace.Folder, bool)
}

// Configuration holds every configuration layer and the views merged from
// them. It is safe for concurrent use.
type Configuration struct {
	mu sync.RWMutex

	defaults   *model.Model
	localUser  *model.Model
	remoteUser *model.Model
	workspace  *model.Model
	folders    map[string]*model.Model // folder URI -> model

	memory        *model.Model
	memoryFolders map[string]*model.Model // folder URI -> model

	resolver FolderResolver

	// Derived views, rebuilt on every swap.
	user         *model.Model
	consolidated *model.Model
	folderViews  map[string]*model.Model
}

// New creates a configuration with the given default layer and no other
// values. resolver may be nil, in which case resources never resolve to a
// folder.
func New(defaults *model.Model, resolver FolderResolver) *Configuration {
	c := &Configuration{
		defaults:      orEmpty(defaults),
		localUser:     model.Empty(),
		remoteUser:    model.Empty(),
		workspace:     model.Empty(),
		folders:       make(map[string]*model.Model),
		memory:        model.Empty(),
		memoryFolders: make(map[string]*model.Model),
		resolver:      resolver,
	}
	c.rebuildLocked()
	return c
}

// SetResolver replaces the folder resolver.
func (c *Configuration) SetResolver(resolver FolderResolver) {
	c.mu.Lock()
	c.resolver = resolver
	c.mu.Unlock()
}

// Defaults returns the default layer.
func (c *Configuration) Defaults() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

// LocalUser returns the local user layer.
func (c *Configuration) LocalUser() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localUser
}

// RemoteUser returns the remote user layer.
func (c *Configuration) RemoteUser() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteUser
}

// User returns the local and remote user layers merged.
func (c *Configuration) User() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Workspace returns the workspace layer.
func (c *Configuration) Workspace() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workspace
}

// Folder returns the layer of the folder with the given URI.
func (c *Configuration) Folder(uri string) (*model.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.folders[uri]
	return m, ok
}

// FolderURIs returns the URIs of all folder layers, sorted.
func (c *Configuration) FolderURIs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.folders)
}

// Memory returns the global memory layer.
func (c *Configuration) Memory() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memory
}

// Consolidated returns the merged global view.
func (c *Configuration) Consolidated() *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consolidated
}

// CompareAndUpdateDefault swaps the default layer. When affectedKeys is
// non-empty only changes touching those keys are reported.
func (c *Configuration) CompareAndUpdateDefault(m *model.Model, affectedKeys []string) model.Change {
	change := c.swap(func() { c.defaults = orEmpty(m) })
	if len(affectedKeys) == 0 {
		return change
	}
	return filterChange(change, affectedKeys)
}

// CompareAndUpdateLocalUser swaps the local user layer.
func (c *Configuration) CompareAndUpdateLocalUser(m *model.Model) model.Change {
	return c.swap(func() { c.localUser = orEmpty(m) })
}

// CompareAndUpdateRemoteUser swaps the remote user layer.
func (c *Configuration) CompareAndUpdateRemoteUser(m *model.Model) model.Change {
	return c.swap(func() { c.remoteUser = orEmpty(m) })
}

// CompareAndUpdateWorkspace swaps the workspace layer.
func (c *Configuration) CompareAndUpdateWorkspace(m *model.Model) model.Change {
	return c.swap(func() { c.workspace = orEmpty(m) })
}

// CompareAndUpdateFolder swaps or adds the layer of a folder.
func (c *Configuration) CompareAndUpdateFolder(uri string, m *model.Model) model.Change {
	return c.swap(func() { c.folders[uri] = orEmpty(m) })
}

// CompareAndDeleteFolder removes the layer of a folder together with its
// memory layer.
func (c *Configuration) CompareAndDeleteFolder(uri string) model.Change {
	return c.swap(func() {
		delete(c.folders, uri)
		delete(c.memoryFolders, uri)
	})
}

// Layers holds the file-backed layers that CompareAndReplace swaps together.
type Layers struct {
	LocalUser  *model.Model
	RemoteUser *model.Model
	Workspace  *model.Model
	Folders    map[string]*model.Model // folder URI -> model
}

// CompareAndReplace swaps every file-backed layer at once. The default and
// memory layers are kept, except the memory layers of folders that are no
// longer present.
func (c *Configuration) CompareAndReplace(l Layers) model.Change {
	return c.swap(func() {
		c.localUser = orEmpty(l.LocalUser)
		c.remoteUser = orEmpty(l.RemoteUser)
		c.workspace = orEmpty(l.Workspace)
		c.folders = make(map[string]*model.Model, len(l.Folders))
		for uri, m := range l.Folders {
			c.folders[uri] = orEmpty(m)
		}
		for uri := range c.memoryFolders {
			if _, ok := c.folders[uri]; !ok {
				delete(c.memoryFolders, uri)
			}
		}
	})
}

// UpdateDefault swaps the default layer without computing a change.
func (c *Configuration) UpdateDefault(m *model.Model) {
	c.update(func() { c.defaults = orEmpty(m) })
}

// UpdateLocalUser swaps the local user layer without computing a change.
func (c *Configuration) UpdateLocalUser(m *model.Model) {
	c.update(func() { c.localUser = orEmpty(m) })
}

// UpdateRemoteUser swaps the remote user layer without computing a change.
func (c *Configuration) UpdateRemoteUser(m *model.Model) {
	c.update(func() { c.remoteUser = orEmpty(m) })
}

// UpdateWorkspace swaps the workspace layer without computing a change.
func (c *Configuration) UpdateWorkspace(m *model.Model) {
	c.update(func() { c.workspace = orEmpty(m) })
}

// UpdateFolder swaps a folder layer without computing a change.
func (c *Configuration) UpdateFolder(uri string, m *model.Model) {
	c.update(func() { c.folders[uri] = orEmpty(m) })
}

// DeleteFolder removes a folder layer without computing a change.
func (c *Configuration) DeleteFolder(uri string) {
	c.update(func() {
		delete(c.folders, uri)
		delete(c.memoryFolders, uri)
	})
}

// UpdateValue sets key in the memory layer. A nil value removes it. When
// overrides.Resource resolves to a folder the folder's memory layer is
// written instead of the global one.
func (c *Configuration) UpdateValue(key string, value any, overrides model.Overrides) model.Change {
	return c.swap(func() {
		uri := c.folderURILocked(overrides.Resource)
		target := c.memory
		if uri != "" {
			target = orEmpty(c.memoryFolders[uri])
		}

		target = setValue(target, key, value, overrides.OverrideIdentifier)

		if uri == "" {
			c.memory = target
			return
		}
		if target.IsEmpty() {
			delete(c.memoryFolders, uri)
			return
		}
		c.memoryFolders[uri] = target
	})
}

func setValue(m *model.Model, key string, value any, overrideIdentifier string) *model.Model {
	if overrideIdentifier == "" {
		if value == nil {
			return m.RemoveValue(key)
		}
		return m.SetValue(key, value)
	}
	ids := []string{overrideIdentifier}
	if value == nil {
		return m.RemoveOverrideValue(ids, key)
	}
	return m.SetOverrideValue(ids, key, value)
}

// GetValue resolves section in the view selected by overrides. An empty
// section returns the whole tree.
func (c *Configuration) GetValue(section string, overrides model.Overrides) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked(overrides.Resource).GetValueFor(section, overrides.OverrideIdentifier)
}

// View returns the merged model for a resource. Resources outside every
// folder get the global view.
func (c *Configuration) View(resource string) *model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked(resource)
}

// Compare reports the net difference between c and other across the global
// view and every folder view either of them has.
func (c *Configuration) Compare(other *Configuration) model.Change {
	if other == nil {
		other = New(nil, nil)
	}
	before := other.views()
	after := c.views()
	return diffViews(before, after)
}

func (c *Configuration) views() map[string]*model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewsLocked()
}

// Snapshot returns a copy of c that shares its immutable models. Later
// swaps on c do not affect the copy.
func (c *Configuration) Snapshot() *Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Configuration{
		defaults:      c.defaults,
		localUser:     c.localUser,
		remoteUser:    c.remoteUser,
		workspace:     c.workspace,
		folders:       make(map[string]*model.Model, len(c.folders)),
		memory:        c.memory,
		memoryFolders: make(map[string]*model.Model, len(c.memoryFolders)),
		resolver:      c.resolver,
		user:          c.user,
		consolidated:  c.consolidated,
		folderViews:   make(map[string]*model.Model, len(c.folderViews)),
	}
	for uri, m := range c.folders {
		out.folders[uri] = m
	}
	for uri, m := range c.memoryFolders {
		out.memoryFolders[uri] = m
	}
	for uri, m := range c.folderViews {
		out.folderViews[uri] = m
	}
	return out
}

// swap applies fn under the lock and reports the net change.
func (c *Configuration) swap(fn func()) model.Change {
	c.mu.Lock()
	before := c.viewsLocked()
	fn()
	c.rebuildLocked()
	after := c.viewsLocked()
	c.mu.Unlock()

	return diffViews(before, after)
}

func (c *Configuration) update(fn func()) {
	c.mu.Lock()
	fn()
	c.rebuildLocked()
	c.mu.Unlock()
}

func (c *Configuration) rebuildLocked() {
	c.user = c.localUser.Merge(c.remoteUser)
	base := c.defaults.Merge(c.user, c.workspace)
	c.consolidated = base.Merge(c.memory)

	views := make(map[string]*model.Model, len(c.folders)+len(c.memoryFolders))
	for uri, folder := range c.folders {
		views[uri] = base.Merge(folder, c.memory, c.memoryFolders[uri])
	}
	for uri, mem := range c.memoryFolders {
		if _, ok := views[uri]; !ok {
			views[uri] = base.Merge(c.memory, mem)
		}
	}
	c.folderViews = views
}

// viewsLocked returns the global view under "" and every folder view under
// its URI. Models are immutable so the map can outlive the lock.
func (c *Configuration) viewsLocked() map[string]*model.Model {
	views := make(map[string]*model.Model, len(c.folderViews)+1)
	views[""] = c.consolidated
	for uri, v := range c.folderViews {
		views[uri] = v
	}
	return views
}

func (c *Configuration) viewLocked(resource string) *model.Model {
	if uri := c.folderURILocked(resource); uri != "" {
		if v, ok := c.folderViews[uri]; ok {
			return v
		}
	}
	return c.consolidated
}

func (c *Configuration) folderURILocked(resource string) string {
	if resource == "" {
		return ""
	}
	if c.resolver != nil {
		if f, ok := c.resolver.GetFolder(resource); ok {
			return f.URI
		}
		return ""
	}
	if _, ok := c.folders[resource]; ok {
		return resource
	}
	return ""
}

func diffViews(before, after map[string]*model.Model) model.Change {
	changes := []model.Change{before[""].Compare(after[""])}

	seen := make(map[string]bool, len(before)+len(after))
	for uri := range before {
		seen[uri] = true
	}
	for uri := range after {
		seen[uri] = true
	}
	delete(seen, "")

	for _, uri := range sortedKeys(seen) {
		b, ok := before[uri]
		if !ok {
			b = before[""]
		}
		a, ok := after[uri]
		if !ok {
			a = after[""]
		}
		if a == b {
			continue
		}
		changes = append(changes, b.Compare(a))
	}
	return model.MergeChanges(changes...)
}

func filterChange(change model.Change, affected []string) model.Change {
	var out model.Change
	for _, k := range change.Keys {
		if notify.Affects(affected, k) {
			out.Keys = append(out.Keys, k)
		}
	}
	headers := affectedIdentifiers(affected)
	for _, o := range change.Overrides {
		keys := o.Keys
		if !headers[o.Identifier] {
			keys = nil
			for _, k := range o.Keys {
				if notify.Affects(affected, k) {
					keys = append(keys, k)
				}
			}
		}
		if len(keys) > 0 {
			out.Overrides = append(out.Overrides, model.OverrideChange{Identifier: o.Identifier, Keys: keys})
		}
	}
	return out
}

// affectedIdentifiers returns the identifiers named by override headers in
// affected. Every key of such an override counts as affected.
func affectedIdentifiers(affected []string) map[string]bool {
	ids := make(map[string]bool)
	for _, k := range affected {
		if !registry.IsOverrideHeader(k) {
			continue
		}
		for _, id := range registry.SplitOverrideHeader(k) {
			ids[id] = true
		}
	}
	return ids
}

func orEmpty(m *model.Model) *model.Model {
	if m == nil {
		return model.Empty()
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
