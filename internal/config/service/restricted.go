package service

import (
	"slices"
	"sort"

	"github.com/dshills/layerconf/internal/project/workspace"
)

// RestrictedSettings lists the restricted settings per layer. Default holds
// every registered restricted setting; the other layers hold the
// restricted settings their files set, whether or not trust admits them.
type RestrictedSettings struct {
	Default         []string            `json:"default" yaml:"default"`
	UserLocal       []string            `json:"userLocal,omitempty" yaml:"userLocal,omitempty"`
	UserRemote      []string            `json:"userRemote,omitempty" yaml:"userRemote,omitempty"`
	Workspace       []string            `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	WorkspaceFolder map[string][]string `json:"workspaceFolder,omitempty" yaml:"workspaceFolder,omitempty"`
}

// Keys returns every restricted key set by a file, sorted and unique.
func (r RestrictedSettings) Keys() []string {
	var keys []string
	keys = append(keys, r.UserLocal...)
	keys = append(keys, r.UserRemote...)
	keys = append(keys, r.Workspace...)
	for _, folder := range r.WorkspaceFolder {
		keys = append(keys, folder...)
	}
	sort.Strings(keys)
	return slices.Compact(keys)
}

func (r RestrictedSettings) clone() RestrictedSettings {
	out := RestrictedSettings{
		Default:    slices.Clone(r.Default),
		UserLocal:  slices.Clone(r.UserLocal),
		UserRemote: slices.Clone(r.UserRemote),
		Workspace:  slices.Clone(r.Workspace),
	}
	if r.WorkspaceFolder != nil {
		out.WorkspaceFolder = make(map[string][]string, len(r.WorkspaceFolder))
		for uri, keys := range r.WorkspaceFolder {
			out.WorkspaceFolder[uri] = slices.Clone(keys)
		}
	}
	return out
}

func (r RestrictedSettings) equal(other RestrictedSettings) bool {
	if !slices.Equal(r.Default, other.Default) ||
		!slices.Equal(r.UserLocal, other.UserLocal) ||
		!slices.Equal(r.UserRemote, other.UserRemote) ||
		!slices.Equal(r.Workspace, other.Workspace) ||
		len(r.WorkspaceFolder) != len(other.WorkspaceFolder) {
		return false
	}
	for uri, keys := range r.WorkspaceFolder {
		if !slices.Equal(keys, other.WorkspaceFolder[uri]) {
			return false
		}
	}
	return true
}

// computeRestricted rebuilds the restricted settings from the sources.
// Callers hold s.mu.
func (s *WorkspaceService) computeRestricted() RestrictedSettings {
	r := RestrictedSettings{
		Default:   sortedOrNil(s.defaults.Restricted()),
		UserLocal: sortedOrNil(s.localUser.Restricted()),
	}
	if s.remoteUser != nil {
		r.UserRemote = sortedOrNil(s.remoteUser.Restricted())
	}

	folders := s.workspace.Folders()
	for _, f := range folders {
		entry, ok := s.folders[f.URI]
		if !ok {
			continue
		}
		if keys := sortedOrNil(entry.source.Restricted()); keys != nil {
			if r.WorkspaceFolder == nil {
				r.WorkspaceFolder = make(map[string][]string)
			}
			r.WorkspaceFolder[f.URI] = keys
		}
	}

	switch s.workspace.State() {
	case workspace.StateWorkspace:
		if s.workspaceSource != nil {
			r.Workspace = sortedOrNil(s.workspaceSource.Restricted())
		}
	case workspace.StateFolder:
		r.Workspace = r.WorkspaceFolder[folders[0].URI]
	}
	return r
}

// updateRestricted recomputes the restricted settings and queues
// OnDidChangeRestrictedSettings when any layer's set changed.
func (s *WorkspaceService) updateRestricted(q *eventQueue) {
	next := s.computeRestricted()
	current := s.restricted.Load()
	if current != nil && current.equal(next) {
		return
	}
	s.restricted.Store(&next)
	snapshot := next.clone()
	q.add(func() { s.onDidChangeRestrictedSettings.Fire(snapshot) })
}

func sortedOrNil(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := slices.Clone(keys)
	sort.Strings(out)
	return slices.Compact(out)
}
