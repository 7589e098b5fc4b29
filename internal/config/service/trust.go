package service

import (
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// UpdateWorkspaceTrust admits or drops restricted settings in the
// workspace and folder layers. The change event lists every restricted key
// set by a file, whether or not its resolved value moved.
func (s *WorkspaceService) UpdateWorkspaceTrust(trusted bool) {
	if s.closed.Load() {
		return
	}
	_ = s.locked(func(q *eventQueue) error {
		if s.trusted == trusted {
			return nil
		}
		s.trusted = trusted
		s.logger.Info("workspace trust changed", "trusted", trusted)

		previous := s.previous()
		for uri, entry := range s.folders {
			s.config.UpdateFolder(uri, entry.source.UpdateWorkspaceTrust(trusted))
		}
		switch s.workspace.State() {
		case workspace.StateWorkspace:
			if s.workspaceSource != nil {
				s.config.UpdateWorkspace(s.workspaceSource.UpdateWorkspaceTrust(trusted))
			}
		case workspace.StateFolder:
			if m, ok := s.config.Folder(s.workspace.Folders()[0].URI); ok {
				s.config.UpdateWorkspace(m)
			}
		}
		s.updateRestricted(q)

		restricted := s.computeRestricted()
		change := model.MergeChanges(s.config.Compare(previous.config), model.Change{Keys: restricted.Keys()})
		s.trigger(q, change, previous, TargetWorkspace)
		return nil
	})
}
