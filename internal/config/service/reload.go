package service

import (
	"context"
	"fmt"

	"github.com/dshills/layerconf/internal/config/aggregate"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/source"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// ReloadConfiguration re-reads the layers of target. The zero target
// reloads the user layers and the workspace, then rebuilds every folder
// source. TargetUser reloads both user layers and rebuilds as well; the
// other targets reload only their layer.
func (s *WorkspaceService) ReloadConfiguration(ctx context.Context, target Target) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.locked(func(q *eventQueue) error {
		switch target {
		case 0:
			local, remote, err := s.reloadUserModels(ctx)
			if err != nil {
				return err
			}
			if s.workspaceSource != nil {
				if _, err := s.workspaceSource.Reload(ctx); err != nil {
					s.logger.Warn("workspace reload failed", "error", err)
				}
			}
			return s.loadConfiguration(ctx, local, remote, q)
		case TargetUser:
			local, remote, err := s.reloadUserModels(ctx)
			if err != nil {
				return err
			}
			return s.loadConfiguration(ctx, local, remote, q)
		case TargetUserLocal:
			return s.reloadLocalUser(ctx, q)
		case TargetUserRemote:
			if s.remoteUser == nil {
				return fmt.Errorf("%w: no remote configured", ErrInvalidTarget)
			}
			return s.reloadRemoteUser(ctx, q)
		case TargetWorkspace, TargetWorkspaceFolder:
			return s.reloadWorkspace(ctx, q)
		case TargetDefault:
			if _, err := s.defaults.Reload(ctx); err != nil {
				return err
			}
			s.applyDefaults(nil, q)
			return nil
		}
		return fmt.Errorf("%w: cannot reload %s", ErrInvalidTarget, target)
	})
}

// ReloadFolder re-reads the settings of the folder named by path or URI.
func (s *WorkspaceService) ReloadFolder(ctx context.Context, folder string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	uri := toFolderURI(folder)
	return s.locked(func(q *eventQueue) error {
		return s.reloadFolder(ctx, uri, q)
	})
}

func (s *WorkspaceService) reloadUserModels(ctx context.Context) (local, remote *model.Model, err error) {
	local, err = s.localUser.Reload(ctx)
	if err != nil {
		s.logger.Warn("user settings reload failed", "path", s.localUser.Path(), "error", err)
	}
	if s.remoteUser != nil {
		remote, err = s.remoteUser.Reload(ctx)
		if err != nil {
			s.logger.Warn("remote settings reload failed", "path", s.remoteUser.Path(), "error", err)
		}
	}
	return local, remote, ctx.Err()
}

func (s *WorkspaceService) reloadLocalUser(ctx context.Context, q *eventQueue) error {
	_, err := s.localUser.Reload(ctx)
	s.applyLocalUser(q)
	return err
}

func (s *WorkspaceService) reloadRemoteUser(ctx context.Context, q *eventQueue) error {
	_, err := s.remoteUser.Reload(ctx)
	s.applyRemoteUser(q)
	return err
}

func (s *WorkspaceService) reloadWorkspace(ctx context.Context, q *eventQueue) error {
	switch s.workspace.State() {
	case workspace.StateFolder:
		return s.reloadFolder(ctx, s.workspace.Folders()[0].URI, q)
	case workspace.StateWorkspace:
		if s.workspaceSource == nil {
			return nil
		}
		if _, err := s.workspaceSource.Reload(ctx); err != nil {
			s.logger.Warn("workspace reload failed", "error", err)
		}
		return s.onWorkspaceConfigurationChanged(ctx, false, q)
	}
	return nil
}

func (s *WorkspaceService) reloadFolder(ctx context.Context, uri string, q *eventQueue) error {
	entry, ok := s.folders[uri]
	if !ok {
		return fmt.Errorf("%w: %s", workspace.ErrFolderNotFound, uri)
	}
	_, err := entry.source.Reload(ctx)
	s.applyFolder(uri, q)
	return err
}

// loadConfiguration recreates the folder sources and swaps every
// file-backed layer at once. The first load announces every key.
func (s *WorkspaceService) loadConfiguration(ctx context.Context, local, remote *model.Model, q *eventQueue) error {
	previous := s.previous()

	for uri := range s.folders {
		s.disposeFolder(uri)
	}
	folders := s.workspace.Folders()
	folderModels, err := s.loadFolderConfigurations(ctx, folders)
	if err != nil {
		return err
	}

	layers := aggregate.Layers{
		LocalUser:  local,
		RemoteUser: remote,
		Folders:    folderModels,
	}
	switch s.workspace.State() {
	case workspace.StateFolder:
		layers.Workspace = folderModels[folders[0].URI]
	case workspace.StateWorkspace:
		if s.workspaceSource != nil {
			layers.Workspace = s.workspaceSource.Model()
		}
	}
	change := s.config.CompareAndReplace(layers)

	if s.initialized {
		s.trigger(q, change, previous, TargetWorkspace)
	} else {
		s.initialized = true
		all := s.config.Compare(aggregate.New(model.Empty(), nil))
		s.queueChange(q, all, previous, TargetWorkspace)
	}
	s.updateRestricted(q)
	return nil
}

func (s *WorkspaceService) applyLocalUser(q *eventQueue) {
	previous := s.previous()
	change := s.config.CompareAndUpdateLocalUser(s.localUser.Model())
	s.trigger(q, change, previous, TargetUser)
	s.updateRestricted(q)
}

func (s *WorkspaceService) applyRemoteUser(q *eventQueue) {
	previous := s.previous()
	change := s.config.CompareAndUpdateRemoteUser(s.remoteUser.Model())
	s.trigger(q, change, previous, TargetUser)
	s.updateRestricted(q)
}

// applyFolder swaps in the current model of a folder source. The only
// folder of a single-folder workbench is the workspace layer as well.
func (s *WorkspaceService) applyFolder(uri string, q *eventQueue) {
	entry, ok := s.folders[uri]
	if !ok {
		return
	}
	previous := s.previous()
	m := entry.source.Model()

	if s.workspace.State() == workspace.StateFolder {
		s.config.UpdateFolder(uri, m)
		s.config.UpdateWorkspace(m)
		s.trigger(q, s.config.Compare(previous.config), previous, TargetWorkspace)
	} else {
		s.trigger(q, s.config.CompareAndUpdateFolder(uri, m), previous, TargetWorkspaceFolder)
	}
	s.updateRestricted(q)
}

// applyDefaults swaps in the default model and re-derives every other
// layer against the updated registry. Only changes touching keys are
// reported when keys is non-empty.
func (s *WorkspaceService) applyDefaults(keys []string, q *eventQueue) {
	previous := s.previous()
	change := s.config.CompareAndUpdateDefault(s.defaults.Model(), keys)

	if s.hasWorkspace {
		before := s.config.Snapshot()
		s.config.UpdateLocalUser(s.localUser.Reparse())
		if s.remoteUser != nil {
			s.config.UpdateRemoteUser(s.remoteUser.Reparse())
		}
		for uri, entry := range s.folders {
			s.config.UpdateFolder(uri, entry.source.Reparse())
		}
		switch s.workspace.State() {
		case workspace.StateWorkspace:
			if s.workspaceSource != nil {
				s.config.UpdateWorkspace(s.workspaceSource.Reparse())
			}
		case workspace.StateFolder:
			if m, ok := s.config.Folder(s.workspace.Folders()[0].URI); ok {
				s.config.UpdateWorkspace(m)
			}
		}
		change = model.MergeChanges(change, s.config.Compare(before))
	}

	s.trigger(q, change, previous, TargetDefault)
	s.updateRestricted(q)
}

func (s *WorkspaceService) onDefaultChanged(keys []string) {
	_ = s.locked(func(q *eventQueue) error {
		s.applyDefaults(keys, q)
		return nil
	})
}

func (s *WorkspaceService) onLocalUserChanged(*model.Model) {
	_ = s.locked(func(q *eventQueue) error {
		s.applyLocalUser(q)
		return nil
	})
}

func (s *WorkspaceService) onRemoteUserChanged(*model.Model) {
	_ = s.locked(func(q *eventQueue) error {
		s.applyRemoteUser(q)
		return nil
	})
}

// onWorkspaceFileChanged handles a change of the workspace file read by
// src. Changes of a replaced source are ignored.
func (s *WorkspaceService) onWorkspaceFileChanged(src *source.Workspace) {
	_ = s.locked(func(q *eventQueue) error {
		if src != s.workspaceSource {
			return nil
		}
		s.workspace.SetInitialized(src.Initialized())
		if err := s.onWorkspaceConfigurationChanged(s.ctx, false, q); err != nil {
			s.logger.Warn("failed to apply workspace file change", "path", src.Path(), "error", err)
		}
		s.checkAndMarkWorkspaceComplete(s.ctx, false, q)
		return nil
	})
}

// onFolderFileChanged handles a change of a folder settings file. Folders
// removed in the meantime are ignored.
func (s *WorkspaceService) onFolderFileChanged(uri string) {
	_ = s.locked(func(q *eventQueue) error {
		s.applyFolder(uri, q)
		return nil
	})
}
