package service

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/source"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// AddFolders adds folders at index. A negative or out-of-range index
// appends.
func (s *WorkspaceService) AddFolders(ctx context.Context, folders []workspace.FolderCreationData, index int) error {
	return s.UpdateFolders(ctx, folders, nil, index)
}

// RemoveFolders removes the folders named by path or URI.
func (s *WorkspaceService) RemoveFolders(ctx context.Context, folders []string) error {
	return s.UpdateFolders(ctx, nil, folders, -1)
}

// UpdateFolders removes and adds workspace folders in one edit of the
// workspace file. Concurrent calls are applied one at a time in arrival
// order.
//
// Additions that already exist are ignored. Additions that are not
// directories are dropped, or rejected with ErrNotADirectory under
// StrictFolders. When nothing changes no event fires.
//
// In the empty state the first valid addition is opened as a single
// folder. In the single-folder state the call does nothing.
func (s *WorkspaceService) UpdateFolders(ctx context.Context, add []workspace.FolderCreationData, remove []string, index int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	backend, err := s.writeBackend(ctx)
	if err != nil {
		return err
	}
	if err := s.folderQueue.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.folderQueue.Release(1)

	return s.locked(func(q *eventQueue) error {
		return s.doUpdateFolders(ctx, backend, add, remove, index, q)
	})
}

func (s *WorkspaceService) doUpdateFolders(ctx context.Context, backend WriteBackend, add []workspace.FolderCreationData, remove []string, index int, q *eventQueue) error {
	switch s.workspace.State() {
	case workspace.StateEmpty:
		return s.openFirstFolder(ctx, add, q)
	case workspace.StateFolder:
		s.logger.Debug("folder update ignored without a workspace file")
		return nil
	}

	current := s.workspace.Folders()
	removed := make(map[string]bool, len(remove))
	for _, r := range remove {
		removed[toFolderURI(r)] = true
	}

	stored := make([]workspace.StoredFolder, 0, len(current)+len(add))
	for _, f := range current {
		if !removed[f.URI] {
			stored = append(stored, f.Raw)
		}
	}
	changed := len(stored) != len(current)

	if len(add) > 0 {
		wsDir := filepath.Dir(s.workspace.Configuration())
		useSlash := workspace.UseSlashForPath(stored)
		present := make(map[string]bool, len(current))
		for _, f := range current {
			present[f.URI] = true
		}

		var additions []workspace.StoredFolder
		for _, data := range add {
			f := workspace.NewFolder(data.Path, data.Name, 0)
			if present[f.URI] {
				continue
			}
			if err := s.probeFolder(f.Path); err != nil {
				if s.opts.FolderPolicy == StrictFolders {
					return err
				}
				s.logger.Debug("dropping folder", "path", f.Path, "error", err)
				continue
			}
			present[f.URI] = true
			additions = append(additions, workspace.ToStored(f.Path, data.Name, wsDir, useSlash))
		}

		if len(additions) > 0 {
			changed = true
			if index >= 0 && index < len(stored) {
				stored = slices.Insert(stored, index, additions...)
			} else {
				stored = append(stored, additions...)
			}
		}
	}

	if !changed {
		return nil
	}
	return s.setFolders(ctx, backend, stored, q)
}

// probeFolder fails when path exists and is not a directory. Stat failures
// keep the folder; under StrictFolders a missing path is rejected too.
func (s *WorkspaceService) probeFolder(path string) error {
	info, err := s.fs.Stat(path)
	if err != nil {
		if s.opts.FolderPolicy == StrictFolders {
			return fmt.Errorf("%w: %s", ErrNotADirectory, path)
		}
		s.logger.Warn("ignoring error while validating folder", "path", path, "error", err)
		return nil
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}
	return nil
}

func (s *WorkspaceService) setFolders(ctx context.Context, backend WriteBackend, stored []workspace.StoredFolder, q *eventQueue) error {
	if s.workspaceSource == nil {
		return ErrNoWorkspace
	}
	if err := s.workspaceSource.SetFolders(ctx, stored, backend); err != nil {
		return err
	}
	return s.onWorkspaceConfigurationChanged(ctx, false, q)
}

// openFirstFolder turns an empty workbench into a single-folder one.
func (s *WorkspaceService) openFirstFolder(ctx context.Context, add []workspace.FolderCreationData, q *eventQueue) error {
	for i, data := range add {
		f := workspace.NewFolder(data.Path, data.Name, 0)
		if err := s.probeFolder(f.Path); err != nil {
			if s.opts.FolderPolicy == StrictFolders {
				return err
			}
			continue
		}
		if rest := len(add) - i - 1; rest > 0 {
			s.logger.Warn("only one folder can be opened without a workspace file", "path", f.Path, "ignored", rest)
		}
		return s.initializeLocked(ctx, workspace.NewSingleFolderIdentifier(f.Path), q)
	}
	return nil
}

// onWorkspaceConfigurationChanged reconciles the workspace with the
// workspace file.
func (s *WorkspaceService) onWorkspaceConfigurationChanged(ctx context.Context, fromCache bool, q *eventQueue) error {
	if s.workspaceSource == nil || s.workspace.Configuration() == "" {
		return nil
	}
	folders := workspace.ToFolders(s.workspaceSource.Folders(), filepath.Dir(s.workspace.Configuration()))
	if s.workspace.Initialized() {
		if workspace.CompareFolders(s.workspace.Folders(), folders).IsEmpty() {
			folders = s.workspace.Folders()
		} else {
			folders = s.validFolders(folders)
		}
	}
	return s.updateWorkspaceConfiguration(ctx, folders, s.workspaceSource.Model(), fromCache, q)
}

func (s *WorkspaceService) updateWorkspaceConfiguration(ctx context.Context, folders []workspace.Folder, settings *model.Model, fromCache bool, q *eventQueue) error {
	previous := s.previous()
	change := s.config.CompareAndUpdateWorkspace(settings)

	changes := workspace.CompareFolders(s.workspace.Folders(), folders)
	if changes.IsEmpty() {
		s.trigger(q, change, previous, TargetWorkspace)
		s.updateRestricted(q)
		return nil
	}

	s.workspace.SetFolders(folders)
	folderChange, err := s.onFoldersChanged(ctx)
	s.queueWillChangeFolders(q, changes, fromCache)
	s.trigger(q, model.MergeChanges(change, folderChange), previous, TargetWorkspaceFolder)
	q.add(func() { s.onDidChangeWorkspaceFolders.Fire(changes) })
	s.updateRestricted(q)
	return err
}

// validFolders drops folders that exist but are not directories.
func (s *WorkspaceService) validFolders(folders []workspace.Folder) []workspace.Folder {
	valid := make([]workspace.Folder, 0, len(folders))
	for _, f := range folders {
		info, err := s.fs.Stat(f.Path)
		if err != nil {
			s.logger.Warn("ignoring error while validating folder", "path", f.Path, "error", err)
		} else if !info.IsDir() {
			continue
		}
		valid = append(valid, f)
	}
	return valid
}

// validateWorkspaceFoldersAndReload runs once when the workspace becomes
// complete.
func (s *WorkspaceService) validateWorkspaceFoldersAndReload(ctx context.Context, fromCache bool, q *eventQueue) {
	folders := s.workspace.Folders()
	valid := s.validFolders(folders)
	if len(valid) == len(folders) {
		return
	}
	settings := s.config.Workspace()
	if s.workspaceSource != nil {
		settings = s.workspaceSource.Model()
	}
	if err := s.updateWorkspaceConfiguration(ctx, valid, settings, fromCache, q); err != nil {
		s.logger.Warn("failed to reload folders", "error", err)
	}
}

// onFoldersChanged drops the layers of removed folders and loads the
// layers of added ones.
func (s *WorkspaceService) onFoldersChanged(ctx context.Context) (model.Change, error) {
	before := s.config.Snapshot()

	current := s.workspace.Folders()
	present := make(map[string]bool, len(current))
	for _, f := range current {
		present[f.URI] = true
	}
	for uri := range s.folders {
		if !present[uri] {
			s.disposeFolder(uri)
			s.config.DeleteFolder(uri)
		}
	}

	var toLoad []workspace.Folder
	for _, f := range current {
		if _, ok := s.folders[f.URI]; !ok {
			toLoad = append(toLoad, f)
		}
	}
	models, err := s.loadFolderConfigurations(ctx, toLoad)
	for uri, m := range models {
		s.config.UpdateFolder(uri, m)
	}
	return s.config.Compare(before), err
}

// loadFolderConfigurations creates, watches and reads the sources of
// folders in parallel. It returns the models by folder URI.
func (s *WorkspaceService) loadFolderConfigurations(ctx context.Context, folders []workspace.Folder) (map[string]*model.Model, error) {
	state := s.workspace.State()
	sources := make([]*source.Folder, len(folders))
	for i, f := range folders {
		s.disposeFolder(f.URI)
		src := source.NewFolder(s.sourceOptions(), f, state, s.trusted)
		uri := f.URI
		sub := src.OnDidChange().Subscribe(func(source.Update) {
			s.onFolderFileChanged(uri)
		})
		s.folders[uri] = &folderEntry{source: src, sub: sub}
		s.watch(src.FilePaths()...)
		sources[i] = src
	}

	results := make([]*model.Model, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			m, err := src.Initialize(gctx)
			results[i] = m
			return ctxErr(gctx, err)
		})
	}
	err := g.Wait()

	models := make(map[string]*model.Model, len(folders))
	for i, f := range folders {
		models[f.URI] = results[i]
	}
	return models, err
}

// disposeFolder releases the source of a folder. Callers hold s.mu.
func (s *WorkspaceService) disposeFolder(uri string) {
	entry, ok := s.folders[uri]
	if !ok {
		return
	}
	entry.sub.Unsubscribe()
	s.unwatch(entry.source.FilePaths()...)
	entry.source.Close()
	delete(s.folders, uri)
}

// toFolderURI normalizes a folder path or URI to a folder URI.
func toFolderURI(pathOrURI string) string {
	if strings.HasPrefix(pathOrURI, "file://") {
		if p, err := workspace.URIToPath(pathOrURI); err == nil {
			return workspace.PathToURI(filepath.Clean(p))
		}
		return pathOrURI
	}
	return workspace.PathToURI(filepath.Clean(pathOrURI))
}
