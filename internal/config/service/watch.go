package service

import (
	"path/filepath"

	"github.com/dshills/layerconf/internal/config/source"
	"github.com/dshills/layerconf/internal/config/watcher"
)

func (s *WorkspaceService) watch(paths ...string) {
	if s.opts.Watcher == nil {
		return
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.opts.Watcher.Watch(p); err != nil {
			s.logger.Warn("cannot watch settings file", "path", p, "error", err)
		}
	}
}

func (s *WorkspaceService) unwatch(paths ...string) {
	if s.opts.Watcher == nil {
		return
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.opts.Watcher.Unwatch(p); err != nil {
			s.logger.Debug("unwatch failed", "path", p, "error", err)
		}
	}
}

// handleFileEvent reloads the sources reading the changed file. Sources
// are looked up under the lock and reloaded outside it; their change
// handlers take the lock again.
func (s *WorkspaceService) handleFileEvent(event watcher.Event) {
	if s.closed.Load() {
		return
	}

	s.mu.Lock()
	candidates := []source.FileSource{s.localUser}
	if s.remoteUser != nil {
		candidates = append(candidates, s.remoteUser)
	}
	if s.workspaceSource != nil {
		candidates = append(candidates, s.workspaceSource)
	}
	for _, entry := range s.folders {
		candidates = append(candidates, entry.source)
	}
	s.mu.Unlock()

	changed := filepath.Clean(event.Path)
	for _, src := range candidates {
		for _, p := range src.FilePaths() {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil && abs == changed {
				s.logger.Debug("settings file changed", "path", changed, "op", event.Op)
				src.HandleFileChange(s.ctx)
				break
			}
		}
	}
}
