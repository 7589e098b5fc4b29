package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/layerconf/internal/config/aggregate"
	"github.com/dshills/layerconf/internal/config/editing"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/registry"
)

// UpdateValue writes key to target. A nil value removes the key.
//
// With the zero target the targets are derived from the layers that
// already define key: removal clears every such layer, otherwise the most
// specific one is written, or the user layer when none defines it. Writing
// a value that is already resolved does nothing, and a user write of the
// default value removes the key instead.
//
// Persisted writes go through the write backend and then reload the layer
// they touched; the resolved value only changes once that reload has read
// the file back. TargetMemory changes the session layer only.
func (s *WorkspaceService) UpdateValue(ctx context.Context, key string, value any, overrides model.Overrides, target Target) error {
	if s.closed.Load() {
		return ErrClosed
	}
	backend, err := s.writeBackend(ctx)
	if err != nil {
		return err
	}

	targets := []Target{target}
	if target == 0 {
		inspect := s.config.Inspect(key, overrides)
		targets = deriveTargets(value, inspect)
		if len(targets) == 1 && (targets[0] == TargetUser || targets[0] == TargetUserLocal) &&
			value != nil && model.Equal(value, inspect.DefaultValue) {
			value = nil
		}
	}

	var errs []error
	for _, t := range targets {
		if err := s.writeConfigurationValue(ctx, backend, key, value, overrides, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deriveTargets picks the layers an automatic write goes to.
func deriveTargets(value any, inspect aggregate.Inspection) []Target {
	if model.Equal(value, inspect.Value) {
		return nil
	}

	var defined []Target
	if inspect.WorkspaceFolderValue != nil {
		defined = append(defined, TargetWorkspaceFolder)
	}
	if inspect.WorkspaceValue != nil {
		defined = append(defined, TargetWorkspace)
	}
	if inspect.UserRemoteValue != nil {
		defined = append(defined, TargetUserRemote)
	}
	if inspect.UserLocalValue != nil {
		defined = append(defined, TargetUserLocal)
	}

	if value == nil {
		return defined
	}
	if len(defined) > 0 {
		return defined[:1]
	}
	return []Target{TargetUser}
}

func (s *WorkspaceService) writeConfigurationValue(ctx context.Context, backend WriteBackend, key string, value any, overrides model.Overrides, target Target) error {
	switch target {
	case TargetDefault:
		return fmt.Errorf("%w: cannot write %q to %s", ErrInvalidTarget, key, target)
	case TargetMemory:
		return s.locked(func(q *eventQueue) error {
			previous := s.previous()
			s.trigger(q, s.config.UpdateValue(key, value, overrides), previous, TargetMemory)
			return nil
		})
	}

	editable, ok := s.toEditable(target, key)
	if !ok {
		return fmt.Errorf("%w: cannot write %q to %s", ErrInvalidTarget, key, target)
	}
	if editable == editing.TargetUserRemote && s.remoteUser == nil {
		return fmt.Errorf("%w: no remote configured", ErrInvalidTarget)
	}

	if err := backend.WriteConfiguration(ctx, editable, key, value, overrides); err != nil {
		return err
	}

	return s.locked(func(q *eventQueue) error {
		switch editable {
		case editing.TargetUserLocal:
			return s.reloadLocalUser(ctx, q)
		case editing.TargetUserRemote:
			return s.reloadRemoteUser(ctx, q)
		case editing.TargetWorkspaceFolder:
			if f, ok := s.workspace.GetFolder(overrides.Resource); ok {
				return s.reloadFolder(ctx, f.URI, q)
			}
		}
		return s.reloadWorkspace(ctx, q)
	})
}

// toEditable maps target to a file. A user write goes to the remote file
// for machine settings and for keys the remote file already sets.
func (s *WorkspaceService) toEditable(target Target, key string) (editing.Target, bool) {
	if target != TargetUser {
		return target.editable()
	}
	if s.remoteUser != nil {
		if scope, ok := s.registry.ScopeOf(key); ok &&
			(scope == registry.ScopeMachine || scope == registry.ScopeMachineOverridable) {
			return editing.TargetUserRemote, true
		}
		if s.config.Inspect(key, model.Overrides{}).UserRemoteValue != nil {
			return editing.TargetUserRemote, true
		}
	}
	return editing.TargetUserLocal, true
}
