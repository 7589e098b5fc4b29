package service

import (
	"context"

	"github.com/dshills/layerconf/internal/config/aggregate"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// Previous is the state a change event moved away from.
type Previous struct {
	Workspace *workspace.Workspace

	config *aggregate.Configuration
}

// Data returns the previous configuration layers.
func (p Previous) Data() aggregate.Data {
	if p.config == nil {
		return aggregate.Data{}
	}
	return p.config.ToData()
}

// Configuration returns the previous configuration.
func (p Previous) Configuration() *aggregate.Configuration {
	return p.config
}

// ChangeEvent is fired by OnDidChangeConfiguration. Keys hold the net
// effect on resolved values.
type ChangeEvent struct {
	model.Change

	// Source is the layer that changed.
	Source Target

	// SourceConfig is the contents of the default, user or workspace layer
	// for those sources, and empty otherwise.
	SourceConfig map[string]any

	Previous Previous

	current *aggregate.Configuration
}

// AffectsConfiguration reports whether section, one of its ancestors, or
// one of its descendants changed. With a resource the value resolved for
// that resource must also differ from before.
func (e ChangeEvent) AffectsConfiguration(section string, overrides model.Overrides) bool {
	if !e.Change.Affects(section, overrides.OverrideIdentifier) {
		return false
	}
	if overrides.Resource == "" || e.current == nil || e.Previous.config == nil {
		return true
	}
	before := e.Previous.config.GetValue(section, overrides)
	after := e.current.GetValue(section, overrides)
	return !model.Equal(before, after)
}

// WillChangeFoldersEvent is fired by OnWillChangeWorkspaceFolders before the
// configuration change and OnDidChangeWorkspaceFolders events of a folder
// update. Listeners may Join work that must finish first.
type WillChangeFoldersEvent struct {
	workspace.FoldersChange

	// FromCache is set when the folders come from the cached workspace file.
	FromCache bool

	join func(func(context.Context) error)
}

// Join registers fn to run before the folder change completes. Errors are
// logged and do not stop the change.
func (e WillChangeFoldersEvent) Join(fn func(context.Context) error) {
	if e.join != nil && fn != nil {
		e.join(fn)
	}
}

// eventQueue collects events raised while the service lock is held. They
// fire in order once the lock is released.
type eventQueue struct {
	fns []func()
}

func (q *eventQueue) add(fn func()) {
	q.fns = append(q.fns, fn)
}

func (q *eventQueue) flush() {
	for _, fn := range q.fns {
		fn()
	}
	q.fns = nil
}
