package source

import (
	"context"
	"sync"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/logging"
)

// Default derives the default layer from the registry. It rebuilds
// whenever the registry changes and never fails.
type Default struct {
	registry *registry.Registry
	logger   logging.Logger
	changes  *notify.Emitter[Update]
	sub      *notify.Subscription

	mu    sync.RWMutex
	model *model.Model
}

var _ Source = (*Default)(nil)

// NewDefault creates the default source and subscribes to registry updates.
func NewDefault(o Options) *Default {
	d := &Default{
		registry: o.Registry,
		logger:   o.logger("source.default"),
		changes:  notify.NewEmitter[Update](),
		model:    model.Empty(),
	}
	d.sub = o.Registry.OnDidUpdate().Subscribe(d.onRegistryUpdate)
	return d
}

// Initialize builds the default model.
func (d *Default) Initialize(ctx context.Context) (*model.Model, error) {
	return d.Reload(ctx)
}

// Reload rebuilds the default model.
func (d *Default) Reload(context.Context) (*model.Model, error) {
	m := d.build()
	d.mu.Lock()
	d.model = m
	d.mu.Unlock()
	return m, nil
}

// Model returns the current default model.
func (d *Default) Model() *model.Model {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model
}

// Restricted returns every registered restricted key.
func (d *Default) Restricted() []string {
	return d.registry.RestrictedKeys()
}

// OnDidChange fires after a registry update with the affected keys.
func (d *Default) OnDidChange() notify.Event[Update] {
	return d.changes
}

// Close stops listening to the registry.
func (d *Default) Close() {
	d.sub.Unsubscribe()
	d.changes.Close()
}

func (d *Default) build() *model.Model {
	return model.FromFlat(d.registry.Defaults()).WithOverrides(d.registry.DefaultOverrides())
}

func (d *Default) onRegistryUpdate(keys []string) {
	m, _ := d.Reload(context.Background())
	d.logger.Debug("registry updated", "keys", keys)
	d.changes.Fire(Update{Model: m, Keys: keys})
}
