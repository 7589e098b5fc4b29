// Package source implements the configuration sources that feed the
// aggregate: defaults from the registry, the local and remote user settings
// files, the multi-root workspace file and the per-folder settings files.
//
// Sources never fail a reload. I/O errors and malformed content are logged
// and the last good model is kept; a missing file yields the empty model.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
)

// Source is one configuration layer provider.
type Source interface {
	// Initialize loads the source for the first time.
	Initialize(ctx context.Context) (*model.Model, error)

	// Reload re-reads the source. The returned error is informational; the
	// returned model is always usable.
	Reload(ctx context.Context) (*model.Model, error)

	// Model returns the current model.
	Model() *model.Model

	// Restricted returns the restricted keys present in the source.
	Restricted() []string

	// OnDidChange fires when the source changed on its own, for example
	// after a file change or a registry update.
	OnDidChange() notify.Event[Update]
}

// Update is delivered by Source.OnDidChange.
type Update struct {
	Model *model.Model

	// Keys lists the affected keys of a default layer update.
	Keys []string
}

// FileSource is a source backed by files that can be watched.
type FileSource interface {
	Source

	// FilePaths returns the files the source reads.
	FilePaths() []string

	// HandleFileChange reloads after one of FilePaths changed and fires
	// OnDidChange.
	HandleFileChange(ctx context.Context)
}

// Options carries the dependencies shared by all sources.
type Options struct {
	FS       vfs.VFS
	Registry *registry.Registry
	Logger   logging.Logger

	// StrictOverrides drops unregistered keys inside override sections.
	StrictOverrides bool
}

func (o Options) logger(component string) logging.Logger {
	return logging.Component(o.Logger, component)
}

// settingsFile reads and parses one JSON settings file, keeping the last
// good parse.
type settingsFile struct {
	name     string
	fs       vfs.VFS
	path     string
	registry *registry.Registry
	logger   logging.Logger

	mu     sync.Mutex
	opts   model.ParseOptions
	parser *model.Parser
	model  *model.Model
}

func newSettingsFile(name, path string, o Options, opts model.ParseOptions) *settingsFile {
	opts.SkipUnknownOverrideKeys = o.StrictOverrides
	return &settingsFile{
		name:     name,
		fs:       o.FS,
		path:     path,
		registry: o.Registry,
		logger:   o.logger(name),
		opts:     opts,
		model:    model.Empty(),
	}
}

// read returns the file content. A missing file returns nil content and
// exists false.
func (f *settingsFile) read(ctx context.Context) (content []byte, exists bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	content, err = f.fs.ReadFile(f.path)
	if vfs.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		f.logger.Warn("failed to read settings", "path", f.path, "error", err)
		return nil, false, fmt.Errorf("reading %s: %w", f.path, err)
	}
	return content, true, nil
}

// load reads and parses the file. On read errors the previous model is
// returned with the error.
func (f *settingsFile) load(ctx context.Context) (*model.Model, error) {
	content, _, err := f.read(ctx)
	if err != nil {
		return f.current(), err
	}
	return f.parse(content), nil
}

// parse parses content. Malformed content keeps the previous good model.
func (f *settingsFile) parse(content []byte) *model.Model {
	f.mu.Lock()
	defer f.mu.Unlock()

	parser := model.NewParser(f.path, f.registry)
	parser.Parse(content, f.opts)

	if parser.HasParseError() {
		f.logger.Error("invalid settings file, keeping last good settings", "path", f.path, "errors", parser.Errors())
		if f.parser != nil {
			return f.model
		}
	} else if errs := parser.Errors(); len(errs) > 0 {
		f.logger.Warn("ignored conflicting settings", "path", f.path, "errors", errs)
	}

	f.parser = parser
	f.model = parser.Model()
	return f.model
}

// reparse re-filters the last content with opts.
func (f *settingsFile) reparse(mutate func(*model.ParseOptions)) *model.Model {
	f.mu.Lock()
	defer f.mu.Unlock()

	mutate(&f.opts)
	if f.parser != nil {
		f.parser.Reparse(f.opts)
		f.model = f.parser.Model()
	}
	return f.model
}

func (f *settingsFile) current() *model.Model {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *settingsFile) restricted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parser == nil {
		return nil
	}
	return f.parser.Restricted()
}
