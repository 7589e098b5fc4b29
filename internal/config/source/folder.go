package source

import (
	"context"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// Folder is the settings file of one workspace folder. In a multi-root
// workspace it admits FolderScopes settings; as the only folder of a
// single-folder workbench it stands in for the workspace and admits
// WorkspaceScopes settings.
type Folder struct {
	folder  workspace.Folder
	file    *settingsFile
	changes *notify.Emitter[Update]
}

var _ FileSource = (*Folder)(nil)

// NewFolder creates the source for folder.
func NewFolder(o Options, folder workspace.Folder, state workspace.WorkbenchState, trusted bool) *Folder {
	scopes := registry.WorkspaceScopes
	if state == workspace.StateWorkspace {
		scopes = registry.FolderScopes
	}
	return &Folder{
		folder: folder,
		file: newSettingsFile("source.folder", folder.SettingsPath(), o, model.ParseOptions{
			Scopes:         scopes,
			SkipRestricted: !trusted,
		}),
		changes: notify.NewEmitter[Update](),
	}
}

// Folder returns the workspace folder.
func (f *Folder) Folder() workspace.Folder { return f.folder }

// Initialize reads the folder settings.
func (f *Folder) Initialize(ctx context.Context) (*model.Model, error) {
	return f.Reload(ctx)
}

// Reload re-reads the folder settings.
func (f *Folder) Reload(ctx context.Context) (*model.Model, error) {
	return f.file.load(ctx)
}

// Model returns the current model.
func (f *Folder) Model() *model.Model { return f.file.current() }

// Restricted returns the restricted keys in the folder settings, including
// those dropped because the workspace is untrusted.
func (f *Folder) Restricted() []string { return f.file.restricted() }

// UpdateWorkspaceTrust reparses with restricted settings admitted or
// dropped.
func (f *Folder) UpdateWorkspaceTrust(trusted bool) *model.Model {
	return f.file.reparse(func(o *model.ParseOptions) { o.SkipRestricted = !trusted })
}

// Reparse re-derives the model against the current registry.
func (f *Folder) Reparse() *model.Model {
	return f.file.reparse(func(*model.ParseOptions) {})
}

// OnDidChange fires after a file change was handled.
func (f *Folder) OnDidChange() notify.Event[Update] { return f.changes }

// FilePaths returns the folder settings path.
func (f *Folder) FilePaths() []string { return []string{f.file.path} }

// HandleFileChange reloads and fires OnDidChange.
func (f *Folder) HandleFileChange(ctx context.Context) {
	m, _ := f.Reload(ctx)
	f.changes.Fire(Update{Model: m})
}

// Close releases listeners.
func (f *Folder) Close() { f.changes.Close() }
