// Package workspace models the set of folders the configuration engine
// serves: an empty window, a single folder, or a multi-root workspace
// described by a workspace file.
package workspace

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

// Common errors.
var (
	ErrFolderNotFound = errors.New("folder not found in workspace")
	ErrInvalidPath    = errors.New("invalid folder path")

	// ErrInvalidWorkspaceFile is returned by ParseFile.
	ErrInvalidWorkspaceFile = errors.New("invalid workspace file")
)

// WorkbenchState describes what kind of workspace is open.
type WorkbenchState int

const (
	// StateEmpty means no folder and no workspace file is open.
	StateEmpty WorkbenchState = iota + 1
	// StateFolder means exactly one folder is open without a workspace file.
	StateFolder
	// StateWorkspace means a workspace file is open.
	StateWorkspace
)

// String returns the state name.
func (s WorkbenchState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFolder:
		return "folder"
	case StateWorkspace:
		return "workspace"
	default:
		return "unknown"
	}
}

// Folder represents a single folder in the workspace.
type Folder struct {
	// URI is the folder path as a URI (file://)
	URI string `json:"uri" yaml:"uri"`
	// Path is the local file system path
	Path string `json:"path" yaml:"path"`
	// Name is the display name for the folder
	Name string `json:"name" yaml:"name"`
	// Index is the position of the folder in the workspace.
	Index int `json:"index" yaml:"index"`
	// Raw is the entry the folder was read from, if any.
	Raw StoredFolder `json:"-" yaml:"-"`
}

// NewFolder creates a folder for path. An empty name uses the base name.
func NewFolder(path, name string, index int) Folder {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return Folder{
		URI:   PathToURI(path),
		Path:  path,
		Name:  name,
		Index: index,
	}
}

// SettingsPath returns the path of the folder settings file.
func (f Folder) SettingsPath() string {
	return filepath.Join(f.Path, SettingsDir, SettingsFile)
}

// Settings file layout inside a folder.
const (
	SettingsDir  = ".layerconf"
	SettingsFile = "settings.json"
)

// Workspace is the current set of folders plus the workspace file, if any.
// It is safe for concurrent use.
type Workspace struct {
	mu            sync.RWMutex
	id            string
	folders       []Folder
	configuration string
	initialized   bool
}

// New creates a workspace. configuration is the workspace file path, empty
// for single-folder and empty workbenches.
func New(id string, folders []Folder, configuration string) *Workspace {
	return &Workspace{
		id:            id,
		folders:       reindex(folders),
		configuration: configuration,
	}
}

// ID returns the workspace identifier.
func (w *Workspace) ID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.id
}

// Configuration returns the workspace file path, or "".
func (w *Workspace) Configuration() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.configuration
}

// Folders returns all workspace folders.
func (w *Workspace) Folders() []Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Folder, len(w.folders))
	copy(result, w.folders)
	return result
}

// SetFolders replaces the folders.
func (w *Workspace) SetFolders(folders []Folder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.folders = reindex(folders)
}

// Initialized reports whether the workspace file content has been read.
func (w *Workspace) Initialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.initialized
}

// SetInitialized records whether the workspace file content has been read.
func (w *Workspace) SetInitialized(initialized bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialized = initialized
}

// Update copies identity, folders and configuration from other.
func (w *Workspace) Update(other *Workspace) {
	id, folders, configuration, initialized := other.snapshot()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.id = id
	w.folders = folders
	w.configuration = configuration
	w.initialized = initialized
}

func (w *Workspace) snapshot() (string, []Folder, string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	folders := make([]Folder, len(w.folders))
	copy(folders, w.folders)
	return w.id, folders, w.configuration, w.initialized
}

// State returns the workbench state.
func (w *Workspace) State() WorkbenchState {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.configuration != "" {
		return StateWorkspace
	}
	if len(w.folders) == 1 {
		return StateFolder
	}
	return StateEmpty
}

// Name returns a display name: the workspace file base name without its
// extension, the single folder's name, or "".
func (w *Workspace) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.configuration != "" {
		base := filepath.Base(w.configuration)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	if len(w.folders) == 1 {
		return w.folders[0].Name
	}
	return ""
}

// GetFolder returns the folder that contains path. When folders are
// nested the innermost one wins.
func (w *Workspace) GetFolder(path string) (Folder, bool) {
	if path == "" {
		return Folder{}, false
	}
	if strings.HasPrefix(path, "file://") {
		p, err := URIToPath(path)
		if err != nil {
			return Folder{}, false
		}
		path = p
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	best := -1
	for i, f := range w.folders {
		if isSubPath(f.Path, absPath) && (best < 0 || len(f.Path) > len(w.folders[best].Path)) {
			best = i
		}
	}
	if best < 0 {
		return Folder{}, false
	}
	return w.folders[best], true
}

// FolderByURI returns the folder with the given URI.
func (w *Workspace) FolderByURI(uri string) (Folder, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, f := range w.folders {
		if f.URI == uri {
			return f, true
		}
	}
	return Folder{}, false
}

func reindex(folders []Folder) []Folder {
	out := make([]Folder, len(folders))
	for i, f := range folders {
		f.Index = i
		out[i] = f
	}
	return out
}

// PathToURI converts a file path to a file:// URI.
func PathToURI(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(absPath),
	}
	return u.String()
}

// URIToPath converts a file:// URI to a file path.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", ErrInvalidPath
	}

	path := filepath.FromSlash(u.Path)

	// On Windows, remove leading slash if path starts with drive letter
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path, nil
}

// isSubPath checks if child is parent or lies beneath it.
func isSubPath(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if child == parent {
		return true
	}
	if !strings.HasSuffix(parent, string(filepath.Separator)) {
		parent += string(filepath.Separator)
	}
	return strings.HasPrefix(child, parent)
}
