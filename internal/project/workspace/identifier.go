package workspace

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Identifier names what the engine was asked to open.
type Identifier interface {
	// WorkspaceID returns a stable identifier for the workspace.
	WorkspaceID() string
}

// EmptyIdentifier identifies a window with no folder.
type EmptyIdentifier struct {
	ID string
}

// WorkspaceID implements Identifier.
func (e EmptyIdentifier) WorkspaceID() string { return e.ID }

// SingleFolderIdentifier identifies a single open folder.
type SingleFolderIdentifier struct {
	ID   string
	Path string
}

// WorkspaceID implements Identifier.
func (s SingleFolderIdentifier) WorkspaceID() string { return s.ID }

// MultiRootIdentifier identifies a workspace file.
type MultiRootIdentifier struct {
	ID         string
	ConfigPath string
}

// WorkspaceID implements Identifier.
func (m MultiRootIdentifier) WorkspaceID() string { return m.ID }

// NewEmptyIdentifier creates an identifier with a random id.
func NewEmptyIdentifier() EmptyIdentifier {
	return EmptyIdentifier{ID: uuid.NewString()}
}

// NewSingleFolderIdentifier creates an identifier whose id is derived from
// the folder path, so reopening the same folder yields the same id.
func NewSingleFolderIdentifier(path string) SingleFolderIdentifier {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return SingleFolderIdentifier{ID: stableID(path), Path: path}
}

// NewMultiRootIdentifier creates an identifier whose id is derived from the
// workspace file path.
func NewMultiRootIdentifier(configPath string) MultiRootIdentifier {
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	return MultiRootIdentifier{ID: stableID(configPath), ConfigPath: configPath}
}

func stableID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(PathToURI(path))).String()
}
