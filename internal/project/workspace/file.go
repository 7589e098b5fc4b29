package workspace

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// StoredFolder is a folder entry as written in a workspace file. Exactly one
// of Path and URI is set.
type StoredFolder struct {
	Path string `json:"path,omitempty"`
	URI  string `json:"uri,omitempty"`
	Name string `json:"name,omitempty"`
}

// FolderCreationData describes a folder to add to a workspace.
type FolderCreationData struct {
	Path string
	Name string
}

// File is the decoded content of a workspace file.
type File struct {
	Folders  []StoredFolder
	Settings map[string]any
}

// ParseFile decodes workspace file content. Comments and trailing commas
// are accepted. Empty content yields an empty File.
func ParseFile(content []byte) (File, error) {
	var f File
	if len(bytes.TrimSpace(content)) == 0 {
		return f, nil
	}

	spec := pretty.Spec(content)
	if !gjson.ValidBytes(spec) {
		return f, fmt.Errorf("%w: malformed JSON", ErrInvalidWorkspaceFile)
	}
	root := gjson.ParseBytes(spec)
	if !root.IsObject() {
		return f, fmt.Errorf("%w: top-level value is not an object", ErrInvalidWorkspaceFile)
	}

	root.Get("folders").ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}
		sf := StoredFolder{
			Path: entry.Get("path").String(),
			URI:  entry.Get("uri").String(),
			Name: entry.Get("name").String(),
		}
		if sf.Path != "" || sf.URI != "" {
			f.Folders = append(f.Folders, sf)
		}
		return true
	})

	if settings := root.Get("settings"); settings.IsObject() {
		if m, ok := settings.Value().(map[string]any); ok {
			f.Settings = m
		}
	}
	return f, nil
}

// ToFolders resolves stored entries against the workspace file directory.
// Entries that cannot be resolved and duplicates are skipped.
func ToFolders(stored []StoredFolder, workspaceDir string) []Folder {
	var folders []Folder
	seen := make(map[string]bool)

	for _, sf := range stored {
		var path string
		switch {
		case sf.URI != "":
			p, err := URIToPath(sf.URI)
			if err != nil {
				continue
			}
			path = p
		case sf.Path != "":
			path = filepath.FromSlash(sf.Path)
			if !filepath.IsAbs(path) {
				path = filepath.Join(workspaceDir, path)
			}
		default:
			continue
		}

		path = filepath.Clean(path)
		if seen[path] {
			continue
		}
		seen[path] = true

		f := NewFolder(path, sf.Name, len(folders))
		f.Raw = sf
		folders = append(folders, f)
	}
	return folders
}

// ToStored converts a folder to the entry written into a workspace file.
// Paths inside or next to workspaceDir are stored relative to it.
func ToStored(path, name, workspaceDir string, useSlash bool) StoredFolder {
	sf := StoredFolder{Name: name}
	if workspaceDir != "" {
		if rel, err := filepath.Rel(workspaceDir, path); err == nil && !filepath.IsAbs(rel) {
			if useSlash {
				rel = filepath.ToSlash(rel)
			}
			sf.Path = rel
			return sf
		}
	}
	if useSlash {
		sf.Path = filepath.ToSlash(path)
	} else {
		sf.Path = path
	}
	return sf
}

// UseSlashForPath reports whether stored entries use forward slashes, so
// new entries follow the existing style. Outside Windows it is always true.
func UseSlashForPath(stored []StoredFolder) bool {
	if runtime.GOOS != "windows" {
		return true
	}
	for _, sf := range stored {
		if strings.Contains(sf.Path, "/") {
			return true
		}
	}
	return false
}
