// Package vfs provides the file service used by the configuration engine.
//
// Settings, workspace and cache files are read and written through the VFS
// interface so the engine can run against the OS file system or an
// in-memory file system in tests.
package vfs

import (
	"errors"
	"io/fs"
	"time"
)

// VFS is the subset of file system operations the configuration engine needs.
type VFS interface {
	// ReadFile reads the entire file content.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to a file, creating it if necessary. The parent
	// directory must exist.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	// Stat returns file information.
	Stat(path string) (FileInfo, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes a file or empty directory.
	Remove(path string) error
}

// FileInfo describes a file or directory.
type FileInfo struct {
	path    string
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

// NewFileInfo creates a FileInfo from the given parameters.
func NewFileInfo(path, name string, size int64, mode fs.FileMode, modTime time.Time, isDir bool) FileInfo {
	return FileInfo{
		path:    path,
		name:    name,
		size:    size,
		mode:    mode,
		modTime: modTime,
		isDir:   isDir,
	}
}

// Path returns the full path.
func (fi FileInfo) Path() string { return fi.path }

// Name returns the base name.
func (fi FileInfo) Name() string { return fi.name }

// Size returns the file size in bytes.
func (fi FileInfo) Size() int64 { return fi.size }

// Mode returns the file mode.
func (fi FileInfo) Mode() fs.FileMode { return fi.mode }

// ModTime returns the modification time.
func (fi FileInfo) ModTime() time.Time { return fi.modTime }

// IsDir returns true if this is a directory.
func (fi FileInfo) IsDir() bool { return fi.isDir }

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Exists returns true if the path exists.
func Exists(v VFS, path string) bool {
	_, err := v.Stat(path)
	return err == nil
}

// IsDir returns true if the path exists and is a directory.
func IsDir(v VFS, path string) bool {
	info, err := v.Stat(path)
	return err == nil && info.IsDir()
}

// ReadFileIfExists reads a file and returns nil content without error when
// it does not exist.
func ReadFileIfExists(v VFS, path string) ([]byte, error) {
	data, err := v.ReadFile(path)
	if IsNotExist(err) {
		return nil, nil
	}
	return data, err
}
