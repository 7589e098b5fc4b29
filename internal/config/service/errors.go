package service

import "errors"

// Errors returned by the service.
var (
	// ErrInvalidTarget is returned for writes to the default layer, to the
	// remote user layer without a remote, and for unknown targets.
	ErrInvalidTarget = errors.New("invalid configuration target")

	// ErrNotADirectory is returned by folder updates under StrictFolders
	// when a folder to add is not a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNoWorkspace is returned by folder updates that need a multi-root
	// workspace.
	ErrNoWorkspace = errors.New("no multi-root workspace opened")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("service closed")
)
