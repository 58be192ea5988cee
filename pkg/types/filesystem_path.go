// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidFilesystemPath is the sentinel error wrapped by InvalidFilesystemPathError.
	ErrInvalidFilesystemPath = errors.New("invalid filesystem path")

	// ErrInvalidContainerPath is the sentinel error wrapped by InvalidContainerPathError.
	ErrInvalidContainerPath = errors.New("invalid container path")
)

type (
	// FilesystemPath is a host path, usually relative to the application
	// source root. It must be non-empty and not whitespace-only.
	FilesystemPath string

	// InvalidFilesystemPathError is returned when a FilesystemPath is empty
	// or whitespace-only.
	InvalidFilesystemPathError struct {
		Value FilesystemPath
	}

	// ContainerPath is an absolute, slash-separated path inside the image.
	ContainerPath string

	// InvalidContainerPathError is returned when a ContainerPath is not an
	// absolute clean path.
	InvalidContainerPathError struct {
		Value  ContainerPath
		Reason string
	}
)

// String returns the string representation of the FilesystemPath.
func (p FilesystemPath) String() string { return string(p) }

// Validate returns an error if the path is empty or whitespace-only.
func (p FilesystemPath) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return &InvalidFilesystemPathError{Value: p}
	}
	return nil
}

// IsLocal reports whether the path stays inside the directory it is
// resolved against (no absolute paths, no ".." escapes).
func (p FilesystemPath) IsLocal() bool {
	return filepath.IsLocal(string(p)) || filepath.Clean(string(p)) == "."
}

// Error implements the error interface for InvalidFilesystemPathError.
func (e *InvalidFilesystemPathError) Error() string {
	return fmt.Sprintf("invalid filesystem path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidFilesystemPath for errors.Is() compatibility.
func (e *InvalidFilesystemPathError) Unwrap() error { return ErrInvalidFilesystemPath }

// String returns the string representation of the ContainerPath.
func (p ContainerPath) String() string { return string(p) }

// Validate returns an error unless the path is absolute and already clean.
func (p ContainerPath) Validate() error {
	s := string(p)
	switch {
	case strings.TrimSpace(s) == "":
		return &InvalidContainerPathError{Value: p, Reason: "must be non-empty"}
	case !strings.HasPrefix(s, "/"):
		return &InvalidContainerPathError{Value: p, Reason: "must be absolute"}
	case path.Clean(s) != s:
		return &InvalidContainerPathError{Value: p, Reason: "must be clean (no trailing slash, '.' or '..')"}
	case s == "/":
		return &InvalidContainerPathError{Value: p, Reason: "must not be the filesystem root"}
	}
	return nil
}

// Error implements the error interface for InvalidContainerPathError.
func (e *InvalidContainerPathError) Error() string {
	return fmt.Sprintf("invalid container path %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidContainerPath for errors.Is() compatibility.
func (e *InvalidContainerPathError) Unwrap() error { return ErrInvalidContainerPath }
