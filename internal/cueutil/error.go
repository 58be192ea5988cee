// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

var (
	// ErrValidation is the sentinel wrapped by ValidationError.
	ErrValidation = errors.New("CUE validation failed")

	// ErrFileTooLarge is the sentinel wrapped by FileTooLargeError.
	ErrFileTooLarge = errors.New("file too large")
)

type (
	// FieldError is one problem at a JSON path inside the file.
	FieldError struct {
		Path    string
		Message string
	}

	// ValidationError collects the field errors of one file.
	ValidationError struct {
		FilePath string
		Fields   []FieldError
	}

	// FileTooLargeError is returned before parsing an oversized file.
	FileTooLargeError struct {
		Filename string
		Size     int64
		Max      int64
	}
)

func (f FieldError) String() string {
	if f.Path == "" {
		return f.Message
	}
	return f.Path + ": " + f.Message
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("%s: %s", e.FilePath, e.Fields[0])
	}
	lines := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		lines[i] = f.String()
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", e.FilePath, strings.Join(lines, "\n  "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s: file size %d bytes exceeds maximum %d bytes", e.Filename, e.Size, e.Max)
}

func (e *FileTooLargeError) Unwrap() error { return ErrFileTooLarge }

// FormatError converts a CUE error into a *ValidationError whose fields are
// addressed in JSON-path notation. Non-CUE errors are wrapped with the file
// path.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	list := cueerrors.Errors(err)

	ve := &ValidationError{FilePath: filePath}
	for _, e := range list {
		raw := cueerrors.Path(e)
		elems := trimDefinition(raw)
		path := formatPath(elems)
		msg := e.Error()
		if len(raw) > 0 {
			if rest, ok := strings.CutPrefix(msg, strings.Join(raw, ".")); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		ve.Fields = append(ve.Fields, FieldError{Path: path, Message: msg})
	}
	return ve
}

// trimDefinition drops the schema definition selector ("#Recipe") that CUE
// reports in front of every field unified against a definition.
func trimDefinition(path []string) []string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		return path[1:]
	}
	return path
}

// formatPath turns ["launch", "command", "0"] into "launch.command[0]".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize returns a *FileTooLargeError when data exceeds maxSize.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return &FileTooLargeError{Filename: filename, Size: int64(len(data)), Max: maxSize}
	}
	return nil
}
