// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is the exit status of a build step, an engine command or the
	// launched application. Valid values are 0-255; 0 means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside 0-255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

const (
	// ExitSuccess is returned when every requested operation succeeded.
	ExitSuccess ExitCode = 0
	// ExitFailure is the generic failure status.
	ExitFailure ExitCode = 1
	// ExitLintErrors is returned by `stackpack check` when error findings exist.
	ExitLintErrors ExitCode = 2
	// ExitEngineError is the status container engines use for their own
	// failures (as opposed to a failure of the containerized process).
	ExitEngineError ExitCode = 125
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside 0-255.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess reports whether the code is zero.
func (c ExitCode) IsSuccess() bool { return c == ExitSuccess }

// IsEngineError reports whether the code was produced by the container engine
// itself rather than by the process inside the container.
func (c ExitCode) IsEngineError() bool { return c == ExitEngineError }

// String returns the decimal representation.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
