// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidListenPort is the sentinel error wrapped by InvalidListenPortError.
var ErrInvalidListenPort = errors.New("invalid listen port")

type (
	// ListenPort is a TCP port the launched application listens on, or the
	// host port it is published to. Valid values are 1-65535.
	ListenPort int

	// InvalidListenPortError is returned when a ListenPort is outside 1-65535.
	InvalidListenPortError struct {
		Value ListenPort
	}
)

// String returns the decimal representation of the port.
func (p ListenPort) String() string { return strconv.Itoa(int(p)) }

// Validate returns an error if the port is outside 1-65535.
func (p ListenPort) Validate() error {
	if p < 1 || p > 65535 {
		return &InvalidListenPortError{Value: p}
	}
	return nil
}

// ExposeSpec returns the port in the "<port>/tcp" form used by image configs.
func (p ListenPort) ExposeSpec() string { return p.String() + "/tcp" }

// ParseListenPort parses and validates a decimal port string.
func ParseListenPort(s string) (ListenPort, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidListenPort, s, err)
	}
	p := ListenPort(n)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p, nil
}

// Error implements the error interface for InvalidListenPortError.
func (e *InvalidListenPortError) Error() string {
	return fmt.Sprintf("invalid listen port %d: must be in range 1-65535", e.Value)
}

// Unwrap returns ErrInvalidListenPort for errors.Is() compatibility.
func (e *InvalidListenPortError) Unwrap() error { return ErrInvalidListenPort }
