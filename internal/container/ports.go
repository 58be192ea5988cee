// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/stackpack/stackpack/pkg/types"
)

// ErrInvalidPortMapping is the sentinel error wrapped by InvalidPortMappingError.
var ErrInvalidPortMapping = errors.New("invalid port mapping")

type (
	// PortMapping publishes a container TCP port on the host.
	PortMapping struct {
		// HostIP restricts the published port to one host address. Empty
		// binds all addresses.
		HostIP        string
		HostPort      types.ListenPort
		ContainerPort types.ListenPort
	}

	// InvalidPortMappingError is returned when a PortMapping has one or more invalid fields.
	InvalidPortMappingError struct {
		Value     PortMapping
		FieldErrs []error
	}
)

// Error implements the error interface for InvalidPortMappingError.
func (e *InvalidPortMappingError) Error() string {
	return fmt.Sprintf("invalid port mapping %s: %v", e.Value, errors.Join(e.FieldErrs...))
}

// Unwrap returns ErrInvalidPortMapping for errors.Is() compatibility.
func (e *InvalidPortMappingError) Unwrap() error { return ErrInvalidPortMapping }

// Validate returns an error if any field of the PortMapping is invalid.
func (p PortMapping) Validate() error {
	var errs []error
	if err := p.HostPort.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := p.ContainerPort.Validate(); err != nil {
		errs = append(errs, err)
	}
	if p.HostIP != "" && net.ParseIP(p.HostIP) == nil {
		errs = append(errs, fmt.Errorf("host IP %q is not an IP address", p.HostIP))
	}
	if len(errs) > 0 {
		return &InvalidPortMappingError{Value: p, FieldErrs: errs}
	}
	return nil
}

// String returns the mapping in the "[ip:]host:container" form of -p.
func (p PortMapping) String() string {
	s := p.HostPort.String() + ":" + p.ContainerPort.String()
	if p.HostIP == "" {
		return s
	}
	if strings.Contains(p.HostIP, ":") {
		return "[" + p.HostIP + "]:" + s
	}
	return p.HostIP + ":" + s
}
