// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientMarkers are fragments of engine output that indicate a failure
// worth retrying.
var transientMarkers = []string{
	// Rootless Podman races and OCI runtime hiccups.
	"ping_group_range",
	"OCI runtime error",
	// Network errors during pulls.
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"connection reset by peer",
	"TLS handshake timeout",
	"i/o timeout",
	"net/http: request canceled while waiting for connection",
	"503 Service Unavailable",
	"502 Bad Gateway",
	"toomanyrequests",
	// Overlay mount races on rootless Podman.
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is a container engine error that may
// succeed on retry: network timeouts, registry throttling, rootless Podman
// races and generic engine failures (exit code 125).
//
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	errStr := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(errStr, m) {
			return true
		}
	}
	return false
}
