// SPDX-License-Identifier: MPL-2.0

// Package launcher starts containers from built application images.
//
// An application image carries its own launch command. The launcher never
// replaces it: runs that ask for a command are refused, and the only
// per-run settings are the published host port, the container name,
// environment variables and whether the container is detached.
package launcher
