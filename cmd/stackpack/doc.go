// SPDX-License-Identifier: MPL-2.0

// Package cmd implements the stackpack command line: rendering, planning,
// linting, building and launching application images, plus configuration
// and issue-catalog commands. Commands are built per App so tests can inject
// a configuration provider, a container engine and output streams.
package cmd
