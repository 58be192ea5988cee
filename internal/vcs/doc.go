// SPDX-License-Identifier: MPL-2.0

// Package vcs reads source control provenance for the application source so
// it can be recorded as image labels.
package vcs
