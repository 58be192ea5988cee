// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and the catalog of known build and
// launch problems.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints. Catalog entries are Markdown documents rendered with
// glamour by `stackpack explain` and on fatal CLI errors.
package issue
