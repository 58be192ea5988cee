// SPDX-License-Identifier: MPL-2.0

// Package dockerfile renders build recipes as Dockerfiles and lints
// Dockerfiles against the packaging rules.
//
// Render is deterministic: equal inputs produce byte-identical output. Lint
// accepts any Dockerfile, including hand-written ones, and reports rule
// findings with line numbers.
package dockerfile
