// SPDX-License-Identifier: MPL-2.0

// Package manifest reads Python dependency manifests.
//
// Two formats are understood: pip requirements files and the
// [project].dependencies array of pyproject.toml. A parsed Manifest exposes
// normalized requirement names, pin analysis and a content digest used as the
// dependency layer's cache identity. Dependencies are never installed here.
package manifest
