// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/stackpack/config.cue (resolved
// with github.com/adrg/xdg, so macOS and Windows use their native locations),
// falling back to ./config.cue. Values are validated against an embedded CUE
// schema, and STACKPACK_* environment variables override file values:
// STACKPACK_IMAGE_NAME sets image.name, STACKPACK_UI_VERBOSE sets ui.verbose.
package config
