// SPDX-License-Identifier: MPL-2.0

// Package buildctx scans application sources, computes per-layer cache keys
// and assembles the directory sent to the container engine.
//
// Keys are content digests chained in build order (base, deps, source,
// runtime), so a change to the application source never invalidates the
// dependency layer. File modification times are not part of any key.
package buildctx
