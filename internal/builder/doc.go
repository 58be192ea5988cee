// SPDX-License-Identifier: MPL-2.0

// Package builder runs the image build pipeline: load the project, validate
// it, assemble a build context, render the Dockerfile, build the image with
// a container engine and verify the result.
//
// Images are tagged with the leading digits of the layer plan's cache key.
// When an image with that tag already exists the build is skipped, so a
// rebuild with unchanged inputs costs one image lookup.
//
// Failures are classified into a FailureKind and returned as
// issue.ActionableError values that point at the matching issue entry.
package builder
