// SPDX-License-Identifier: MPL-2.0

// Package container drives the Docker and Podman command line tools.
//
// The Engine interface covers what stackpack needs from an engine: build an
// image, run it, inspect its configuration, pull base images and clean up.
// DockerEngine and PodmanEngine embed BaseCLIEngine, which builds the CLI
// arguments and executes them. NewEngine picks an engine by preference with
// fallback to the other one; AutoDetectEngine tries Podman first.
//
// Only Linux images are supported.
package container
