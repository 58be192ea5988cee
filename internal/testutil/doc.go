// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers shared across packages: an
// in-memory container engine (FakeEngine), application fixtures
// (StreamlitApp, WriteFiles), and gates for tests that need a real Docker
// or Podman engine (RequireEngine, ContainerSemaphore).
package testutil
