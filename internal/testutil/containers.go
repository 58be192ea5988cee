// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"

	"github.com/stackpack/stackpack/internal/container"
)

// testcontainersAvailable reports whether testcontainers can reach a
// container provider. Provider detection panics on some hosts.
func testcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// RequireEngine returns a real container engine or skips the test. Tests
// are skipped in -short mode and when neither the engine nor the
// testcontainers provider is usable.
func RequireEngine(t *testing.T) container.Engine {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	engine, err := container.AutoDetectEngine()
	if err != nil {
		t.Skipf("skipping integration test: no container engine available: %v", err)
	}
	if !engine.Available() {
		t.Skip("skipping integration test: container engine not available")
	}
	if !testcontainersAvailable() {
		t.Skip("skipping integration test: testcontainers provider not available")
	}
	t.Cleanup(func() {
		if err := container.CloseEngine(engine); err != nil {
			t.Logf("warning: close engine: %v", err)
		}
	})
	return engine
}
