// SPDX-License-Identifier: MPL-2.0

//go:build linux

package container

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const containersConfOverride = "[containers]\ndefault_sysctls = []\n"

// createSysctlOverrideFile writes a containers.conf override that disables
// default_sysctls. Each Podman subprocess reads it through
// CONTAINERS_CONF_OVERRIDE.
func createSysctlOverrideFile() (string, error) {
	f, err := os.CreateTemp("", "stackpack-containers-conf-*.toml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, writeErr := f.WriteString(containersConfOverride); writeErr != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write: %w", writeErr)
	}
	if closeErr := f.Close(); closeErr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close: %w", closeErr)
	}
	return f.Name(), nil
}

// isRemotePodman reports whether binaryPath is podman-remote, whose service
// never sees client-side CONTAINERS_CONF_OVERRIDE.
func isRemotePodman(binaryPath string) bool {
	if strings.Contains(filepath.Base(binaryPath), "remote") {
		return true
	}
	resolved, err := filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return false
	}
	return strings.Contains(filepath.Base(resolved), "remote")
}

func sysctlOverrideOpts(binaryPath string) []BaseCLIEngineOption {
	if isRemotePodman(binaryPath) {
		slog.Debug("podman-remote detected, sysctl override not applicable", "binary", binaryPath)
		return nil
	}

	path, err := createSysctlOverrideFile()
	if err != nil {
		slog.Debug("sysctl override unavailable", "error", err)
		return nil
	}
	return []BaseCLIEngineOption{
		WithCmdEnvOverride("CONTAINERS_CONF_OVERRIDE", path),
		withOverrideFile(path),
	}
}
