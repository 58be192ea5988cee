// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package container

// sysctlOverrideOpts is a no-op outside Linux: Podman runs inside a VM there
// and never sees the host's CONTAINERS_CONF_OVERRIDE.
func sysctlOverrideOpts(_ string) []BaseCLIEngineOption {
	return nil
}
