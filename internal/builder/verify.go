// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/recipe"
)

// VerifyImage checks that an image's configuration matches the recipe: it
// runs as the restricted user, in the working directory, with the launch
// command and the launch port exposed.
func VerifyImage(info *container.ImageInfo, r recipe.Recipe) error {
	cfg := info.Config
	image := info.ID.String()
	if len(info.RepoTags) > 0 {
		image = info.RepoTags[0]
	}

	user, _, _ := strings.Cut(cfg.User, ":")
	switch {
	case isRootUser(user):
		return newFailure(PrivilegeSetup, issue.PrivilegeSetupFailedID, "verify image", image, "",
			fmt.Errorf("image runs as root (User=%q)", cfg.User))
	case user != r.Identity.Username && user != strconv.Itoa(r.Identity.UID):
		return newFailure(PrivilegeSetup, issue.PrivilegeSetupFailedID, "verify image", image, "",
			fmt.Errorf("image user %q, want %q", cfg.User, r.Identity.Username))
	}

	if cfg.WorkingDir != r.WorkDir.String() {
		return newFailure(RuntimeLaunch, issue.LaunchFailedID, "verify image", image, "",
			fmt.Errorf("working directory %q, want %q", cfg.WorkingDir, r.WorkDir))
	}
	if len(cfg.Entrypoint) > 0 {
		return newFailure(RuntimeLaunch, issue.LaunchFailedID, "verify image", image, "",
			fmt.Errorf("base image entrypoint %q would wrap the launch command", cfg.Entrypoint))
	}
	if !slices.Equal(cfg.Cmd, r.Launch.Command) {
		return newFailure(RuntimeLaunch, issue.LaunchFailedID, "verify image", image, "",
			fmt.Errorf("launch command %q, want %q", cfg.Cmd, r.Launch.Command))
	}
	if !info.ExposesPort(r.Launch.Port.ExposeSpec()) {
		return newFailure(RuntimeLaunch, issue.LaunchFailedID, "verify image", image, "",
			fmt.Errorf("port %s not exposed", r.Launch.Port.ExposeSpec()))
	}
	return nil
}

func isRootUser(u string) bool {
	return u == "" || u == "root" || u == "0"
}
