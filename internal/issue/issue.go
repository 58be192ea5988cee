// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// ID identifies a catalog entry.
type ID int

const (
	ContainerEngineNotFoundID ID = iota + 1
	BaseImageUnavailableID
	OSPackageInstallFailedID
	DependencyResolutionFailedID
	PrivilegeSetupFailedID
	LaunchFailedID
	RecipeInvalidID
	ManifestInvalidID
	ConfigLoadFailedID
	DockerfileLintFailedID
)

type (
	// MarkdownMsg is Markdown text rendered for the user.
	MarkdownMsg string

	// Issue is a catalog entry describing a known problem and how to fix it.
	Issue struct {
		id    ID
		slug  string
		title string
		mdMsg MarkdownMsg
	}
)

// ID returns the catalog identifier.
func (i *Issue) ID() ID { return i.id }

// Slug returns the short name used by `stackpack explain <slug>`.
func (i *Issue) Slug() string { return i.slug }

// Title returns the one-line summary.
func (i *Issue) Title() string { return i.title }

// MarkdownMsg returns the raw Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Render renders the entry with the given glamour style ("dark", "light",
// "notty", "auto" or a JSON style path).
func (i *Issue) Render(stylePath string) (string, error) {
	return render(fmt.Sprintf("# %s\n%s", i.title, i.mdMsg), stylePath)
}

var (
	render = glamour.Render

	containerEngineNotFoundIssue = &Issue{
		id:    ContainerEngineNotFoundID,
		slug:  "engine-not-found",
		title: "No container engine available",
		mdMsg: `
stackpack drives Docker or Podman through their command-line clients and
could not find a working one.

## Things you can try
- Install Docker or Podman and make sure the daemon/service is running
- Check that the client works on its own:
~~~
$ docker version
$ podman version
~~~
- Select the engine explicitly with ` + "`--engine docker`" + ` or ` + "`container_engine`" + ` in config.cue`,
	}

	baseImageUnavailableIssue = &Issue{
		id:    BaseImageUnavailableID,
		slug:  "base-image",
		title: "Base runtime image unavailable",
		mdMsg: `
The base image named in the recipe could not be pulled or resolved.
The build was aborted before any layer was produced.

## Things you can try
- Check the ` + "`base_image`" + ` value in stackpack.cue for typos
- Verify registry access and credentials (` + "`docker login`" + `)
- Pin a published runtime tag, for example ` + "`python:3.9-slim`",
	}

	osPackageInstallFailedIssue = &Issue{
		id:    OSPackageInstallFailedID,
		slug:  "os-packages",
		title: "OS package installation failed",
		mdMsg: `
The system package step failed. Any missing package aborts the build.

## Things you can try
- Check each name in ` + "`os_packages`" + ` exists for the base image's distribution
- Debian-based images need ` + "`apt-get update`" + ` network access during the build
- Run ` + "`stackpack render`" + ` to see the exact RUN instruction`,
	}

	dependencyResolutionFailedIssue = &Issue{
		id:    DependencyResolutionFailedID,
		slug:  "dependencies",
		title: "Dependency resolution failed",
		mdMsg: `
The package installer could not resolve or install a dependency declared in
the manifest. Nothing after the install step was built.

## Things you can try
- Check the failing requirement's name and version constraint
- Make sure the pinned version exists for the base image's Python version
- Packages with native extensions may need extra ` + "`os_packages`" + ` headers`,
	}

	privilegeSetupFailedIssue = &Issue{
		id:    PrivilegeSetupFailedID,
		slug:  "privileges",
		title: "Privilege setup failed",
		mdMsg: `
Creating the restricted user, or dropping privileges to it, failed; or the
built image would start as the superuser.

## Things you can try
- The base image may already define a user with the same UID or name;
  change ` + "`identity.uid`" + ` or ` + "`identity.username`" + `
- The username must not be ` + "`root`" + ` and the UID must not be 0`,
	}

	launchFailedIssue = &Issue{
		id:    LaunchFailedID,
		slug:  "launch",
		title: "Application launch failed",
		mdMsg: `
The container started but the application exited with a failure status.
stackpack does not restart the application.

## Things you can try
- Check that the entrypoint script (for example app.py) is part of the source tree
- Inspect the application output above for the crash reason
- Run the image interactively with your engine to debug it`,
	}

	recipeInvalidIssue = &Issue{
		id:    RecipeInvalidID,
		slug:  "recipe",
		title: "Invalid build recipe",
		mdMsg: `
stackpack.cue failed validation. Every field is optional; omitted fields use
the reference defaults.

## Things you can try
- Print the defaults with ` + "`stackpack init --stdout`" + `
- Check the reported CUE path for the offending field`,
	}

	manifestInvalidIssue = &Issue{
		id:    ManifestInvalidID,
		slug:  "manifest",
		title: "Invalid dependency manifest",
		mdMsg: `
The dependency manifest (requirements.txt or pyproject.toml) could not be
parsed.

## Things you can try
- Check the reported line for a malformed requirement
- Nested ` + "`-r`" + `/` + "`-c`" + ` includes are not supported; inline them`,
	}

	configLoadFailedIssue = &Issue{
		id:    ConfigLoadFailedID,
		slug:  "config",
		title: "Configuration could not be loaded",
		mdMsg: `
The configuration file exists but is not valid.

## Things you can try
- Show the effective configuration:
~~~
$ stackpack config show
~~~
- Recreate the default file with ` + "`stackpack config init --force`",
	}

	dockerfileLintFailedIssue = &Issue{
		id:    DockerfileLintFailedID,
		slug:  "lint",
		title: "Dockerfile violates packaging invariants",
		mdMsg: `
The Dockerfile breaks one of the packaging rules: dependency manifest copied
before installation, installation before the source copy, and a non-root
user active before the launch command.

## Things you can try
- Compare with the output of ` + "`stackpack render`" + `
- Move ` + "`USER`" + ` above ` + "`CMD`" + ` and make sure it is not root`,
	}

	issues = map[ID]*Issue{
		containerEngineNotFoundIssue.ID():    containerEngineNotFoundIssue,
		baseImageUnavailableIssue.ID():       baseImageUnavailableIssue,
		osPackageInstallFailedIssue.ID():     osPackageInstallFailedIssue,
		dependencyResolutionFailedIssue.ID(): dependencyResolutionFailedIssue,
		privilegeSetupFailedIssue.ID():       privilegeSetupFailedIssue,
		launchFailedIssue.ID():               launchFailedIssue,
		recipeInvalidIssue.ID():              recipeInvalidIssue,
		manifestInvalidIssue.ID():            manifestInvalidIssue,
		configLoadFailedIssue.ID():           configLoadFailedIssue,
		dockerfileLintFailedIssue.ID():       dockerfileLintFailedIssue,
	}
)

// Values returns all catalog entries ordered by ID.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the entry with the given ID, or nil.
func Get(id ID) *Issue {
	return issues[id]
}

// Lookup finds an entry by slug (case-insensitive).
func Lookup(slug string) (*Issue, bool) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, i := range issues {
		if i.slug == slug {
			return i, true
		}
	}
	return nil, false
}
