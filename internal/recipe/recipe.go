// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/stackpack/stackpack/pkg/types"
)

const (
	// DefaultBaseImage is the reference base runtime image.
	DefaultBaseImage = "python:3.9-slim"
	// DefaultWorkDir is the working directory inside the image.
	DefaultWorkDir types.ContainerPath = "/app"
	// DefaultManifest is the dependency manifest path relative to the source.
	DefaultManifest types.FilesystemPath = "requirements.txt"
	// DefaultSource is the application source directory.
	DefaultSource types.FilesystemPath = "."
	// DefaultUID is the numeric identity of the application process.
	DefaultUID = 1000
	// DefaultUsername is the name of the restricted user.
	DefaultUsername = "appuser"
	// DefaultPort is Streamlit's default listen port.
	DefaultPort types.ListenPort = 8501
	// DefaultEntrypoint is the script the launch command runs.
	DefaultEntrypoint = "app.py"
)

var (
	// ErrInvalidRecipe is the sentinel wrapped by InvalidRecipeError.
	ErrInvalidRecipe = errors.New("invalid recipe")

	packageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)
	usernamePattern    = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	labelKeyPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)
)

type (
	// PackageName is a Debian package name.
	PackageName string

	// Identity is the restricted user the application runs as.
	Identity struct {
		UID      int
		Username string
	}

	// Launch is the fixed process started when a container runs.
	Launch struct {
		// Command is the exec-form argv.
		Command []string
		Port    types.ListenPort
		// Entrypoint is the script path, relative to the source root, that
		// must exist before a build starts. Empty disables the check.
		Entrypoint string
	}

	// Recipe describes how an application image is built and started.
	Recipe struct {
		BaseImage        ImageRef
		OSPackages       []PackageName
		WorkDir          types.ContainerPath
		Manifest         types.FilesystemPath
		Source           types.FilesystemPath
		Identity         Identity
		Launch           Launch
		Labels           map[string]string
		InstallerUpgrade bool
	}

	// FieldError is one recipe validation failure.
	FieldError struct {
		Field string
		Err   error
	}

	// InvalidRecipeError collects every validation failure of a recipe.
	InvalidRecipeError struct {
		Fields []FieldError
	}
)

// DefaultOSPackages returns the reference OS package set: compiler
// toolchain, FFI and TLS headers, PostgreSQL client headers, curl and git.
func DefaultOSPackages() []PackageName {
	return []PackageName{"build-essential", "libffi-dev", "libssl-dev", "libpq-dev", "curl", "git"}
}

// Default returns the reference recipe.
func Default() Recipe {
	return Recipe{
		BaseImage:  MustParseImageRef(DefaultBaseImage),
		OSPackages: DefaultOSPackages(),
		WorkDir:    DefaultWorkDir,
		Manifest:   DefaultManifest,
		Source:     DefaultSource,
		Identity:   Identity{UID: DefaultUID, Username: DefaultUsername},
		Launch: Launch{
			Command:    []string{"streamlit", "run", DefaultEntrypoint},
			Port:       DefaultPort,
			Entrypoint: DefaultEntrypoint,
		},
		InstallerUpgrade: true,
	}
}

func (f FieldError) Error() string { return f.Field + ": " + f.Err.Error() }

func (e *InvalidRecipeError) Error() string {
	if len(e.Fields) == 1 {
		return "invalid recipe: " + e.Fields[0].Error()
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("invalid recipe (%d problems): %s", len(e.Fields), strings.Join(parts, "; "))
}

// Unwrap exposes the sentinel and every field cause to errors.Is.
func (e *InvalidRecipeError) Unwrap() []error {
	errs := []error{ErrInvalidRecipe}
	for _, f := range e.Fields {
		errs = append(errs, f.Err)
	}
	return errs
}

// Validate checks every field and returns an *InvalidRecipeError listing all
// problems, or nil.
func (r Recipe) Validate() error {
	var fields []FieldError
	add := func(field string, err error) {
		if err != nil {
			fields = append(fields, FieldError{Field: field, Err: err})
		}
	}

	add("base_image", r.BaseImage.Validate())

	for i, p := range r.OSPackages {
		if !packageNamePattern.MatchString(string(p)) {
			add(fmt.Sprintf("os_packages[%d]", i), fmt.Errorf("%q is not a valid package name", p))
		}
	}

	add("workdir", r.WorkDir.Validate())
	add("manifest", validateLocal(r.Manifest))
	add("source", validateLocal(r.Source))

	if r.Identity.UID <= 0 {
		add("identity.uid", fmt.Errorf("uid %d must be greater than 0", r.Identity.UID))
	}
	switch {
	case r.Identity.Username == "root":
		add("identity.username", errors.New("must not be root"))
	case !usernamePattern.MatchString(r.Identity.Username):
		add("identity.username", fmt.Errorf("%q is not a valid user name", r.Identity.Username))
	}

	if len(r.Launch.Command) == 0 {
		add("launch.command", errors.New("must not be empty"))
	}
	for i, arg := range r.Launch.Command {
		if arg == "" {
			add(fmt.Sprintf("launch.command[%d]", i), errors.New("must not be empty"))
		}
	}
	add("launch.port", r.Launch.Port.Validate())
	if r.Launch.Entrypoint != "" {
		add("launch.entrypoint", validateLocal(types.FilesystemPath(r.Launch.Entrypoint)))
	}

	for _, k := range slices.Sorted(maps.Keys(r.Labels)) {
		if !labelKeyPattern.MatchString(k) {
			add("labels", fmt.Errorf("%q is not a valid label key", k))
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &InvalidRecipeError{Fields: fields}
}

func validateLocal(p types.FilesystemPath) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.IsLocal() {
		return fmt.Errorf("%q must be relative and stay inside the source directory", p)
	}
	return nil
}

// Packages returns the OS packages sorted and de-duplicated.
func (r Recipe) Packages() []PackageName {
	out := slices.Clone(r.OSPackages)
	slices.Sort(out)
	return slices.Compact(out)
}

// Clone returns a deep copy.
func (r Recipe) Clone() Recipe {
	c := r
	c.OSPackages = slices.Clone(r.OSPackages)
	c.Launch.Command = slices.Clone(r.Launch.Command)
	c.Labels = maps.Clone(r.Labels)
	return c
}
