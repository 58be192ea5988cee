// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/recipe"
)

// ErrMissingManifest is returned when the dependency manifest does not exist.
var ErrMissingManifest = errors.New("dependency manifest not found")

// ErrMissingEntrypoint is returned when the launch script is not part of the
// source tree.
var ErrMissingEntrypoint = errors.New("entrypoint not found in source")

// Validate checks everything that can be checked before a build starts.
// The first problem found is returned.
func (p *Project) Validate() error {
	if err := p.Recipe.Validate(); err != nil {
		return issue.NewErrorContext().
			WithOperation("validate recipe").
			WithResource(p.RecipePath).
			WithIssue(issue.RecipeInvalidID).
			Wrap(err).
			BuildError()
	}

	if err := recipe.CheckOrder(p.Steps()); err != nil {
		return issue.NewErrorContext().
			WithOperation("validate build steps").
			WithIssue(issue.RecipeInvalidID).
			Wrap(err).
			BuildError()
	}

	if p.Manifest == nil {
		return newFailure(DependencyResolution, issue.ManifestInvalidID, "validate project", p.ManifestPath, "",
			fmt.Errorf("%w: %s", ErrMissingManifest, p.ManifestPath))
	}

	if ep := p.Recipe.Launch.Entrypoint; ep != "" && !p.Tree.Contains(filepath.ToSlash(ep)) {
		return newFailure(RuntimeLaunch, issue.LaunchFailedID, "validate project", ep, "",
			fmt.Errorf("%w: %s (source %s)", ErrMissingEntrypoint, ep, p.SourceDir))
	}

	if req := p.Manifest.RequiresPython; req != "" {
		checked, err := p.Recipe.BaseImage.CheckRuntime(req)
		switch {
		case checked && err != nil:
			return newFailure(DependencyResolution, issue.DependencyResolutionFailedID, "validate project",
				p.Recipe.BaseImage.String(), "", err)
		case !checked:
			slog.Debug("runtime version not checked", "image", p.Recipe.BaseImage.String(), "requires", req, "error", err)
		}
	}

	if unpinned := p.Manifest.Unpinned(); len(unpinned) > 0 {
		names := make([]string, len(unpinned))
		for i, r := range unpinned {
			names[i] = r.RawName
		}
		slog.Warn("requirements without an exact version make builds irreproducible",
			"manifest", p.ManifestPath, "packages", strings.Join(names, ","))
	}

	return nil
}
