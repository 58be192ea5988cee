// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stackpack/stackpack/internal/buildctx"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/manifest"
	"github.com/stackpack/stackpack/internal/recipe"
	"github.com/stackpack/stackpack/internal/vcs"
)

type (
	// ProjectOptions locates the inputs of a build.
	ProjectOptions struct {
		// Dir is the project directory. Empty means the working directory.
		Dir string
		// RecipeFile is an explicit recipe path. Empty loads Dir/stackpack.cue
		// when present, else the default recipe.
		RecipeFile string
		// Excludes are extra ignore patterns for the source scan.
		Excludes []string
	}

	// Project is a loaded, planned application ready to be validated and built.
	Project struct {
		Dir string
		// RecipePath is the recipe file that was read, empty for the default.
		RecipePath string
		Recipe     recipe.Recipe
		// SourceDir is the absolute application source directory.
		SourceDir string
		// ManifestPath is the absolute path of the dependency manifest.
		ManifestPath string
		// Manifest is nil when the manifest file does not exist; Validate
		// reports that case.
		Manifest *manifest.Manifest
		Tree     *buildctx.Tree
		VCS      *vcs.Info
		// Labels are the image labels, recipe labels included.
		Labels map[string]string
		Plan   buildctx.Plan
	}
)

// LoadProject loads the recipe, dependency manifest and source tree and
// computes the layer plan.
func LoadProject(opts ProjectOptions) (*Project, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	p := &Project{Dir: absDir}
	if err := p.loadRecipe(opts.RecipeFile); err != nil {
		return nil, err
	}

	p.SourceDir = filepath.Join(absDir, p.Recipe.Source.String())
	p.ManifestPath = filepath.Join(p.SourceDir, p.Recipe.Manifest.String())

	m, err := manifest.Load(p.ManifestPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("dependency manifest not found", "path", p.ManifestPath)
	case err != nil:
		return nil, issue.NewErrorContext().
			WithOperation("parse dependency manifest").
			WithResource(p.ManifestPath).
			WithIssue(issue.ManifestInvalidID).
			WithSuggestion("Fix the reported line; only requirement lines and index options are supported").
			Wrap(err).
			BuildError()
	default:
		p.Manifest = m
	}

	p.Tree, err = buildctx.ScanSource(p.SourceDir, buildctx.ScanOptions{Excludes: opts.Excludes})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("scan application source").
			WithResource(p.SourceDir).
			WithIssue(issue.RecipeInvalidID).
			WithSuggestion("Check the recipe's source field and the .dockerignore patterns").
			Wrap(err).
			BuildError()
	}

	p.VCS, err = vcs.Detect(p.SourceDir)
	if err != nil {
		// Provenance labels are optional; an unreadable repository only
		// loses them.
		slog.Warn("cannot read git metadata", "dir", p.SourceDir, "error", err)
		p.VCS = nil
	}

	p.Labels = p.imageLabels()
	p.Plan = p.computePlan()

	slog.Debug("project loaded",
		"dir", p.Dir,
		"recipe", p.RecipePath,
		"files", len(p.Tree.Files),
		"cache_key", p.Plan.CacheKey())
	return p, nil
}

func (p *Project) loadRecipe(path string) error {
	var err error
	if path != "" {
		p.RecipePath = path
		p.Recipe, err = recipe.Load(path)
	} else {
		var found bool
		p.Recipe, found, err = recipe.LoadDir(p.Dir)
		if found {
			p.RecipePath = filepath.Join(p.Dir, recipe.FileName)
		}
	}
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("load recipe").
			WithResource(p.RecipePath).
			WithIssue(issue.RecipeInvalidID).
			WithSuggestion("Run 'stackpack init --force' to start again from the default recipe").
			Wrap(err).
			BuildError()
	}
	return nil
}

// ManifestFile is the manifest's name inside the build context. A
// requirements file keeps its name only when it sits at the source root;
// anything else is installed from manifest.InstallFileName so it cannot
// shadow a source file.
func (p *Project) ManifestFile() string {
	name := filepath.Base(p.ManifestPath)
	if p.Manifest != nil {
		name = p.Manifest.InstallFile()
	}
	if name != manifest.InstallFileName && p.manifestSource() != name {
		return manifest.InstallFileName
	}
	return name
}

// manifestSource is the manifest's slash-separated path relative to the
// source directory, or "" when it lies outside it.
func (p *Project) manifestSource() string {
	rel, err := filepath.Rel(p.SourceDir, p.ManifestPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Steps returns the recipe's build steps for this project.
func (p *Project) Steps() []recipe.Step {
	return p.Recipe.Steps(p.ManifestFile())
}

// imageLabels merges provenance labels under the recipe's own labels.
func (p *Project) imageLabels() map[string]string {
	labels := map[string]string{
		specs.AnnotationBaseImageName: p.Recipe.BaseImage.String(),
	}
	maps.Copy(labels, p.VCS.Labels())
	maps.Copy(labels, p.Recipe.Labels)
	return labels
}

func (p *Project) computePlan() buildctx.Plan {
	r := p.Recipe.Clone()
	r.Labels = p.Labels

	var manifestDigest digest.Digest
	if p.Manifest != nil {
		manifestDigest = p.Manifest.Digest()
	}
	return buildctx.ComputePlan(r, manifestDigest, p.Tree.Digest())
}
