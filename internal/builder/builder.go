// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/stackpack/stackpack/internal/buildctx"
	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/dockerfile"
	"github.com/stackpack/stackpack/internal/issue"
)

// CacheKeyLabel records the full cache key on built images.
const CacheKeyLabel = "io.stackpack.cache-key"

type (
	// Builder builds application images with a container engine.
	Builder struct {
		engine container.Engine
		config *Config
	}

	// Result describes a finished build.
	Result struct {
		// ImageTag is the content-addressed tag.
		ImageTag string
		// Tags lists every tag applied, ImageTag first.
		Tags     []string
		CacheKey string
		// Skipped is true when the image already existed.
		Skipped bool
		Layers  []buildctx.Layer
		// Dockerfile is the rendered Dockerfile. It is set for skipped
		// builds too.
		Dockerfile []byte
		// ContextDir is the kept build context, when Config.KeepContext is set.
		ContextDir string
		// Image is the inspected image; nil when verification is skipped.
		Image *container.ImageInfo
	}
)

// New creates a Builder. A nil cfg uses DefaultConfig.
func New(engine container.Engine, cfg *Config) *Builder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Builder{engine: engine, config: cfg}
}

// Config returns the builder's configuration.
func (b *Builder) Config() *Config {
	return b.config
}

// ImageTag returns the content-addressed tag for p.
func (b *Builder) ImageTag(p *Project) string {
	return buildctx.ImageTag(b.config.ImageName, p.Plan.CacheKey())
}

// Render validates p and returns its Dockerfile.
func Render(p *Project) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return render(p)
}

func render(p *Project) ([]byte, error) {
	data, err := dockerfile.Render(dockerfile.Input{
		Recipe:       p.Recipe,
		ManifestFile: p.ManifestFile(),
		Labels:       p.Labels,
	})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("render Dockerfile").
			WithIssue(issue.RecipeInvalidID).
			Wrap(err).
			BuildError()
	}
	return data, nil
}

// Build validates p, builds its image unless an identical one exists, and
// verifies the image configuration. Every failure aborts the build.
func (b *Builder) Build(ctx context.Context, p *Project) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tag := b.ImageTag(p)
	res := &Result{
		ImageTag: tag,
		Tags:     append([]string{tag}, b.config.ExtraTags...),
		CacheKey: p.Plan.CacheKey().String(),
		Layers:   p.Plan.Layers,
	}

	var err error
	if res.Dockerfile, err = render(p); err != nil {
		return nil, err
	}

	if !b.config.rebuild() {
		exists, existsErr := b.engine.ImageExists(ctx, tag)
		if existsErr != nil {
			slog.Debug("image lookup failed, building", "tag", tag, "error", existsErr)
		}
		if exists {
			slog.Info("image up to date", "tag", tag)
			res.Skipped = true
			if err := b.tagExtra(ctx, tag); err != nil {
				return nil, err
			}
			return b.verify(ctx, p, res)
		}
	}

	if err := b.ensureBaseImage(ctx, p); err != nil {
		return nil, err
	}

	bctx, err := buildctx.Assemble(buildctx.AssembleOptions{
		Tree:            p.Tree,
		ManifestName:    p.ManifestFile(),
		ManifestSource:  p.manifestSource(),
		ManifestContent: p.Manifest.InstallContent(),
		Dockerfile:      res.Dockerfile,
		ParentDir:       b.config.ContextParent,
	})
	if err != nil {
		return nil, newFailure(BuildEnvironment, issue.OSPackageInstallFailedID, "assemble build context", p.SourceDir, "", err)
	}
	if b.config.KeepContext {
		res.ContextDir = bctx.Dir
		slog.Info("build context kept", "dir", bctx.Dir)
	} else {
		defer func() {
			if rmErr := bctx.Remove(); rmErr != nil {
				slog.Warn("cannot remove build context", "dir", bctx.Dir, "error", rmErr)
			}
		}()
	}

	if err := b.runBuild(ctx, bctx, res); err != nil {
		return nil, err
	}
	return b.verify(ctx, p, res)
}

// ensureBaseImage pulls the base image when it is not present locally.
// Pulls are retried on transient errors; the build itself never is.
func (b *Builder) ensureBaseImage(ctx context.Context, p *Project) error {
	base := p.Recipe.BaseImage.String()
	if exists, _ := b.engine.ImageExists(ctx, base); exists { //nolint:errcheck // Lookup errors fall through to the pull
		return nil
	}
	slog.Info("pulling base image", "image", base)
	if err := b.engine.Pull(ctx, base); err != nil {
		return newFailure(BuildEnvironment, issue.BaseImageUnavailableID, "pull base image", base, "", err)
	}
	return nil
}

func (b *Builder) runBuild(ctx context.Context, bctx *buildctx.Context, res *Result) error {
	tail := &tailBuffer{}
	out := b.config.Output
	if out == nil {
		out = io.Discard
	}
	stream := io.MultiWriter(out, tail)

	slog.Info("building image", "tag", res.ImageTag, "context", bctx.Dir)
	err := b.engine.Build(ctx, container.BuildOptions{
		ContextDir: bctx.Dir,
		Dockerfile: buildctx.DockerfileName,
		Tags:       res.Tags,
		Labels:     map[string]string{CacheKeyLabel: res.CacheKey},
		NoCache:    b.config.NoCache,
		Stdout:     stream,
		Stderr:     stream,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("build interrupted: %w", errors.Join(ctx.Err(), err))
	}

	output := tail.String()
	kind, id := Classify(output)
	slog.Debug("build failed", "kind", kind.String(), "tag", res.ImageTag)
	return newFailure(kind, id, "build image", res.ImageTag, output, err)
}

func (b *Builder) tagExtra(ctx context.Context, tag string) error {
	for _, extra := range b.config.ExtraTags {
		if err := b.engine.Tag(ctx, tag, extra); err != nil {
			return issue.WrapWithContext(err, "tag image", extra)
		}
	}
	return nil
}

func (b *Builder) verify(ctx context.Context, p *Project, res *Result) (*Result, error) {
	if b.config.SkipVerify {
		return res, nil
	}
	info, err := b.engine.InspectImage(ctx, res.ImageTag)
	if err != nil {
		return nil, issue.WrapWithContext(err, "inspect built image", res.ImageTag)
	}
	if err := VerifyImage(info, p.Recipe); err != nil {
		return nil, err
	}
	res.Image = info
	return res, nil
}
