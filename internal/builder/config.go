// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"io"
	"os"
)

// DefaultImageName is the repository part of built image tags.
const DefaultImageName = "stackpack-app"

type (
	// Config holds build settings that do not come from the recipe.
	Config struct {
		// ImageName is the repository of the content-addressed tag.
		ImageName string

		// ForceRebuild builds even when the content-addressed tag exists.
		ForceRebuild bool

		// NoCache passes --no-cache to the engine. It implies ForceRebuild.
		NoCache bool

		// ExtraTags are applied to the image in addition to the
		// content-addressed tag.
		ExtraTags []string

		// KeepContext leaves the assembled build context on disk.
		KeepContext bool

		// ContextParent is where build contexts are created. Empty uses
		// buildctx.DefaultParentDir.
		ContextParent string

		// SkipVerify disables the post-build image inspection.
		SkipVerify bool

		// Output receives streamed engine output. Defaults to os.Stderr.
		Output io.Writer
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ImageName: DefaultImageName,
		Output:    os.Stderr,
	}
}

// WithImageName returns an Option that sets ImageName.
func WithImageName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.ImageName = name
		}
	}
}

// WithForceRebuild returns an Option that sets ForceRebuild.
func WithForceRebuild(force bool) Option {
	return func(c *Config) {
		c.ForceRebuild = force
	}
}

// WithNoCache returns an Option that sets NoCache.
func WithNoCache(noCache bool) Option {
	return func(c *Config) {
		c.NoCache = noCache
	}
}

// WithExtraTags returns an Option that appends tags.
func WithExtraTags(tags ...string) Option {
	return func(c *Config) {
		c.ExtraTags = append(c.ExtraTags, tags...)
	}
}

// WithKeepContext returns an Option that sets KeepContext.
func WithKeepContext(keep bool) Option {
	return func(c *Config) {
		c.KeepContext = keep
	}
}

// WithContextParent returns an Option that sets ContextParent.
func WithContextParent(dir string) Option {
	return func(c *Config) {
		c.ContextParent = dir
	}
}

// WithSkipVerify returns an Option that sets SkipVerify.
func WithSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.SkipVerify = skip
	}
}

// WithOutput returns an Option that sets the engine output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Config) {
		c.Output = w
	}
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) rebuild() bool {
	return c.ForceRebuild || c.NoCache
}
