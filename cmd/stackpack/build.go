// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/builder"
	"github.com/stackpack/stackpack/internal/container"
)

// buildFlags are the build settings shared by build and run.
type buildFlags struct {
	project     projectFlags
	tags        []string
	noCache     bool
	force       bool
	keepContext bool
	skipVerify  bool
}

func (f *buildFlags) register(cmd *cobra.Command) {
	f.project.register(cmd)
	cmd.Flags().StringArrayVarP(&f.tags, "tag", "t", nil, "additional image tag (repeatable)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "build without the engine's layer cache")
	cmd.Flags().BoolVar(&f.force, "force", false, "rebuild even when an image with the same inputs exists")
	cmd.Flags().BoolVar(&f.keepContext, "keep-context", false, "keep the assembled build context on disk")
	cmd.Flags().BoolVar(&f.skipVerify, "skip-verify", false, "skip the post-build image inspection")
}

// options returns the builder options for the flags set on cmd, on top of
// the configuration.
func (f *buildFlags) options(cmd *cobra.Command) []builder.Option {
	opts := []builder.Option{
		builder.WithExtraTags(f.tags...),
		builder.WithNoCache(f.noCache),
		builder.WithSkipVerify(f.skipVerify),
	}
	if cmd.Flags().Changed("force") {
		opts = append(opts, builder.WithForceRebuild(f.force))
	}
	if cmd.Flags().Changed("keep-context") {
		opts = append(opts, builder.WithKeepContext(f.keepContext))
	}
	return opts
}

func newBuildCommand(app *App) *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the application image",
		Long: `Build the application image with Docker or Podman.

The image is tagged <image-name>:<cache-key>. When an image with that tag
already exists the build is skipped; use --force to rebuild anyway. Build
output is streamed to stderr. Any failure aborts the build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := app.engine()
			if err != nil {
				return err
			}
			defer func() { _ = container.CloseEngine(engine) }()

			_, _, err = buildProject(cmd.Context(), app, engine, &flags, flags.options(cmd))
			return err
		},
	}

	flags.register(cmd)
	return cmd
}

// buildProject loads, builds and reports the project selected by flags.
func buildProject(ctx context.Context, app *App, engine container.Engine, flags *buildFlags, opts []builder.Option) (*builder.Project, *builder.Result, error) {
	p, err := flags.project.load()
	if err != nil {
		return nil, nil, err
	}

	res, err := builder.New(engine, app.newBuilderConfig(opts...)).Build(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	printBuildResult(app, res)
	return p, res, nil
}

func printBuildResult(app *App, res *builder.Result) {
	w := app.stdout
	if res.Skipped {
		fmt.Fprintf(w, "%s Image up to date: %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(res.ImageTag))
	} else {
		fmt.Fprintf(w, "%s Built %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(res.ImageTag))
	}
	for _, tag := range res.Tags[1:] {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("tagged:"), tag)
	}
	if app.verbose {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("cache key:"), VerboseStyle.Render(res.CacheKey))
	}
	if res.ContextDir != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("build context:"), res.ContextDir)
	}
}
