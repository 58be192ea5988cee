// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/builder"
)

// projectFlags locate the application a command works on.
type projectFlags struct {
	dir    string
	recipe string
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.dir, "dir", "d", ".", "application directory")
	cmd.Flags().StringVarP(&f.recipe, "recipe", "r", "", "recipe file (default is <dir>/stackpack.cue when present)")
}

func (f *projectFlags) load() (*builder.Project, error) {
	return builder.LoadProject(builder.ProjectOptions{
		Dir:        f.dir,
		RecipeFile: f.recipe,
	})
}

// builderOptions maps the resolved configuration onto builder options.
func (a *App) builderOptions() []builder.Option {
	cfg := a.Settings()
	return []builder.Option{
		builder.WithImageName(cfg.Image.Name.String()),
		builder.WithForceRebuild(cfg.Image.ForceRebuild),
		builder.WithKeepContext(cfg.Build.KeepContext),
		builder.WithContextParent(cfg.Build.ContextDir.String()),
		builder.WithOutput(a.stderr),
	}
}

func (a *App) newBuilderConfig(extra ...builder.Option) *builder.Config {
	bcfg := builder.DefaultConfig()
	bcfg.Apply(a.builderOptions()...)
	bcfg.Apply(extra...)
	return bcfg
}
