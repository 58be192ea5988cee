// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/recipe"
)

func newInitCommand(app *App) *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default stackpack.cue recipe",
		Long: `Create a stackpack.cue recipe holding the default build settings:
a python:3.9-slim base, the common native build packages, requirements.txt,
a non-root appuser (UID 1000) and 'streamlit run app.py' on port 8501.

Every field is optional; remove the ones you do not need to change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := recipe.WriteDefault(dir, force)
			if errors.Is(err, fs.ErrExist) {
				return issue.NewErrorContext().
					WithOperation("create recipe").
					WithResource(path).
					WithSuggestion("Use --force to overwrite the existing recipe").
					Wrap(err).
					BuildError()
			}
			if err != nil {
				return fmt.Errorf("create recipe: %w", err)
			}
			fmt.Fprintf(app.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "application directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing recipe")
	return cmd
}
