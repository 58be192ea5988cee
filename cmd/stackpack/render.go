// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/builder"
	"github.com/stackpack/stackpack/internal/buildctx"
)

// shortKeyLength is the number of digest hex digits shown in plan output.
const shortKeyLength = 12

func newRenderCommand(app *App) *cobra.Command {
	var (
		project projectFlags
		output  string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the Dockerfile for an application",
		Long: `Validate the application and print the Dockerfile stackpack would build.

The output is deterministic: identical inputs always render identical bytes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := project.load()
			if err != nil {
				return err
			}
			data, err := builder.Render(p)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = app.stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write Dockerfile: %w", err)
			}
			fmt.Fprintf(app.stdout, "%s Dockerfile written to %s\n", SuccessStyle.Render("✓"), output)
			return nil
		},
	}

	project.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the Dockerfile to a file instead of stdout")
	return cmd
}

func newPlanCommand(app *App) *cobra.Command {
	var project projectFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show build steps and layer cache keys",
		Long: `Validate the application and show its ordered build steps, the cache key of
each layer group and the content-addressed image tag.

Changing only application source changes the source and runtime keys; the
base and deps keys, and the layers they cover, are reused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := project.load()
			if err != nil {
				return err
			}
			if err := p.Validate(); err != nil {
				return err
			}
			tag := buildctx.ImageTag(app.Settings().Image.Name.String(), p.Plan.CacheKey())
			printPlan(app, p, tag)
			return nil
		},
	}

	project.register(cmd)
	return cmd
}

func printPlan(app *App, p *builder.Project, tag string) {
	w := app.stdout

	recipePath := p.RecipePath
	if recipePath == "" {
		recipePath = SubtitleStyle.Render("(defaults)")
	}
	fmt.Fprintln(w, TitleStyle.Render("Build plan"))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Directory:"), p.Dir)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Recipe:"), recipePath)
	if p.VCS != nil && p.VCS.Revision != "" {
		rev := p.VCS.Revision
		if p.VCS.Dirty {
			rev += " (dirty)"
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Revision:"), rev)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, SubtitleStyle.Render("Steps:"))
	for i, step := range p.Steps() {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, CmdStyle.Render(step.String()))
	}
	fmt.Fprintln(w)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Headers("LAYER", "KEY", "INPUTS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, l := range p.Plan.Layers {
		t.Row(string(l.Name), shortKey(l.Key.Encoded()), strings.Join(l.Inputs, "\n"))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Image:"), CmdStyle.Render(tag))
}

func shortKey(encoded string) string {
	if len(encoded) > shortKeyLength {
		return encoded[:shortKeyLength]
	}
	return encoded
}
