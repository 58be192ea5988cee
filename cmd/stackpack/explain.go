// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackpack/stackpack/internal/issue"
)

func newExplainCommand(app *App) *cobra.Command {
	var style string

	cmd := &cobra.Command{
		Use:   "explain [ISSUE]",
		Short: "Explain a build or launch problem",
		Long: `Show the catalog entry for a problem stackpack reports, with the likely
causes and what to try. Without an argument, list the catalog.

Error messages end with the slug to pass here, for example:
  stackpack explain dependencies`,
		Args: cobra.MaximumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			slugs := make([]string, 0, len(issue.Values()))
			for _, entry := range issue.Values() {
				slugs = append(slugs, entry.Slug()+"\t"+entry.Title())
			}
			return slugs, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				listIssues(app.stdout)
				return nil
			}
			entry, ok := issue.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown issue %q; run 'stackpack explain' to list them", args[0])
			}
			out, err := entry.Render(glamourStyle(style, app.stdout))
			if err != nil {
				return fmt.Errorf("render issue: %w", err)
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&style, "style", "auto", "markdown style (auto, dark, light, notty)")
	return cmd
}

func listIssues(w io.Writer) {
	fmt.Fprintln(w, TitleStyle.Render("Known issues"))
	width := 0
	for _, entry := range issue.Values() {
		width = max(width, len(entry.Slug()))
	}
	for _, entry := range issue.Values() {
		slug := entry.Slug() + strings.Repeat(" ", width-len(entry.Slug()))
		fmt.Fprintf(w, "  %s  %s\n", CmdStyle.Render(slug), entry.Title())
	}
}

// glamourStyle resolves "auto" to a plain style when w is not a terminal.
func glamourStyle(style string, w io.Writer) string {
	if style != "auto" {
		return style
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "dark"
	}
	return "notty"
}
