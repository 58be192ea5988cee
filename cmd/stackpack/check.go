// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/dockerfile"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/pkg/types"
)

const stdinPath = "-"

func newCheckCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check [DOCKERFILE|-]",
		Short: "Lint a Dockerfile against the packaging rules",
		Long: `Lint a Dockerfile for the ordering and privilege rules stackpack images
follow: a final non-root USER before the launch command, the dependency
manifest copied before dependencies are installed and the source copied after,
pip without a cache, a pinned base image and an exec-form CMD.

Reads ./Dockerfile by default, or standard input when the argument is "-".
Exits with status 2 when any error-level finding is reported.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "Dockerfile"
			if len(args) == 1 {
				path = args[0]
			}
			return runCheck(app, cmd.InOrStdin(), path)
		},
	}
}

func runCheck(app *App, stdin io.Reader, path string) error {
	var (
		r    io.Reader
		name = path
	)
	if path == stdinPath {
		r, name = stdin, "<stdin>"
	} else {
		f, err := os.Open(path)
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("read Dockerfile").
				WithResource(path).
				WithSuggestion("Pass the Dockerfile path, or '-' to read standard input").
				Wrap(err).
				BuildError()
		}
		defer f.Close()
		r = f
	}

	report, err := dockerfile.Lint(r)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("lint Dockerfile").
			WithResource(name).
			WithIssue(issue.DockerfileLintFailedID).
			Wrap(err).
			BuildError()
	}

	w := app.stdout
	if len(report.Findings) == 0 {
		fmt.Fprintf(w, "%s %s: no findings\n", SuccessStyle.Render("✓"), name)
		return nil
	}

	fmt.Fprintln(w, TitleStyle.Render(name))
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  %s %s [%s]: %s\n",
			VerboseStyle.Render(fmt.Sprintf("line %d:", f.Line)),
			severityStyle(f.Severity).Render(string(f.Severity)),
			f.Rule,
			f.Message)
	}

	errs, warns := report.Count(dockerfile.SeverityError), report.Count(dockerfile.SeverityWarning)
	summary := fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)
	if !report.HasErrors() {
		fmt.Fprintf(w, "%s %s\n", WarningStyle.Render("!"), summary)
		return nil
	}
	return &ExitError{
		Code: types.ExitLintErrors,
		Err:  fmt.Errorf("%s: %s", name, summary),
	}
}
