// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/config"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// newRootCommand builds the command tree for one invocation.
func newRootCommand(app *App) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "stackpack",
		Short: "Package Python web applications into container images",
		Long: TitleStyle.Render("stackpack") + SubtitleStyle.Render(" - Package Python web applications into container images") + `

stackpack turns an application directory (source, a dependency manifest and
an optional stackpack.cue recipe) into a container image that installs the
declared dependencies, drops root privileges and starts one fixed command.
Builds are content-addressed: unchanged inputs reuse the existing image.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Run 'stackpack init' in your application directory
  2. Review the generated stackpack.cue
  3. Run 'stackpack run' to build the image and start the application

` + SubtitleStyle.Render("Examples:") + `
  stackpack render          Print the Dockerfile for the current directory
  stackpack plan            Show build steps and layer cache keys
  stackpack build           Build the application image
  stackpack run --port 9000 Build, then serve on host port 9000
  stackpack check Dockerfile  Lint an existing Dockerfile`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.configure(cmd.Context(), flags, cmd.Flags().Changed)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/stackpack/config.cue)")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log output format (text, json)")
	rootCmd.PersistentFlags().StringVar(&flags.engine, "engine", string(config.ContainerEngineAuto), "container engine (docker, podman, auto)")

	rootCmd.AddCommand(
		newRenderCommand(app),
		newPlanCommand(app),
		newCheckCommand(app),
		newBuildCommand(app),
		newRunCommand(app),
		newInitCommand(app),
		newConfigCommand(app),
		newExplainCommand(app),
	)

	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)
	return rootCmd
}

// Execute runs the CLI with args and returns the process exit status.
func Execute(ctx context.Context, app *App, args []string) types.ExitCode {
	rootCmd := newRootCommand(app)
	rootCmd.SetArgs(args)

	err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			var exitErr *ExitError
			if errors.As(err, &exitErr) && exitErr.Err == nil {
				return
			}
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.verbose))
		}),
	)
	return exitCode(err)
}

// Main is the entry point of the stackpack binary.
func Main() int {
	return int(Execute(context.Background(), NewApp(Dependencies{}), os.Args[1:]))
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
