// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/config"
	"github.com/stackpack/stackpack/internal/issue"
)

// newConfigCommand creates the `stackpack config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stackpack configuration",
		Long: `Manage stackpack configuration.

Configuration is stored in config.cue under the XDG config directory
(usually ~/.config/stackpack/config.cue). STACKPACK_* environment variables
override file values, for example STACKPACK_CONTAINER_ENGINE=docker or
STACKPACK_IMAGE_NAME=myapp. Global flags override both.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(app, configPathFlag(cmd))
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigPath(configPathFlag(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(app, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cfgCmd.AddCommand(initCmd)

	return cfgCmd
}

func configPathFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return config.ConfigFilePath("")
}

func showConfig(app *App, explicit string) error {
	cfg := app.Settings()
	w := app.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	source := SubtitleStyle.Render("(using defaults)")
	if path, err := resolveConfigPath(explicit); err == nil {
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			source = path
		}
	}
	fmt.Fprintf(w, "%s: %s\n", CmdStyle.Render("Config file"), source)
	fmt.Fprintln(w)

	contextDir := cfg.Build.ContextDir.String()
	if contextDir == "" {
		contextDir = SubtitleStyle.Render("(system temp)")
	}

	fmt.Fprintf(w, "%s: %s\n", CmdStyle.Render("container_engine"), SuccessStyle.Render(cfg.ContainerEngine.String()))
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("image"))
	fmt.Fprintf(w, "  name: %s\n", SuccessStyle.Render(cfg.Image.Name.String()))
	fmt.Fprintf(w, "  force_rebuild: %s\n", SuccessStyle.Render(fmt.Sprint(cfg.Image.ForceRebuild)))
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("build"))
	fmt.Fprintf(w, "  keep_context: %s\n", SuccessStyle.Render(fmt.Sprint(cfg.Build.KeepContext)))
	fmt.Fprintf(w, "  context_dir: %s\n", contextDir)
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render("ui"))
	fmt.Fprintf(w, "  verbose: %s\n", SuccessStyle.Render(fmt.Sprint(cfg.UI.Verbose)))
	fmt.Fprintf(w, "  log_format: %s\n", SuccessStyle.Render(string(cfg.UI.LogFormat)))
	return nil
}

func initConfig(app *App, force bool) error {
	path, err := config.CreateDefaultConfig("", force)
	if errors.Is(err, config.ErrConfigExists) {
		return issue.NewErrorContext().
			WithOperation("create config file").
			WithResource(path).
			WithSuggestion("Use --force to overwrite it with the defaults").
			Wrap(err).
			BuildError()
	}
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("create config file").
			WithIssue(issue.ConfigLoadFailedID).
			Wrap(err).
			BuildError()
	}
	fmt.Fprintf(app.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
