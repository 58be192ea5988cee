// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/stackpack/stackpack/internal/config"
	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/logging"
)

type (
	// EngineFactory creates the container engine for a configured preference.
	EngineFactory func(config.ContainerEngine) (container.Engine, error)

	// App wires CLI services and shared dependencies. It is the composition root
	// for the CLI layer: every command handler receives the App and reaches the
	// configuration, the container engine and the output streams through it.
	App struct {
		Config    config.Provider
		NewEngine EngineFactory
		stdout    io.Writer
		stderr    io.Writer

		// Resolved by the root command before any subcommand runs.
		cfg     *config.Config
		verbose bool
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    config.Provider
		NewEngine EngineFactory
		Stdout    io.Writer
		Stderr    io.Writer
	}

	// globalFlags holds the persistent flags of the root command.
	globalFlags struct {
		verbose    bool
		configPath string
		logFormat  string
		engine     string
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:    deps.Config,
		NewEngine: deps.NewEngine,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewEngine == nil {
		app.NewEngine = defaultEngine
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func defaultEngine(preferred config.ContainerEngine) (container.Engine, error) {
	return container.NewEngine(container.EngineType(preferred))
}

// Settings returns the configuration resolved for the current invocation.
// It is the default configuration until the root command has run.
func (a *App) Settings() *config.Config {
	if a.cfg == nil {
		return config.DefaultConfig()
	}
	return a.cfg
}

// configure loads the configuration, applies explicitly set global flags on
// top of it and installs the default logger.
func (a *App) configure(ctx context.Context, flags *globalFlags, changed func(string) bool) error {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		if flags.configPath != "" {
			return err
		}
		fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, flags.verbose))
		cfg = config.DefaultConfig()
	}

	if changed("verbose") {
		cfg.UI.Verbose = flags.verbose
	}
	if changed("log-format") {
		format, err := logging.ParseFormat(flags.logFormat)
		if err != nil {
			return err
		}
		cfg.UI.LogFormat = format
	}
	if changed("engine") {
		engine := config.ContainerEngine(flags.engine)
		if valid, errs := engine.IsValid(); !valid {
			return errs[0]
		}
		cfg.ContainerEngine = engine
	}

	if _, err := logging.Setup(a.stderr, logging.Options{
		Format:  cfg.UI.LogFormat,
		Verbose: cfg.UI.Verbose,
	}); err != nil {
		return err
	}

	a.cfg = cfg
	a.verbose = cfg.UI.Verbose
	slog.Debug("configuration resolved",
		"engine", cfg.ContainerEngine,
		"image", cfg.Image.Name,
		"log_format", cfg.UI.LogFormat)
	return nil
}

// engine creates the configured container engine. The caller closes it with
// container.CloseEngine.
func (a *App) engine() (container.Engine, error) {
	preferred := a.Settings().ContainerEngine
	e, err := a.NewEngine(preferred)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("select container engine").
			WithResource(preferred.String()).
			WithIssue(issue.ContainerEngineNotFoundID).
			WithSuggestions(
				"Install Docker or Podman and make sure it is running",
				"Choose an engine explicitly with --engine docker or --engine podman",
			).
			Wrap(err).
			BuildError()
	}
	slog.Debug("container engine selected", "engine", e.Name())
	return e, nil
}
