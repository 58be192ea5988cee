// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/launcher"
	"github.com/stackpack/stackpack/pkg/types"
)

func newRunCommand(app *App) *cobra.Command {
	var (
		build  buildFlags
		port   int
		hostIP string
		name   string
		detach bool
		remove bool
		env    []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the application image if needed, then start it",
		Long: `Build the application image (reusing an identical existing image) and
start it. The image's own command always runs; stackpack does not accept a
command override. The application port is published on the host, on the
same port unless --port is given.

A non-zero exit of the application is reported as a launch failure and
becomes stackpack's exit status.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return issue.NewErrorContext().
					WithOperation("start application").
					WithIssue(issue.LaunchFailedID).
					WithSuggestion("Change the launch command in stackpack.cue and rebuild").
					Wrap(fmt.Errorf("%w: %q", container.ErrCommandOverride, args)).
					BuildError()
			}
			envMap, err := parseEnv(env)
			if err != nil {
				return err
			}
			var hostPort types.ListenPort
			if cmd.Flags().Changed("port") {
				hostPort = types.ListenPort(port)
				if err := hostPort.Validate(); err != nil {
					return err
				}
			}

			engine, err := app.engine()
			if err != nil {
				return err
			}
			defer func() { _ = container.CloseEngine(engine) }()

			p, res, err := buildProject(cmd.Context(), app, engine, &build, build.options(cmd))
			if err != nil {
				return err
			}

			out, err := launcher.New(engine).Launch(cmd.Context(), launcher.LaunchOptions{
				Image:         res.ImageTag,
				Name:          name,
				HostIP:        hostIP,
				ContainerPort: p.Recipe.Launch.Port,
				HostPort:      hostPort,
				Detach:        detach,
				Remove:        remove,
				Env:           envMap,
				Stdout:        app.stdout,
				Stderr:        app.stderr,
			})
			if err != nil {
				return err
			}
			if detach {
				host := out.Port.HostIP
				if host == "" {
					host = "localhost"
				}
				fmt.Fprintf(app.stdout, "%s Started %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(shortKey(out.ContainerID)))
				fmt.Fprintf(app.stdout, "  %s http://%s:%d\n", labelStyle.Render("url:"), host, out.Port.HostPort)
			}
			return nil
		},
	}

	build.register(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "host port to publish the application on (default: the application port)")
	cmd.Flags().StringVar(&hostIP, "host-ip", "", "host address to bind the published port to")
	cmd.Flags().StringVar(&name, "name", "", "container name")
	cmd.Flags().BoolVar(&detach, "detach", false, "run the container in the background")
	cmd.Flags().BoolVar(&remove, "rm", true, "remove the container when it exits")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	return cmd
}

// parseEnv turns KEY=VALUE pairs into a map. Later pairs win.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
