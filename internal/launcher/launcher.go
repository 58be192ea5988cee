// SPDX-License-Identifier: MPL-2.0

package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/stackpack/stackpack/internal/builder"
	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/pkg/types"
)

// ErrNoExposedPort is returned when an image exposes no TCP port to publish.
var ErrNoExposedPort = errors.New("image exposes no port")

type (
	// Launcher runs application images with a container engine.
	Launcher struct {
		engine container.Engine
	}

	// LaunchOptions configures one run of an application image.
	LaunchOptions struct {
		// Image is the image to run.
		Image string
		// Name is the container name. Empty lets the engine pick one.
		Name string
		// HostIP restricts the published port to one host address.
		HostIP string
		// ContainerPort is the port the application listens on. Zero falls
		// back to the lowest port the image exposes.
		ContainerPort types.ListenPort
		// HostPort is the host side of the published port. Zero publishes
		// on the same port the application listens on.
		HostPort types.ListenPort
		// Detach runs the container in the background.
		Detach bool
		// Remove deletes the container when it exits.
		Remove bool
		Env    map[string]string
		// Command must be empty; the image's own command always runs.
		Command []string
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// LaunchConfig is the launch configuration recorded in an image.
	LaunchConfig struct {
		Image   string
		User    string
		Command []string
		WorkDir string
		// Ports are the exposed TCP ports, ascending.
		Ports []types.ListenPort
	}

	// Result describes a finished or detached run.
	Result struct {
		// ContainerID is set for detached runs.
		ContainerID string
		// Port is the published mapping.
		Port     container.PortMapping
		ExitCode types.ExitCode
	}
)

// New creates a Launcher.
func New(engine container.Engine) *Launcher {
	return &Launcher{engine: engine}
}

// Port returns the application port: the lowest exposed TCP port.
func (c *LaunchConfig) Port() (types.ListenPort, bool) {
	if len(c.Ports) == 0 {
		return 0, false
	}
	return c.Ports[0], true
}

// Inspect reads the launch configuration recorded in image.
func (l *Launcher) Inspect(ctx context.Context, image string) (*LaunchConfig, error) {
	info, err := l.engine.InspectImage(ctx, image)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("inspect image").
			WithResource(image).
			WithIssue(issue.LaunchFailedID).
			WithSuggestion("Build the image first with 'stackpack build'").
			Wrap(err).
			BuildError()
	}

	cfg := &LaunchConfig{
		Image:   image,
		User:    info.Config.User,
		Command: slices.Clone(info.Config.Cmd),
		WorkDir: info.Config.WorkingDir,
	}
	for _, spec := range slices.Sorted(maps.Keys(info.Config.ExposedPorts)) {
		num, proto, _ := strings.Cut(spec, "/")
		if proto != "" && proto != "tcp" {
			continue
		}
		port, err := types.ParseListenPort(num)
		if err != nil {
			slog.Debug("ignoring exposed port", "image", image, "port", spec, "error", err)
			continue
		}
		cfg.Ports = append(cfg.Ports, port)
	}
	slices.Sort(cfg.Ports)
	return cfg, nil
}

// Launch runs opts.Image with its own command, publishing the application
// port. A foreground run that exits non-zero returns a RuntimeLaunch
// failure carrying the exit code. Launches are never retried.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (*Result, error) {
	if len(opts.Command) > 0 {
		return nil, fmt.Errorf("%w: %q", container.ErrCommandOverride, opts.Command)
	}

	cfg, err := l.Inspect(ctx, opts.Image)
	if err != nil {
		return nil, err
	}
	port := opts.ContainerPort
	if port == 0 {
		var ok bool
		if port, ok = cfg.Port(); !ok {
			return nil, builder.LaunchFailure(opts.Image, types.ExitFailure, ErrNoExposedPort)
		}
	} else if !slices.Contains(cfg.Ports, port) {
		slog.Warn("application port is not exposed by the image", "image", opts.Image, "port", port)
	}

	mapping := container.PortMapping{HostIP: opts.HostIP, HostPort: opts.HostPort, ContainerPort: port}
	if mapping.HostPort == 0 {
		mapping.HostPort = port
	}

	runOpts := container.RunOptions{
		Image:  opts.Image,
		Env:    opts.Env,
		Ports:  []container.PortMapping{mapping},
		Remove: opts.Remove,
		Detach: opts.Detach,
		Name:   opts.Name,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	}

	slog.Info("starting application",
		"image", opts.Image,
		"user", cfg.User,
		"port", mapping.String(),
		"detach", opts.Detach)

	res, err := l.engine.Run(ctx, runOpts)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("start container").
			WithResource(opts.Image).
			WithIssue(issue.LaunchFailedID).
			Wrap(err).
			BuildError()
	}
	if res.Error != nil {
		return nil, issue.NewErrorContext().
			WithOperation("start container").
			WithResource(opts.Image).
			WithIssue(issue.ContainerEngineNotFoundID).
			Wrap(res.Error).
			BuildError()
	}

	out := &Result{ContainerID: res.ContainerID, Port: mapping, ExitCode: res.ExitCode}
	if ctx.Err() != nil && !opts.Detach {
		return out, fmt.Errorf("application interrupted: %w", ctx.Err())
	}
	if res.ExitCode != types.ExitSuccess {
		return out, builder.LaunchFailure(opts.Image, res.ExitCode,
			fmt.Errorf("application exited with code %d", res.ExitCode))
	}
	return out, nil
}
