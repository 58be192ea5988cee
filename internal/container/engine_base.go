// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/pkg/types"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the implementation shared by CLI-based engines.
	// Engine-specific methods (Available, Version, ImageExists) live on the
	// concrete types.
	BaseCLIEngine struct {
		name            string
		binaryPath      string
		execCommand     ExecCommandFunc
		cmdEnvOverrides map[string]string
		// overridePath is a temp file removed on Close.
		overridePath string
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithCmdEnvOverride adds an environment variable applied to every command
// the engine runs.
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// withOverrideFile records a temp file owned by the engine.
func withOverrideFile(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.overridePath = path
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// BuildArgs constructs arguments for a build command.
//
// Generated command: <binary> build [options] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) && opts.ContextDir != "" {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	for _, tag := range opts.Tags {
		args = append(args, "-t", tag)
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Pull {
		args = append(args, "--pull")
	}

	// Sorted so that identical options give identical command lines.
	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	for _, k := range slices.Sorted(maps.Keys(opts.BuildArgs)) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}

	return append(args, opts.ContextDir)
}

// RunArgs constructs arguments for a run command.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Detach {
		args = append(args, "-d")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Stdin != nil && !opts.Detach {
		args = append(args, "-i")
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", p.String())
	}

	args = append(args, opts.Image)
	return append(args, opts.Command...)
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(containerID string, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, containerID)
}

// RemoveImageArgs constructs arguments for an image remove command.
func (e *BaseCLIEngine) RemoveImageArgs(image string, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, image)
}

// --- Command Execution ---

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, args, stderr.String(), err)
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", commandError(e.binaryPath, args, stderr.String(), err)
	}
	return out.String(), nil
}

// CreateCommand creates an exec.Cmd for the given arguments with the
// engine-level environment overrides applied.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	if len(e.cmdEnvOverrides) > 0 {
		// A non-nil Env replaces the inherited environment, so start from it.
		cmd.Env = append(os.Environ(), cmd.Env...)
		for _, k := range slices.Sorted(maps.Keys(e.cmdEnvOverrides)) {
			cmd.Env = append(cmd.Env, k+"="+e.cmdEnvOverrides[k])
		}
	}
	return cmd
}

// Close removes temporary resources held by the engine. It is safe to call
// multiple times.
func (e *BaseCLIEngine) Close() error {
	if e.overridePath == "" {
		return nil
	}
	err := os.Remove(e.overridePath)
	e.overridePath = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove engine override file: %w", err)
	}
	return nil
}

// --- Shared Engine Methods ---

// Build builds an image from a Dockerfile.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, err)
	}
	return nil
}

// Run runs a container and returns the result. A non-zero exit code is
// captured in RunResult.ExitCode, not returned as error. Only
// infrastructure failures (binary not found, etc.) set RunResult.Error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	// Detached runs print the container ID on stdout.
	var idBuf bytes.Buffer
	if opts.Detach {
		cmd.Stdout = &idBuf
	}

	err := cmd.Run()

	result := &RunResult{}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = types.ExitCode(exitErr.ExitCode())
		} else {
			result.ExitCode = types.ExitFailure
			result.Error = runContainerError(e.name, opts, err)
		}
	}
	if opts.Detach {
		result.ContainerID = strings.TrimSpace(idBuf.String())
		if opts.Stdout != nil && result.ContainerID != "" {
			_, _ = fmt.Fprintln(opts.Stdout, result.ContainerID)
		}
	}

	return result, nil
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(containerID, force)...)
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// Tag adds the target name to an existing image.
func (e *BaseCLIEngine) Tag(ctx context.Context, source, target string) error {
	return e.RunCommandStatus(ctx, "tag", source, target)
}

// InspectImage returns the ID and configuration of an image.
func (e *BaseCLIEngine) InspectImage(ctx context.Context, image string) (*ImageInfo, error) {
	out, err := e.RunCommandWithOutput(ctx, "image", "inspect", image)
	if err != nil {
		return nil, err
	}
	return ParseImageInspect([]byte(out))
}

// Pull fetches an image, retrying transient registry and network errors.
func (e *BaseCLIEngine) Pull(ctx context.Context, image string) error {
	err := RetryWithBackoff(ctx, pullAttempts, pullBackoff, func(attempt int) (bool, error) {
		err := e.RunCommandStatus(ctx, "pull", image)
		if err != nil && IsTransientError(err) {
			logRetry("pull", image, attempt, err)
			return true, err
		}
		return false, err
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("pull base image").
			WithResource(image).
			WithIssue(issue.BaseImageUnavailableID).
			WithSuggestions(
				"Check the image name and tag for typos",
				"Verify network access to the registry (try: "+e.name+" pull "+image+")",
				"Log in to the registry if the image is private",
			).
			Wrap(err).
			BuildError()
	}
	return nil
}

// --- Errors ---

// CommandError reports a failed engine command together with its stderr.
type CommandError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s failed: %v", filepath.Base(e.Binary), strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns the underlying execution error.
func (e *CommandError) Unwrap() error { return e.Err }

func commandError(binary string, args []string, stderr string, err error) error {
	return &CommandError{Binary: binary, Args: slices.Clone(args), Stderr: stderr, Err: err}
}

// buildContainerError creates an actionable error for build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image")

	switch {
	case opts.Dockerfile != "":
		ctx.WithResource(opts.Dockerfile)
	case len(opts.Tags) > 0:
		ctx.WithResource(opts.Tags[0])
	}

	ctx.WithSuggestion("Check the build output above for the failing step")
	ctx.WithSuggestion("Ensure base images are available (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Run with --verbose to see full build output")

	return ctx.Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for run failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("run container").
		WithResource(opts.Image).
		WithIssue(issue.LaunchFailedID)

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	ctx.WithSuggestion("Ensure port mappings don't conflict with running services")

	return ctx.Wrap(cause).BuildError()
}
