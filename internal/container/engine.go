// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/stackpack/stackpack/pkg/types"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
	// EngineTypeAuto selects the first available engine.
	EngineTypeAuto EngineType = "auto"
)

var (
	// ErrEngineNotAvailable is the sentinel error wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")

	// ErrInvalidEngineType is the sentinel error wrapped by InvalidEngineTypeError.
	ErrInvalidEngineType = errors.New("invalid container engine type")

	// ErrCommandOverride is returned when a run asks for a command while the
	// image's own launch command is required.
	ErrCommandOverride = errors.New("command override not allowed")
)

type (
	// Engine defines the container operations stackpack relies on.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is installed and reachable.
		Available() bool
		// Version returns the engine server version.
		Version(ctx context.Context) (string, error)

		// Build builds an image from a Dockerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// Run runs a container. A non-zero exit is reported in RunResult.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Remove removes a container.
		Remove(ctx context.Context, containerID string, force bool) error
		// ImageExists checks if an image exists locally.
		ImageExists(ctx context.Context, image string) (bool, error)
		// RemoveImage removes an image.
		RemoveImage(ctx context.Context, image string, force bool) error
		// Tag adds the target name to an existing image.
		Tag(ctx context.Context, source, target string) error
		// InspectImage returns the image ID and configuration.
		InspectImage(ctx context.Context, image string) (*ImageInfo, error)
		// Pull fetches an image from its registry.
		Pull(ctx context.Context, image string) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// InvalidEngineTypeError is returned when an EngineType is not recognized.
	InvalidEngineTypeError struct {
		Value EngineType
	}

	// EngineNotAvailableError is returned when no usable engine was found.
	EngineNotAvailableError struct {
		Engine EngineType
		Reason string
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the Dockerfile path, relative to ContextDir unless absolute.
		Dockerfile string
		// Tags are applied to the built image. The first one is the primary tag.
		Tags []string
		// Labels are added on top of those in the Dockerfile.
		Labels map[string]string
		// BuildArgs are build-time variables.
		BuildArgs map[string]string
		// NoCache disables the build cache.
		NoCache bool
		// Pull always attempts to pull a newer base image.
		Pull bool
		// Stdout is where build output goes.
		Stdout io.Writer
		// Stderr is where build errors go.
		Stderr io.Writer
	}

	// RunOptions contains options for running a container.
	RunOptions struct {
		// Image is the image to run.
		Image string
		// Command overrides the image command. Empty keeps the image's CMD.
		Command []string
		// Env contains environment variables.
		Env map[string]string
		// Ports are published ports.
		Ports []PortMapping
		// Remove automatically removes the container after exit.
		Remove bool
		// Detach runs the container in the background.
		Detach bool
		// Name is the container name.
		Name string
		// Stdin is the standard input.
		Stdin io.Reader
		// Stdout is where to write standard output.
		Stdout io.Writer
		// Stderr is where to write standard error.
		Stderr io.Writer
	}

	// RunResult contains the result of running a container.
	RunResult struct {
		// ContainerID is set for detached runs.
		ContainerID string
		// ExitCode is the exit code of the container process.
		ExitCode types.ExitCode
		// Error holds an infrastructure failure, such as a missing binary.
		Error error
	}
)

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

// Validate returns an error if the EngineType is not a known engine.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman, EngineTypeAuto, "":
		return nil
	default:
		return &InvalidEngineTypeError{Value: t}
	}
}

// Error implements the error interface.
func (e *InvalidEngineTypeError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman, auto)", e.Value)
}

// Unwrap returns ErrInvalidEngineType for errors.Is() compatibility.
func (e *InvalidEngineTypeError) Unwrap() error { return ErrInvalidEngineType }

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// Validate checks the fields the CLI relies on.
func (o BuildOptions) Validate() error {
	if o.ContextDir == "" {
		return errors.New("build: context directory is required")
	}
	if len(o.Tags) == 0 {
		return errors.New("build: at least one tag is required")
	}
	return nil
}

// Validate checks the image and port mappings.
func (o RunOptions) Validate() error {
	if o.Image == "" {
		return errors.New("run: image is required")
	}
	var errs []error
	for _, p := range o.Ports {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewEngine creates a container engine based on preference, falling back to
// the other engine when the preferred one is unavailable.
func NewEngine(preferredType EngineType) (Engine, error) {
	switch preferredType {
	case EngineTypeAuto, "":
		return AutoDetectEngine()

	case EngineTypePodman:
		engine := NewPodmanEngine()
		if engine.Available() {
			return engine, nil
		}
		_ = engine.Close()
		if dockerEngine := NewDockerEngine(); dockerEngine.Available() {
			return dockerEngine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: EngineTypePodman,
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		engine := NewDockerEngine()
		if engine.Available() {
			return engine, nil
		}
		podmanEngine := NewPodmanEngine()
		if podmanEngine.Available() {
			return podmanEngine, nil
		}
		_ = podmanEngine.Close()
		return nil, &EngineNotAvailableError{
			Engine: EngineTypeDocker,
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	default:
		return nil, &InvalidEngineTypeError{Value: preferredType}
	}
}

// AutoDetectEngine tries to find an available container engine.
func AutoDetectEngine() (Engine, error) {
	// Podman first: it is the common choice on rootless setups.
	podman := NewPodmanEngine()
	if podman.Available() {
		return podman, nil
	}
	_ = podman.Close()

	docker := NewDockerEngine()
	if docker.Available() {
		return docker, nil
	}

	return nil, &EngineNotAvailableError{
		Engine: EngineTypeAuto,
		Reason: "no container engine (podman or docker) is available on this system",
	}
}

// CloseEngine releases engine resources when the engine holds any.
func CloseEngine(e Engine) error {
	if c, ok := e.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
