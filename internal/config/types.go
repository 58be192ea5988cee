// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/stackpack/stackpack/internal/logging"
)

const (
	// ContainerEngineAuto picks whichever engine is installed, Podman first.
	ContainerEngineAuto ContainerEngine = "auto"
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// DefaultImageName is the default repository of built images.
	DefaultImageName ImageName = "stackpack-app"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidImageName is returned when an ImageName is not a valid repository name.
	ErrInvalidImageName = errors.New("invalid image name")
	// ErrInvalidContextDir is returned when a ContextDir value is whitespace-only.
	ErrInvalidContextDir = errors.New("invalid build context directory")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	imageNamePattern = regexp.MustCompile(`^[a-z0-9]+([._/-][a-z0-9]+)*$`)
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// ImageName is the repository part of built image tags.
	ImageName string

	// InvalidImageNameError is returned when an ImageName is not a valid
	// lowercase repository name.
	InvalidImageNameError struct {
		Value ImageName
	}

	// ContextDir is the parent directory of temporary build contexts.
	// The zero value means the default location.
	ContextDir string

	// InvalidContextDirError is returned when a ContextDir is whitespace-only.
	InvalidContextDirError struct {
		Value ContextDir
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// ContainerEngine is "docker", "podman" or "auto".
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		Image           ImageConfig     `json:"image" mapstructure:"image"`
		Build           BuildConfig     `json:"build" mapstructure:"build"`
		UI              UIConfig        `json:"ui" mapstructure:"ui"`
	}

	// ImageConfig configures image naming and reuse.
	ImageConfig struct {
		// Name is the repository of the content-addressed tag.
		Name ImageName `json:"name" mapstructure:"name"`
		// ForceRebuild builds even when an image with the same tag exists.
		ForceRebuild bool `json:"force_rebuild" mapstructure:"force_rebuild"`
	}

	// BuildConfig configures build context handling.
	BuildConfig struct {
		// KeepContext leaves the assembled build context on disk.
		KeepContext bool       `json:"keep_context" mapstructure:"keep_context"`
		ContextDir  ContextDir `json:"context_dir" mapstructure:"context_dir"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// Verbose enables debug logging and error chains.
		Verbose   bool           `json:"verbose" mapstructure:"verbose"`
		LogFormat logging.Format `json:"log_format" mapstructure:"log_format"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineAuto,
		Image: ImageConfig{
			Name: DefaultImageName,
		},
		UI: UIConfig{
			LogFormat: logging.FormatText,
		},
	}
}

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ContainerEngine.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Image.Name.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Build.ContextDir.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if err := c.UI.LogFormat.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// IsValid returns whether the ContainerEngine is one of the defined engine types,
// and a list of validation errors if it is not.
func (ce ContainerEngine) IsValid() (bool, []error) {
	switch ce {
	case ContainerEngineAuto, ContainerEnginePodman, ContainerEngineDocker:
		return true, nil
	default:
		return false, []error{&InvalidContainerEngineError{Value: ce}}
	}
}

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: auto, podman, docker)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error {
	return ErrInvalidContainerEngine
}

// String returns the string representation of the ImageName.
func (n ImageName) String() string { return string(n) }

// IsValid returns whether the ImageName is a lowercase repository name.
func (n ImageName) IsValid() (bool, []error) {
	if imageNamePattern.MatchString(string(n)) {
		return true, nil
	}
	return false, []error{&InvalidImageNameError{Value: n}}
}

// Error implements the error interface for InvalidImageNameError.
func (e *InvalidImageNameError) Error() string {
	return fmt.Sprintf("invalid image name %q (lowercase letters, digits and . _ / - separators)", e.Value)
}

// Unwrap returns ErrInvalidImageName for errors.Is() compatibility.
func (e *InvalidImageNameError) Unwrap() error { return ErrInvalidImageName }

// String returns the string representation of the ContextDir.
func (d ContextDir) String() string { return string(d) }

// IsValid returns whether the ContextDir is empty or not whitespace-only.
func (d ContextDir) IsValid() (bool, []error) {
	if d != "" && strings.TrimSpace(string(d)) == "" {
		return false, []error{&InvalidContextDirError{Value: d}}
	}
	return true, nil
}

// Error implements the error interface for InvalidContextDirError.
func (e *InvalidContextDirError) Error() string {
	return fmt.Sprintf("invalid build context directory %q: must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidContextDir for errors.Is() compatibility.
func (e *InvalidContextDirError) Unwrap() error { return ErrInvalidContextDir }
