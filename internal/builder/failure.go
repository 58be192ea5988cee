// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/pkg/types"
)

const (
	// BuildEnvironment covers engine, base image and OS package failures.
	BuildEnvironment FailureKind = iota + 1
	// DependencyResolution covers Python packages that cannot be resolved.
	DependencyResolution
	// PrivilegeSetup covers creating or switching to the restricted user.
	PrivilegeSetup
	// RuntimeLaunch covers a missing entrypoint or an application that
	// fails to start or exits non-zero.
	RuntimeLaunch
)

// tailLines is how many lines of engine output are kept for classification.
const tailLines = 40

var (
	// ErrBuildEnvironment is the sentinel for BuildEnvironment failures.
	ErrBuildEnvironment = errors.New("build environment failure")
	// ErrDependencyResolution is the sentinel for DependencyResolution failures.
	ErrDependencyResolution = errors.New("dependency resolution failure")
	// ErrPrivilegeSetup is the sentinel for PrivilegeSetup failures.
	ErrPrivilegeSetup = errors.New("privilege setup failure")
	// ErrRuntimeLaunch is the sentinel for RuntimeLaunch failures.
	ErrRuntimeLaunch = errors.New("runtime launch failure")
)

// outputMarkers map engine output fragments to a failure. The first match
// in table order wins, so specific markers come before generic ones.
var outputMarkers = []struct {
	marker string
	kind   FailureKind
	issue  issue.ID
}{
	{"No matching distribution found", DependencyResolution, issue.DependencyResolutionFailedID},
	{"Could not find a version that satisfies", DependencyResolution, issue.DependencyResolutionFailedID},
	{"ResolutionImpossible", DependencyResolution, issue.DependencyResolutionFailedID},
	{"conflicting dependencies", DependencyResolution, issue.DependencyResolutionFailedID},
	{"Could not open requirements file", DependencyResolution, issue.DependencyResolutionFailedID},
	{"Failed building wheel", DependencyResolution, issue.DependencyResolutionFailedID},
	{"useradd:", PrivilegeSetup, issue.PrivilegeSetupFailedID},
	{"groupadd:", PrivilegeSetup, issue.PrivilegeSetupFailedID},
	{"chown:", PrivilegeSetup, issue.PrivilegeSetupFailedID},
	{"unable to find user", PrivilegeSetup, issue.PrivilegeSetupFailedID},
	{"Unable to locate package", BuildEnvironment, issue.OSPackageInstallFailedID},
	{"has no installation candidate", BuildEnvironment, issue.OSPackageInstallFailedID},
	{"E: Failed to fetch", BuildEnvironment, issue.OSPackageInstallFailedID},
	{"pull access denied", BuildEnvironment, issue.BaseImageUnavailableID},
	{"manifest unknown", BuildEnvironment, issue.BaseImageUnavailableID},
	{"failed to resolve source metadata", BuildEnvironment, issue.BaseImageUnavailableID},
	{"repository does not exist", BuildEnvironment, issue.BaseImageUnavailableID},
}

type (
	// FailureKind classifies why a build or launch failed.
	FailureKind int

	// FailureError is a classified build or launch failure.
	FailureError struct {
		Kind  FailureKind
		Issue issue.ID
		// Stage is the pipeline stage that failed.
		Stage string
		// Tail holds the last lines of engine output, if any.
		Tail string
		// ExitCode is the application's exit code for RuntimeLaunch failures.
		ExitCode types.ExitCode
		Cause    error
	}

	// tailBuffer keeps the last tailLines lines written to it. Engine stdout
	// and stderr are copied by separate goroutines, hence the mutex.
	tailBuffer struct {
		mu      sync.Mutex
		lines   []string
		partial []byte
	}
)

// String returns the kind's name.
func (k FailureKind) String() string {
	switch k {
	case BuildEnvironment:
		return "build-environment"
	case DependencyResolution:
		return "dependency-resolution"
	case PrivilegeSetup:
		return "privilege-setup"
	case RuntimeLaunch:
		return "runtime-launch"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Sentinel returns the sentinel error for the kind.
func (k FailureKind) Sentinel() error {
	switch k {
	case BuildEnvironment:
		return ErrBuildEnvironment
	case DependencyResolution:
		return ErrDependencyResolution
	case PrivilegeSetup:
		return ErrPrivilegeSetup
	case RuntimeLaunch:
		return ErrRuntimeLaunch
	default:
		return nil
	}
}

// DefaultIssue returns the issue entry used when nothing more specific is known.
func (k FailureKind) DefaultIssue() issue.ID {
	switch k {
	case DependencyResolution:
		return issue.DependencyResolutionFailedID
	case PrivilegeSetup:
		return issue.PrivilegeSetupFailedID
	case RuntimeLaunch:
		return issue.LaunchFailedID
	default:
		return issue.OSPackageInstallFailedID
	}
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Stage, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the kind's sentinel and the cause, so errors.Is matches both.
func (e *FailureError) Unwrap() []error {
	errs := []error{e.Kind.Sentinel()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf returns the failure kind carried by err.
func KindOf(err error) (FailureKind, bool) {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Classify inspects engine output and returns the failure it describes.
// Output matching no known marker is a BuildEnvironment failure.
func Classify(output string) (FailureKind, issue.ID) {
	for _, m := range outputMarkers {
		if strings.Contains(output, m.marker) {
			return m.kind, m.issue
		}
	}
	return BuildEnvironment, issue.OSPackageInstallFailedID
}

// Write implements io.Writer.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := append(t.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.lines = append(t.lines, string(data[:i]))
		data = data[i+1:]
	}
	t.partial = append(t.partial[:0:0], data...)
	if over := len(t.lines) - tailLines; over > 0 {
		t.lines = append(t.lines[:0:0], t.lines[over:]...)
	}
	return len(p), nil
}

// String returns the retained lines.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if len(t.partial) > 0 {
		lines = append(lines[:len(lines):len(lines)], string(t.partial))
	}
	return strings.Join(lines, "\n")
}

// suggestions returns remediation hints for a failure kind.
func suggestions(kind FailureKind) []string {
	switch kind {
	case DependencyResolution:
		return []string{
			"Check package names and version pins in the manifest",
			"Make sure the pinned versions support the base image's Python version",
			"Add missing system libraries to os_packages if a wheel fails to build",
		}
	case PrivilegeSetup:
		return []string{
			"Pick a uid and user name that do not exist in the base image",
			"Make sure the base image provides useradd (Debian-based images do)",
		}
	case RuntimeLaunch:
		return []string{
			"Check that the entrypoint script exists in the source directory",
			"Run the image in the foreground to see the application output",
		}
	default:
		return []string{
			"Check that the base image name and tag exist",
			"Check the OS package names for the base image's distribution",
			"Verify network access from the build (apt and registry mirrors)",
		}
	}
}

// newFailure wraps a classified failure as an actionable error.
func newFailure(kind FailureKind, id issue.ID, stage, resource, tail string, cause error) error {
	fe := &FailureError{Kind: kind, Issue: id, Stage: stage, Tail: tail, Cause: cause}
	return issue.NewErrorContext().
		WithOperation(stage).
		WithResource(resource).
		WithIssue(id).
		WithSuggestions(suggestions(kind)...).
		Wrap(fe).
		BuildError()
}

// LaunchFailure reports an application that exited with a non-zero code.
// The code is kept so the CLI can exit with it.
func LaunchFailure(image string, code types.ExitCode, cause error) error {
	fe := &FailureError{
		Kind:     RuntimeLaunch,
		Issue:    issue.LaunchFailedID,
		Stage:    "run application",
		ExitCode: code,
		Cause:    cause,
	}
	return issue.NewErrorContext().
		WithOperation("run application").
		WithResource(image).
		WithIssue(issue.LaunchFailedID).
		WithSuggestions(suggestions(RuntimeLaunch)...).
		Wrap(fe).
		BuildError()
}

// ExitCodeOf returns the application exit code carried by a launch failure.
func ExitCodeOf(err error) (types.ExitCode, bool) {
	var fe *FailureError
	if errors.As(err, &fe) && fe.Kind == RuntimeLaunch && fe.ExitCode != types.ExitSuccess {
		return fe.ExitCode, true
	}
	return 0, false
}
