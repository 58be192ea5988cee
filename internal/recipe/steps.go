// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"strconv"
)

// StepKind names a build step.
type StepKind string

const (
	StepFrom         StepKind = "from"
	StepOSPackages   StepKind = "os-packages"
	StepWorkDir      StepKind = "workdir"
	StepCopyManifest StepKind = "copy-manifest"
	StepInstallDeps  StepKind = "install-deps"
	StepCopySource   StepKind = "copy-source"
	StepCreateUser   StepKind = "create-user"
	StepSwitchUser   StepKind = "switch-user"
	StepExpose       StepKind = "expose"
	StepLaunch       StepKind = "launch"
)

// ErrStepOrder is the sentinel wrapped by StepOrderError.
var ErrStepOrder = errors.New("build steps out of order")

type (
	// Step is one stage of the build. Args holds the step's operands, e.g.
	// the package list or the launch argv.
	Step struct {
		Kind StepKind
		Args []string
	}

	// StepOrderError reports the first ordering rule a step list breaks.
	StepOrderError struct {
		Rule string
	}

	orderRule struct {
		before, after StepKind
	}
)

// orderRules lists pairs where the first kind must come before the second
// whenever both are present.
var orderRules = []orderRule{
	{StepCopyManifest, StepInstallDeps},
	{StepInstallDeps, StepCopySource},
	{StepCreateUser, StepSwitchUser},
	{StepSwitchUser, StepLaunch},
}

func (e *StepOrderError) Error() string { return "build steps out of order: " + e.Rule }

func (e *StepOrderError) Unwrap() error { return ErrStepOrder }

// String renders the step as "kind arg1 arg2".
func (s Step) String() string {
	out := string(s.Kind)
	for _, a := range s.Args {
		out += " " + a
	}
	return out
}

// Steps expands the recipe into its ordered build steps. The os-packages
// step is omitted when no packages are requested. manifestFile is the name
// the manifest has inside the build context.
func (r Recipe) Steps(manifestFile string) []Step {
	steps := []Step{{Kind: StepFrom, Args: []string{r.BaseImage.String()}}}

	if pkgs := r.Packages(); len(pkgs) > 0 {
		args := make([]string, len(pkgs))
		for i, p := range pkgs {
			args[i] = string(p)
		}
		steps = append(steps, Step{Kind: StepOSPackages, Args: args})
	}

	install := []string{manifestFile}
	if r.InstallerUpgrade {
		install = append(install, "upgrade-installer")
	}

	steps = append(steps,
		Step{Kind: StepWorkDir, Args: []string{r.WorkDir.String()}},
		Step{Kind: StepCopyManifest, Args: []string{manifestFile}},
		Step{Kind: StepInstallDeps, Args: install},
		Step{Kind: StepCopySource, Args: []string{r.Source.String()}},
		Step{Kind: StepCreateUser, Args: []string{strconv.Itoa(r.Identity.UID), r.Identity.Username}},
		Step{Kind: StepSwitchUser, Args: []string{r.Identity.Username}},
		Step{Kind: StepExpose, Args: []string{r.Launch.Port.String()}},
		Step{Kind: StepLaunch, Args: r.Launch.Command},
	)
	return steps
}

// CheckOrder enforces the step ordering rules: exactly one from step and it
// comes first, exactly one launch step and it comes last, the manifest is
// copied before dependencies are installed, dependencies are installed
// before the source is copied, and the restricted user is created and
// switched to before launch. Every mandatory step must be present.
func CheckOrder(steps []Step) error {
	if len(steps) == 0 {
		return &StepOrderError{Rule: "no steps"}
	}

	pos := make(map[StepKind]int, len(steps))
	for i, s := range steps {
		if _, dup := pos[s.Kind]; dup {
			return &StepOrderError{Rule: fmt.Sprintf("step %q appears more than once", s.Kind)}
		}
		pos[s.Kind] = i
	}

	if steps[0].Kind != StepFrom {
		return &StepOrderError{Rule: fmt.Sprintf("first step is %q, want %q", steps[0].Kind, StepFrom)}
	}
	if last := steps[len(steps)-1].Kind; last != StepLaunch {
		return &StepOrderError{Rule: fmt.Sprintf("last step is %q, want %q", last, StepLaunch)}
	}

	for _, k := range []StepKind{StepCopyManifest, StepInstallDeps, StepCopySource, StepCreateUser, StepSwitchUser} {
		if _, ok := pos[k]; !ok {
			return &StepOrderError{Rule: fmt.Sprintf("missing %q step", k)}
		}
	}

	for _, rule := range orderRules {
		if pos[rule.before] > pos[rule.after] {
			return &StepOrderError{Rule: fmt.Sprintf("%q must come before %q", rule.before, rule.after)}
		}
	}
	return nil
}
