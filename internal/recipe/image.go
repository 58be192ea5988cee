// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidImageRef is the sentinel wrapped by InvalidImageRefError.
	ErrInvalidImageRef = errors.New("invalid image reference")

	// ErrUnpinnedRuntime is returned when a base image tag does not name a
	// runtime version.
	ErrUnpinnedRuntime = errors.New("base image tag does not pin a runtime version")

	// ErrRuntimeMismatch is returned when the base image runtime does not
	// satisfy the application's declared runtime requirement.
	ErrRuntimeMismatch = errors.New("base image runtime does not satisfy requirement")

	repositoryPattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?::[0-9]+)?(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*$`)
	tagPattern        = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)
	digestPattern     = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)
	tagVersionPattern = regexp.MustCompile(`^v?([0-9]+(?:\.[0-9]+){0,2})`)
)

type (
	// ImageRef is a container image reference: repository, tag and optional
	// digest.
	ImageRef struct {
		Repository string
		Tag        string
		Digest     string
	}

	// InvalidImageRefError reports a malformed image reference.
	InvalidImageRefError struct {
		Value  string
		Reason string
	}
)

func (e *InvalidImageRefError) Error() string {
	return fmt.Sprintf("invalid image reference %q: %s", e.Value, e.Reason)
}

func (e *InvalidImageRefError) Unwrap() error { return ErrInvalidImageRef }

// ParseImageRef parses "repo[:tag][@sha256:...]". A missing tag stays empty;
// Validate decides whether that is acceptable.
func ParseImageRef(s string) (ImageRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ImageRef{}, &InvalidImageRefError{Value: s, Reason: "empty"}
	}

	var ref ImageRef
	name, dgst, hasDigest := strings.Cut(s, "@")
	if hasDigest {
		if !digestPattern.MatchString(dgst) {
			return ImageRef{}, &InvalidImageRefError{Value: s, Reason: "digest must be sha256:<64 hex>"}
		}
		ref.Digest = dgst
	}

	// A colon after the last slash separates the tag; earlier colons belong
	// to a registry port.
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		ref.Repository, ref.Tag = name[:i], name[i+1:]
		if !tagPattern.MatchString(ref.Tag) {
			return ImageRef{}, &InvalidImageRefError{Value: s, Reason: fmt.Sprintf("bad tag %q", ref.Tag)}
		}
	} else {
		ref.Repository = name
	}

	if !repositoryPattern.MatchString(ref.Repository) {
		return ImageRef{}, &InvalidImageRefError{Value: s, Reason: fmt.Sprintf("bad repository %q", ref.Repository)}
	}
	return ref, nil
}

// MustParseImageRef is ParseImageRef for constant references.
func MustParseImageRef(s string) ImageRef {
	ref, err := ParseImageRef(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// String renders the reference as accepted by FROM.
func (r ImageRef) String() string {
	s := r.Repository
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest
	}
	return s
}

// IsZero reports whether the reference is unset.
func (r ImageRef) IsZero() bool { return r == ImageRef{} }

// RuntimeVersion extracts the language runtime version encoded at the start
// of the tag ("3.9-slim" gives 3.9.0).
func (r ImageRef) RuntimeVersion() (*semver.Version, error) {
	v, _, err := r.runtimeVersion()
	return v, err
}

// runtimeVersion also reports how many version components the tag spells
// out: 1 for "3", 2 for "3.9", 3 for "3.9.18".
func (r ImageRef) runtimeVersion() (*semver.Version, int, error) {
	m := tagVersionPattern.FindStringSubmatch(r.Tag)
	if m == nil {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnpinnedRuntime, r.String())
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %q: %w", ErrUnpinnedRuntime, r.String(), err)
	}
	return v, strings.Count(m[1], ".") + 1, nil
}

// Validate requires a well-formed reference whose tag pins the runtime
// version. "latest" and missing tags are rejected unless a digest is given.
func (r ImageRef) Validate() error {
	if _, err := ParseImageRef(r.String()); err != nil {
		return err
	}
	if r.Digest != "" {
		return nil
	}
	if r.Tag == "" || r.Tag == "latest" {
		return fmt.Errorf("%w: %q", ErrUnpinnedRuntime, r.String())
	}
	_, err := r.RuntimeVersion()
	return err
}

// CheckRuntime verifies that the base image's runtime version satisfies a
// Python "requires-python" specifier such as ">=3.8" or "~=3.9". A tag that
// leaves out the patch (or minor) component floats over every release of
// that line, so the requirement only has to hold for one of them.
// Specifiers that cannot be expressed as semver constraints are reported as
// satisfied together with ok=false.
func (r ImageRef) CheckRuntime(requires string) (ok bool, err error) {
	requires = strings.TrimSpace(requires)
	if requires == "" {
		return true, nil
	}
	v, parts, err := r.runtimeVersion()
	if err != nil {
		return false, err
	}
	c, err := semver.NewConstraint(pythonToSemver(requires))
	if err != nil {
		return false, nil
	}
	if slices.ContainsFunc(runtimeCandidates(v, parts), c.Check) {
		return true, nil
	}
	return true, fmt.Errorf("%w: %s does not satisfy %q", ErrRuntimeMismatch, v.Original(), requires)
}

// maxFloatingComponent bounds the minor and patch numbers tried for a tag
// that leaves them out.
const maxFloatingComponent = 99

// runtimeCandidates lists the versions a tag with the given number of
// components may resolve to.
func runtimeCandidates(v *semver.Version, parts int) []*semver.Version {
	if parts >= 3 {
		return []*semver.Version{v}
	}
	minors := []uint64{v.Minor()}
	if parts == 1 {
		minors = minors[:0]
		for m := range uint64(maxFloatingComponent + 1) {
			minors = append(minors, m)
		}
	}
	out := make([]*semver.Version, 0, len(minors)*(maxFloatingComponent+1))
	for _, m := range minors {
		for p := range uint64(maxFloatingComponent + 1) {
			out = append(out, semver.New(v.Major(), m, p, "", ""))
		}
	}
	return out
}

// pythonToSemver maps PEP 440 operators onto Masterminds constraint syntax.
// "~=X.Y" allows X.* so it becomes "^X.Y"; "~=X.Y.Z" allows X.Y.* so it
// becomes "~X.Y.Z".
func pythonToSemver(spec string) string {
	clauses := strings.Split(spec, ",")
	for i, c := range clauses {
		c = strings.TrimSpace(c)
		switch {
		case strings.HasPrefix(c, "~="):
			ver := strings.TrimSpace(c[2:])
			if strings.Count(ver, ".") >= 2 {
				c = "~" + ver
			} else {
				c = "^" + ver
			}
		case strings.HasPrefix(c, "==="):
			c = "=" + strings.TrimSpace(c[3:])
		case strings.HasPrefix(c, "=="):
			c = "=" + strings.TrimSpace(c[2:])
		}
		clauses[i] = c
	}
	return strings.Join(clauses, ", ")
}
