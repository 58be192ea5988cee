// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Format identifies the manifest file syntax.
type Format string

const (
	FormatRequirements Format = "requirements"
	FormatPyproject    Format = "pyproject"

	// InstallFileName is the requirements file written into the build context
	// when the manifest is not itself a requirements file.
	InstallFileName = "requirements.stackpack.txt"
)

var (
	// ErrDuplicateRequirement is returned when two requirements normalize to
	// the same project name.
	ErrDuplicateRequirement = errors.New("duplicate requirement")

	// ErrUnsupportedOption is returned for requirements-file options that
	// cannot be honoured inside a single-file build step.
	ErrUnsupportedOption = errors.New("unsupported requirements option")
)

type (
	// Manifest is a parsed dependency manifest.
	Manifest struct {
		Path         string
		Format       Format
		Requirements []Requirement
		// Options holds index and resolver options preserved verbatim from
		// a requirements file, e.g. "--index-url https://...".
		Options []Option
		// RequiresPython is the declared runtime requirement, e.g. ">=3.9".
		// Only pyproject.toml carries one.
		RequiresPython string

		raw []byte
	}

	// Option is a global requirements-file option line.
	Option struct {
		Flag  string
		Value string
		Line  int
	}

	// DuplicateRequirementError reports the second declaration of a project.
	DuplicateRequirementError struct {
		Name      string
		FirstLine int
		Line      int
	}

	// UnsupportedOptionError reports an option such as -r or -e.
	UnsupportedOptionError struct {
		Flag string
		Line int
	}
)

func (e *DuplicateRequirementError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %q already declared on line %d", e.Line, e.Name, e.FirstLine)
	}
	return fmt.Sprintf("%q declared more than once", e.Name)
}

func (e *DuplicateRequirementError) Unwrap() error { return ErrDuplicateRequirement }

func (e *UnsupportedOptionError) Error() string {
	return fmt.Sprintf("line %d: option %s is not supported; inline the referenced requirements instead", e.Line, e.Flag)
}

func (e *UnsupportedOptionError) Unwrap() error { return ErrUnsupportedOption }

// String renders the option as it appears in a requirements file.
func (o Option) String() string {
	if o.Value == "" {
		return o.Flag
	}
	return o.Flag + " " + o.Value
}

// DetectFormat picks the format from the file name.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Base(path), "pyproject.toml") {
		return FormatPyproject
	}
	return FormatRequirements
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(path, data)
}

// Parse parses data according to the format implied by path.
func Parse(path string, data []byte) (*Manifest, error) {
	switch DetectFormat(path) {
	case FormatPyproject:
		return ParsePyproject(path, data)
	default:
		return ParseRequirements(path, data)
	}
}

// Digest returns the sha256 digest of the raw manifest bytes.
func (m *Manifest) Digest() digest.Digest {
	return digest.FromBytes(m.raw)
}

// Pinned reports whether every requirement selects exactly one version.
// An empty manifest is pinned.
func (m *Manifest) Pinned() bool {
	return len(m.Unpinned()) == 0
}

// Unpinned returns the requirements that allow more than one version.
func (m *Manifest) Unpinned() []Requirement {
	var out []Requirement
	for _, r := range m.Requirements {
		if !r.Pinned() {
			out = append(out, r)
		}
	}
	return out
}

// Lookup finds a requirement by project name in any spelling.
func (m *Manifest) Lookup(name string) (Requirement, bool) {
	n := NormalizeName(name)
	for _, r := range m.Requirements {
		if r.Name == n {
			return r, true
		}
	}
	return Requirement{}, false
}

// Constraints maps normalized project names to their version specifiers.
func (m *Manifest) Constraints() map[string]string {
	out := make(map[string]string, len(m.Requirements))
	for _, r := range m.Requirements {
		out[r.Name] = r.Specifier
	}
	return out
}

// InstallFile is the file name the install step passes to pip -r.
func (m *Manifest) InstallFile() string {
	if m.Format == FormatRequirements {
		return filepath.Base(m.Path)
	}
	return InstallFileName
}

// RequirementsText renders the manifest as a requirements file: options
// first, then one requirement per line in declaration order.
func (m *Manifest) RequirementsText() []byte {
	var b strings.Builder
	for _, o := range m.Options {
		b.WriteString(o.String())
		b.WriteByte('\n')
	}
	for _, r := range m.Requirements {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// InstallContent returns the bytes to place in the build context under
// InstallFile. Requirements files are copied unchanged.
func (m *Manifest) InstallContent() []byte {
	if m.Format == FormatRequirements {
		return m.raw
	}
	return m.RequirementsText()
}

func (m *Manifest) add(r Requirement) error {
	for _, prev := range m.Requirements {
		if prev.Name == r.Name {
			return &DuplicateRequirementError{Name: r.Name, FirstLine: prev.Line, Line: r.Line}
		}
	}
	m.Requirements = append(m.Requirements, r)
	return nil
}
