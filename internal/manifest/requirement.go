// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ErrInvalidRequirement is the sentinel wrapped by InvalidRequirementError.
var ErrInvalidRequirement = errors.New("invalid requirement")

var (
	nameRun = regexp.MustCompile(`[-_.]+`)

	// name [extras] (specifier | @ url) ; marker
	requirementPattern = regexp.MustCompile(
		`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*` +
			`(?:\[\s*([^\]]*)\])?\s*` +
			`(@\s*\S+|[^;@]*)?\s*` +
			`(?:;\s*(.+))?$`)

	clausePattern = regexp.MustCompile(`^(~=|===|==|!=|<=|>=|<|>)\s*([A-Za-z0-9*+!._-]+)$`)
)

type (
	// Requirement is one declared dependency.
	Requirement struct {
		// Name is the PEP 503 normalized project name.
		Name string
		// RawName is the name as written.
		RawName   string
		Extras    []string
		Specifier string
		URL       string
		Marker    string
		// Line is the 1-based source line, or 0 when the format has no lines.
		Line int
	}

	// InvalidRequirementError reports a requirement that cannot be parsed.
	InvalidRequirementError struct {
		Value  string
		Line   int
		Reason string
	}
)

func (e *InvalidRequirementError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: invalid requirement %q: %s", e.Line, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid requirement %q: %s", e.Value, e.Reason)
}

func (e *InvalidRequirementError) Unwrap() error { return ErrInvalidRequirement }

// NormalizeName lowercases a project name and collapses runs of "-", "_" and
// "." into a single "-".
func NormalizeName(name string) string {
	return nameRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// ParseRequirement parses a single requirement specifier such as
// "pandas[excel]>=2.0,<3 ; python_version >= '3.9'".
func ParseRequirement(s string) (Requirement, error) {
	return parseRequirement(s, 0)
}

func parseRequirement(s string, line int) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Requirement{}, &InvalidRequirementError{Value: s, Line: line, Reason: "empty"}
	}

	m := requirementPattern.FindStringSubmatch(s)
	if m == nil {
		return Requirement{}, &InvalidRequirementError{Value: s, Line: line, Reason: "not a name followed by an optional version specifier"}
	}

	req := Requirement{
		Name:    NormalizeName(m[1]),
		RawName: m[1],
		Marker:  strings.TrimSpace(m[4]),
		Line:    line,
	}

	if m[2] != "" {
		for extra := range strings.SplitSeq(m[2], ",") {
			extra = strings.TrimSpace(extra)
			if extra == "" {
				continue
			}
			req.Extras = append(req.Extras, NormalizeName(extra))
		}
		slices.Sort(req.Extras)
		req.Extras = slices.Compact(req.Extras)
	}

	rest := strings.TrimSpace(m[3])
	switch {
	case strings.HasPrefix(rest, "@"):
		req.URL = strings.TrimSpace(strings.TrimPrefix(rest, "@"))
	case rest != "":
		spec, err := normalizeSpecifier(rest)
		if err != nil {
			return Requirement{}, &InvalidRequirementError{Value: s, Line: line, Reason: err.Error()}
		}
		req.Specifier = spec
	}

	return req, nil
}

// normalizeSpecifier validates a comma separated list of version clauses and
// returns it without whitespace. A parenthesized list is accepted.
func normalizeSpecifier(spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "(") && strings.HasSuffix(spec, ")") {
		spec = strings.TrimSpace(spec[1 : len(spec)-1])
	}

	clauses := strings.Split(spec, ",")
	out := make([]string, 0, len(clauses))
	for _, c := range clauses {
		c = strings.TrimSpace(c)
		cm := clausePattern.FindStringSubmatch(c)
		if cm == nil {
			return "", fmt.Errorf("bad version clause %q", c)
		}
		out = append(out, cm[1]+cm[2])
	}
	return strings.Join(out, ","), nil
}

// Pinned reports whether the requirement selects exactly one version.
func (r Requirement) Pinned() bool {
	if r.URL != "" {
		return true
	}
	if r.Specifier == "" || strings.Contains(r.Specifier, ",") {
		return false
	}
	if strings.HasPrefix(r.Specifier, "===") {
		return true
	}
	return strings.HasPrefix(r.Specifier, "==") && !strings.HasSuffix(r.Specifier, ".*")
}

// String renders the requirement in canonical pip syntax.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(r.Extras, ","))
		b.WriteString("]")
	}
	switch {
	case r.URL != "":
		b.WriteString(" @ ")
		b.WriteString(r.URL)
	case r.Specifier != "":
		b.WriteString(r.Specifier)
	}
	if r.Marker != "" {
		if r.URL != "" {
			b.WriteString(" ")
		}
		b.WriteString("; ")
		b.WriteString(r.Marker)
	}
	return b.String()
}
