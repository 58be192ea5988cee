// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// preservedOptions are global options passed through to pip unchanged.
var preservedOptions = map[string]bool{
	"-i":                true,
	"--index-url":       true,
	"--extra-index-url": true,
	"--trusted-host":    true,
	"-f":                true,
	"--find-links":      true,
	"--pre":             true,
	"--prefer-binary":   true,
	"--no-binary":       true,
	"--only-binary":     true,
}

// ParseRequirements parses a pip requirements file.
//
// Comments, blank lines and backslash continuations are handled. Nested
// files (-r, -c) and editable installs (-e) are rejected. Per-requirement
// --hash options are dropped.
func ParseRequirements(path string, data []byte) (*Manifest, error) {
	m := &Manifest{Path: path, Format: FormatRequirements, raw: data}

	sc := bufio.NewScanner(bytes.NewReader(data))
	var (
		pending   strings.Builder
		startLine int
		lineNo    int
	)
	for sc.Scan() {
		lineNo++
		text := strings.TrimRight(sc.Text(), "\r")
		if pending.Len() == 0 {
			startLine = lineNo
		}
		if cont, ok := strings.CutSuffix(text, `\`); ok {
			pending.WriteString(cont)
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(text)
		logical := pending.String()
		pending.Reset()

		if err := m.parseLine(logical, startLine); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if pending.Len() > 0 {
		if err := m.parseLine(pending.String(), startLine); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manifest) parseLine(line string, lineNo int) error {
	line = strings.TrimSpace(stripComment(line))
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "-") {
		flag, value := splitOption(line)
		if !preservedOptions[flag] {
			return &UnsupportedOptionError{Flag: flag, Line: lineNo}
		}
		m.Options = append(m.Options, Option{Flag: flag, Value: value, Line: lineNo})
		return nil
	}

	spec, _, _ := strings.Cut(line, " --hash")
	req, err := parseRequirement(spec, lineNo)
	if err != nil {
		return err
	}
	return m.add(req)
}

// stripComment removes a "#" comment that starts the line or follows
// whitespace. A "#" inside a URL fragment is kept.
func stripComment(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return ""
	}
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

// splitOption splits "--flag value" or "--flag=value".
func splitOption(line string) (flag, value string) {
	if f, v, ok := strings.Cut(line, "="); ok && !strings.ContainsAny(f, " \t") {
		return f, strings.TrimSpace(v)
	}
	f, v, _ := strings.Cut(line, " ")
	return f, strings.TrimSpace(v)
}
