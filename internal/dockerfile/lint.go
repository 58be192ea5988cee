// SPDX-License-Identifier: MPL-2.0

package dockerfile

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/openshift/imagebuilder"
	"github.com/openshift/imagebuilder/dockerfile/command"
	"github.com/openshift/imagebuilder/dockerfile/parser"
)

// Severity grades a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule identifiers.
const (
	RuleNoUser          = "no-user"
	RuleUserAfterLaunch = "user-after-launch"
	RuleManifestOrder   = "manifest-order"
	RulePipCache        = "pip-cache"
	RuleUnpinnedBase    = "unpinned-base"
	RuleShellFormCmd    = "shell-form-cmd"
)

type (
	// Finding is one rule violation.
	Finding struct {
		Rule     string
		Severity Severity
		Line     int
		Message  string
	}

	// Report is the result of linting one Dockerfile.
	Report struct {
		Findings []Finding
	}

	// stage tracks the state of one FROM block while walking instructions.
	stage struct {
		copied      map[string]bool
		wholeTree   bool
		noPipCache  bool
		lastUser    string
		lastUserAt  int
		launchLines []int
	}
)

func (f Finding) String() string {
	return fmt.Sprintf("line %d: %s [%s]: %s", f.Line, f.Severity, f.Rule, f.Message)
}

// HasErrors reports whether any finding has error severity.
func (r Report) HasErrors() bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Severity == SeverityError })
}

// Count returns the number of findings with the given severity.
func (r Report) Count(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// LintBytes lints an in-memory Dockerfile.
func LintBytes(data []byte) (Report, error) {
	return Lint(bytes.NewReader(data))
}

// Lint parses a Dockerfile and checks it against the packaging rules.
// User and launch rules apply to the final stage; dependency rules apply
// to every stage.
func Lint(r io.Reader) (Report, error) {
	root, err := imagebuilder.ParseDockerfile(r)
	if err != nil {
		return Report{}, fmt.Errorf("parse Dockerfile: %w", err)
	}

	var (
		rep     Report
		cur     *stage
		aliases = make(map[string]bool)
	)
	add := func(rule string, sev Severity, line int, format string, args ...any) {
		rep.Findings = append(rep.Findings, Finding{Rule: rule, Severity: sev, Line: line, Message: fmt.Sprintf(format, args...)})
	}

	for _, node := range root.Children {
		args := nodeArgs(node)
		switch node.Value {
		case command.From:
			cur = &stage{copied: make(map[string]bool)}
			if len(args) == 0 {
				continue
			}
			checkBase(args[0], aliases, node.StartLine, add)
			if len(args) == 3 && strings.EqualFold(args[1], "as") {
				aliases[strings.ToLower(args[2])] = true
			}

		case command.Env:
			if cur != nil && envDisablesPipCache(args) {
				cur.noPipCache = true
			}

		case command.Copy, command.Add:
			if cur == nil || hasFlag(node.Flags, "--from") || len(args) < 2 {
				continue
			}
			for _, src := range args[:len(args)-1] {
				if src == "." || src == "./" {
					cur.wholeTree = true
					continue
				}
				cur.copied[path.Base(src)] = true
			}

		case command.Run:
			if cur == nil {
				continue
			}
			for _, call := range runCalls(node, args) {
				inst, ok := parsePipInstall(call)
				if !ok {
					continue
				}
				if !inst.noCache && !cur.noPipCache {
					add(RulePipCache, SeverityWarning, node.StartLine,
						"pip install without --no-cache-dir keeps the download cache in the image")
				}
				for _, req := range inst.requirements {
					switch {
					case cur.wholeTree:
						add(RuleManifestOrder, SeverityError, node.StartLine,
							"dependencies from %s are installed after the whole source tree is copied; copy only the manifest first", req)
					case !cur.copied[path.Base(req)]:
						add(RuleManifestOrder, SeverityError, node.StartLine,
							"dependencies from %s are installed before the manifest is copied", req)
					}
				}
			}

		case command.User:
			if cur != nil && len(args) > 0 {
				cur.lastUser = args[0]
				cur.lastUserAt = node.StartLine
			}

		case command.Cmd, command.Entrypoint:
			if cur == nil {
				continue
			}
			cur.launchLines = append(cur.launchLines, node.StartLine)
			if node.Value == command.Cmd && !node.Attributes["json"] {
				add(RuleShellFormCmd, SeverityWarning, node.StartLine,
					"CMD in shell form runs under /bin/sh, which does not forward signals to the application")
			}
		}
	}

	if cur == nil {
		return rep, nil
	}

	switch {
	case cur.lastUser == "":
		add(RuleNoUser, SeverityError, lastLine(root),
			"no USER instruction; the application would run as root")
	case isRootUser(cur.lastUser):
		add(RuleNoUser, SeverityError, cur.lastUserAt,
			"final USER %s is the superuser", cur.lastUser)
	default:
		for _, line := range cur.launchLines {
			if line < cur.lastUserAt {
				add(RuleUserAfterLaunch, SeverityError, line,
					"launch instruction precedes the final USER on line %d", cur.lastUserAt)
			}
		}
	}

	slices.SortStableFunc(rep.Findings, func(a, b Finding) int { return a.Line - b.Line })
	return rep, nil
}

func checkBase(image string, aliases map[string]bool, line int, add func(string, Severity, int, string, ...any)) {
	switch {
	case image == "scratch", strings.Contains(image, "$"), aliases[strings.ToLower(image)]:
		return
	case strings.Contains(image, "@sha256:"):
		return
	}
	name := image[strings.LastIndex(image, "/")+1:]
	tag := ""
	if i := strings.LastIndex(name, ":"); i >= 0 {
		tag = name[i+1:]
	}
	switch tag {
	case "":
		add(RuleUnpinnedBase, SeverityWarning, line, "base image %s has no tag; pin the runtime version", image)
	case "latest":
		add(RuleUnpinnedBase, SeverityWarning, line, "base image %s uses the latest tag; pin the runtime version", image)
	}
}

func nodeArgs(node *parser.Node) []string {
	var out []string
	for n := node.Next; n != nil; n = n.Next {
		out = append(out, n.Value)
	}
	return out
}

func hasFlag(flags []string, name string) bool {
	return slices.ContainsFunc(flags, func(f string) bool {
		return f == name || strings.HasPrefix(f, name+"=")
	})
}

func envDisablesPipCache(args []string) bool {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "PIP_NO_CACHE_DIR" {
			v := strings.ToLower(strings.Trim(args[i+1], `"'`))
			return v != "" && v != "0" && v != "false" && v != "no" && v != "off"
		}
	}
	return false
}

func isRootUser(u string) bool {
	name, _, _ := strings.Cut(u, ":")
	return name == "root" || name == "0"
}

func lastLine(root *parser.Node) int {
	if n := len(root.Children); n > 0 {
		return root.Children[n-1].StartLine
	}
	return 0
}
