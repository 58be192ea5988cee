// SPDX-License-Identifier: MPL-2.0

package dockerfile

import (
	"path"
	"strings"

	"github.com/openshift/imagebuilder/dockerfile/parser"
	"mvdan.cc/sh/v3/syntax"
)

type pipInstall struct {
	requirements []string
	noCache      bool
}

// runCalls returns the simple commands a RUN instruction executes. Exec form
// is a single call; shell form is parsed as bash.
func runCalls(node *parser.Node, args []string) [][]string {
	if node.Attributes["json"] {
		return [][]string{args}
	}
	script := strings.Join(args, " ")
	return shellCalls(script)
}

// shellCalls parses script and returns the argv of every simple command in
// it. Unparseable scripts fall back to whitespace splitting.
func shellCalls(script string) [][]string {
	f, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(script), "")
	if err != nil {
		return [][]string{strings.Fields(script)}
	}

	var calls [][]string
	syntax.Walk(f, func(n syntax.Node) bool {
		call, ok := n.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		argv := make([]string, len(call.Args))
		for i, w := range call.Args {
			argv[i] = wordText(w)
		}
		calls = append(calls, argv)
		return true
	})
	return calls
}

// wordText returns the literal value of a word with quotes removed.
// Expansions are kept as a bare "$".
func wordText(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var b strings.Builder
	var walkParts func(parts []syntax.WordPart)
	walkParts = func(parts []syntax.WordPart) {
		for _, p := range parts {
			switch x := p.(type) {
			case *syntax.Lit:
				b.WriteString(x.Value)
			case *syntax.SglQuoted:
				b.WriteString(x.Value)
			case *syntax.DblQuoted:
				walkParts(x.Parts)
			default:
				b.WriteString("$")
			}
		}
	}
	walkParts(w.Parts)
	return b.String()
}

// parsePipInstall recognises "pip install ...", "pip3 install ..." and
// "python -m pip install ...".
func parsePipInstall(argv []string) (pipInstall, bool) {
	if len(argv) == 0 {
		return pipInstall{}, false
	}
	prog := path.Base(argv[0])
	var rest []string
	switch {
	case strings.HasPrefix(prog, "pip") && len(argv) > 1 && argv[1] == "install":
		rest = argv[2:]
	case strings.HasPrefix(prog, "python") && len(argv) > 3 && argv[1] == "-m" && argv[2] == "pip" && argv[3] == "install":
		rest = argv[4:]
	default:
		return pipInstall{}, false
	}

	var inst pipInstall
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		switch {
		case a == "--no-cache-dir":
			inst.noCache = true
		case a == "-r" || a == "--requirement":
			if i+1 < len(rest) {
				inst.requirements = append(inst.requirements, rest[i+1])
				i++
			}
		case strings.HasPrefix(a, "--requirement="):
			inst.requirements = append(inst.requirements, strings.TrimPrefix(a, "--requirement="))
		case strings.HasPrefix(a, "-r") && len(a) > 2:
			inst.requirements = append(inst.requirements, a[2:])
		}
	}
	return inst, true
}
