// SPDX-License-Identifier: MPL-2.0

package dockerfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/stackpack/stackpack/internal/recipe"
)

// SyntaxDirective pins the Dockerfile frontend.
const SyntaxDirective = "# syntax=docker/dockerfile:1"

// Input is everything a Dockerfile is rendered from.
type Input struct {
	Recipe recipe.Recipe
	// ManifestFile is the manifest's file name at the build context root.
	// Defaults to the base name of Recipe.Manifest.
	ManifestFile string
	// Labels are merged over Recipe.Labels.
	Labels map[string]string
}

// Render produces the Dockerfile for in. The recipe's steps are checked
// with recipe.CheckOrder before anything is written.
func Render(in Input) ([]byte, error) {
	r := in.Recipe
	manifestFile := in.ManifestFile
	if manifestFile == "" {
		manifestFile = baseName(r.Manifest.String())
	}

	steps := r.Steps(manifestFile)
	if err := recipe.CheckOrder(steps); err != nil {
		return nil, err
	}

	labels := maps.Clone(r.Labels)
	if labels == nil {
		labels = make(map[string]string, len(in.Labels))
	}
	maps.Copy(labels, in.Labels)

	var b bytes.Buffer
	b.WriteString(SyntaxDirective + "\n")

	for _, s := range steps {
		var err error
		switch s.Kind {
		case recipe.StepFrom:
			fmt.Fprintf(&b, "FROM %s\n", s.Args[0])
		case recipe.StepOSPackages:
			err = writeOSPackages(&b, s.Args)
		case recipe.StepWorkDir:
			fmt.Fprintf(&b, "WORKDIR %s\n", s.Args[0])
		case recipe.StepCopyManifest:
			writeCopy(&b, s.Args[0], "./")
		case recipe.StepInstallDeps:
			err = writeInstall(&b, manifestFile, r.InstallerUpgrade)
		case recipe.StepCopySource:
			b.WriteString("COPY . .\n")
		case recipe.StepCreateUser:
			err = writeCreateUser(&b, r.Identity, r.WorkDir.String())
		case recipe.StepSwitchUser:
			fmt.Fprintf(&b, "USER %s\n", s.Args[0])
		case recipe.StepExpose:
			fmt.Fprintf(&b, "EXPOSE %s\n", s.Args[0])
		case recipe.StepLaunch:
			writeLabels(&b, labels)
			err = writeExecForm(&b, "CMD", s.Args)
		default:
			err = fmt.Errorf("unknown step kind %q", s.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("render %s step: %w", s.Kind, err)
		}
	}
	return b.Bytes(), nil
}

func writeOSPackages(b *bytes.Buffer, pkgs []string) error {
	b.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends \\\n")
	for _, p := range pkgs {
		q, err := quote(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "    %s \\\n", q)
	}
	b.WriteString("    && rm -rf /var/lib/apt/lists/*\n")
	return nil
}

func writeInstall(b *bytes.Buffer, manifestFile string, upgrade bool) error {
	q, err := quote(manifestFile)
	if err != nil {
		return err
	}
	b.WriteString("RUN ")
	if upgrade {
		b.WriteString("pip install --no-cache-dir --upgrade pip && ")
	}
	fmt.Fprintf(b, "pip install --no-cache-dir -r %s\n", q)
	return nil
}

func writeCreateUser(b *bytes.Buffer, id recipe.Identity, workdir string) error {
	user, err := quote(id.Username)
	if err != nil {
		return err
	}
	dir, err := quote(workdir)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "RUN useradd -m -u %d %s && chown -R %s:%s %s\n", id.UID, user, user, user, dir)
	return nil
}

// writeCopy uses the JSON form when a path contains whitespace.
func writeCopy(b *bytes.Buffer, src, dst string) {
	if strings.ContainsAny(src+dst, " \t") {
		_ = writeExecForm(b, "COPY", []string{src, dst})
		return
	}
	fmt.Fprintf(b, "COPY %s %s\n", src, dst)
}

func writeExecForm(b *bytes.Buffer, instruction string, args []string) error {
	parts := make([]string, len(args))
	for i, a := range args {
		enc, err := json.Marshal(a)
		if err != nil {
			return err
		}
		parts[i] = string(enc)
	}
	fmt.Fprintf(b, "%s [%s]\n", instruction, strings.Join(parts, ", "))
	return nil
}

func writeLabels(b *bytes.Buffer, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	b.WriteString("LABEL")
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		fmt.Fprintf(b, " %s=%s", k, labelValue(labels[k]))
	}
	b.WriteString("\n")
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "\n", `\n`)

func labelValue(v string) string {
	return `"` + labelEscaper.Replace(v) + `"`
}

func quote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangBash)
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
