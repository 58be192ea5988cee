// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stackpack/stackpack/internal/buildctx"
	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/internal/manifest"
	"github.com/stackpack/stackpack/internal/recipe"
	"github.com/stackpack/stackpack/internal/testutil"
)

// builtConfig is the configuration of a correctly built default image.
func builtConfig() container.ImageInfo {
	return container.ImageInfo{Config: ocispec.ImageConfig{
		User:         recipe.DefaultUsername,
		WorkingDir:   recipe.DefaultWorkDir.String(),
		Cmd:          []string{"streamlit", "run", recipe.DefaultEntrypoint},
		ExposedPorts: map[string]struct{}{recipe.DefaultPort.ExposeSpec(): {}},
	}}
}

func newTestProject(t *testing.T, files map[string]string) *Project {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, files)
	p, err := LoadProject(ProjectOptions{Dir: dir})
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	return p
}

func newTestBuilder(t *testing.T, engine container.Engine, opts ...Option) *Builder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Apply(WithContextParent(t.TempDir()), WithOutput(io.Discard))
	cfg.Apply(opts...)
	return New(engine, cfg)
}

func newReadyEngine() *testutil.FakeEngine {
	e := testutil.NewFakeEngine(recipe.DefaultBaseImage)
	e.BuiltConfig = builtConfig()
	return e
}

func TestBuild_Success(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := newReadyEngine()
	b := newTestBuilder(t, engine, WithExtraTags("demo:latest"))

	res, err := b.Build(context.Background(), p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Skipped {
		t.Error("first Build() reported Skipped")
	}
	if !strings.HasPrefix(res.ImageTag, DefaultImageName+":") {
		t.Errorf("ImageTag = %q", res.ImageTag)
	}
	if len(res.Tags) != 2 || res.Tags[0] != res.ImageTag || res.Tags[1] != "demo:latest" {
		t.Errorf("Tags = %v", res.Tags)
	}
	if res.Image == nil {
		t.Error("Image not inspected")
	}
	if res.ContextDir != "" {
		t.Errorf("ContextDir = %q without KeepContext", res.ContextDir)
	}
	if engine.CallCount("pull") != 0 {
		t.Error("base image pulled although present")
	}

	if len(engine.Builds) != 1 {
		t.Fatalf("engine builds = %d, want 1", len(engine.Builds))
	}
	opts := engine.Builds[0]
	if opts.Dockerfile != buildctx.DockerfileName {
		t.Errorf("Dockerfile = %q", opts.Dockerfile)
	}
	if opts.Labels[CacheKeyLabel] != res.CacheKey {
		t.Errorf("cache key label = %q, want %q", opts.Labels[CacheKeyLabel], res.CacheKey)
	}
	if _, err := os.Stat(opts.ContextDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("build context %s not removed: %v", opts.ContextDir, err)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := newReadyEngine()
	b := newTestBuilder(t, engine)

	first, err := b.Build(context.Background(), p)
	if err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	second, err := b.Build(context.Background(), p)
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}

	if !second.Skipped {
		t.Error("second Build() not skipped")
	}
	if second.ImageTag != first.ImageTag {
		t.Errorf("ImageTag changed: %q -> %q", first.ImageTag, second.ImageTag)
	}
	if len(second.Dockerfile) == 0 {
		t.Error("skipped build has no Dockerfile")
	}
	if got := engine.CallCount("build"); got != 1 {
		t.Errorf("engine builds = %d, want 1", got)
	}
}

func TestBuild_SkippedAppliesExtraTags(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := newReadyEngine()
	if _, err := newTestBuilder(t, engine).Build(context.Background(), p); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	res, err := newTestBuilder(t, engine, WithExtraTags("demo:v2")).Build(context.Background(), p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !res.Skipped {
		t.Fatal("Build() not skipped")
	}
	if _, ok := engine.Images["demo:v2"]; !ok {
		t.Error("extra tag not applied to existing image")
	}
}

func TestBuild_ForceRebuild(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := newReadyEngine()
	if _, err := newTestBuilder(t, engine).Build(context.Background(), p); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, opt := range []Option{WithForceRebuild(true), WithNoCache(true)} {
		res, err := newTestBuilder(t, engine, opt).Build(context.Background(), p)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if res.Skipped {
			t.Error("forced Build() skipped")
		}
	}
	if got := engine.CallCount("build"); got != 3 {
		t.Errorf("engine builds = %d, want 3", got)
	}
	if !engine.Builds[2].NoCache {
		t.Error("NoCache not passed to the engine")
	}
}

func TestBuild_SourceChangeInvalidates(t *testing.T) {
	t.Parallel()

	files := testutil.StreamlitApp()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, files)

	engine := newReadyEngine()
	b := newTestBuilder(t, engine)
	build := func() *Result {
		t.Helper()
		p, err := LoadProject(ProjectOptions{Dir: dir})
		if err != nil {
			t.Fatalf("LoadProject() error = %v", err)
		}
		res, err := b.Build(context.Background(), p)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		return res
	}

	first := build()
	testutil.WriteFiles(t, dir, map[string]string{"app.py": "import streamlit as st\n\nst.title(\"changed\")\n"})
	second := build()

	if second.Skipped {
		t.Error("Build() skipped after a source change")
	}
	if second.ImageTag == first.ImageTag {
		t.Error("ImageTag unchanged after a source change")
	}
	if layerKey(t, first, buildctx.LayerSource) == layerKey(t, second, buildctx.LayerSource) {
		t.Error("source layer key unchanged")
	}
	for _, name := range []buildctx.LayerName{buildctx.LayerBase, buildctx.LayerDeps} {
		if layerKey(t, first, name) != layerKey(t, second, name) {
			t.Errorf("%s layer key changed on a source-only edit", name)
		}
	}
}

func layerKey(t *testing.T, res *Result, name buildctx.LayerName) string {
	t.Helper()
	l, ok := buildctx.Plan{Layers: res.Layers}.Layer(name)
	if !ok {
		t.Fatalf("layer %s missing", name)
	}
	return l.Key.String()
}

func TestBuild_KeepContext(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	res, err := newTestBuilder(t, newReadyEngine(), WithKeepContext(true)).Build(context.Background(), p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.ContextDir == "" {
		t.Fatal("ContextDir empty with KeepContext")
	}
	if _, err := os.Stat(filepath.Join(res.ContextDir, buildctx.DockerfileName)); err != nil {
		t.Errorf("kept context has no Dockerfile: %v", err)
	}
}

func TestBuild_ManifestInSubdirectory(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, map[string]string{
		"app.py":                "print(1)\n",
		"requirements.txt":      "pytest==8.0.0\n",
		"deps/requirements.txt": "streamlit==1.30.0\n",
		recipe.FileName:         "manifest: \"deps/requirements.txt\"\n",
	})
	if got := p.ManifestFile(); got != manifest.InstallFileName {
		t.Fatalf("ManifestFile() = %q, want %q", got, manifest.InstallFileName)
	}

	res, err := newTestBuilder(t, newReadyEngine(), WithKeepContext(true)).Build(context.Background(), p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for rel, want := range map[string]string{
		"requirements.txt":       "pytest==8.0.0\n",
		"deps/requirements.txt":  "streamlit==1.30.0\n",
		manifest.InstallFileName: "streamlit==1.30.0\n",
	} {
		got, err := os.ReadFile(filepath.Join(res.ContextDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Errorf("read %s: %v", rel, err)
			continue
		}
		if string(got) != want {
			t.Errorf("context %s = %q, want %q", rel, got, want)
		}
	}
	if !strings.Contains(string(res.Dockerfile), "COPY "+manifest.InstallFileName+" ./") {
		t.Errorf("Dockerfile should install from %s:\n%s", manifest.InstallFileName, res.Dockerfile)
	}
}

func TestBuild_PullsMissingBaseImage(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := testutil.NewFakeEngine()
	engine.BuiltConfig = builtConfig()

	if _, err := newTestBuilder(t, engine).Build(context.Background(), p); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := engine.CallCount("pull " + recipe.DefaultBaseImage); got != 1 {
		t.Errorf("base image pulls = %d, want 1", got)
	}
}

func TestBuild_PullFailure(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := testutil.NewFakeEngine()
	engine.PullErr = errors.New("manifest unknown")

	_, err := newTestBuilder(t, engine).Build(context.Background(), p)
	if !errors.Is(err, ErrBuildEnvironment) {
		t.Fatalf("Build() error = %v, want ErrBuildEnvironment", err)
	}
	if id, _ := issue.IssueOf(err); id != issue.BaseImageUnavailableID {
		t.Errorf("IssueOf() = %v, want BaseImageUnavailableID", id)
	}
	if engine.CallCount("build") != 0 {
		t.Error("engine build ran after a failed pull")
	}
}

func TestBuild_ClassifiesEngineFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		output   string
		sentinel error
		issue    issue.ID
	}{
		{
			name:     "unknown package",
			output:   "Collecting streamlit==99.0\nERROR: Could not find a version that satisfies the requirement streamlit==99.0\nERROR: No matching distribution found for streamlit==99.0\n",
			sentinel: ErrDependencyResolution,
			issue:    issue.DependencyResolutionFailedID,
		},
		{
			name:     "user creation",
			output:   "Step 6/12 : RUN useradd --uid 1000 appuser\nuseradd: UID 1000 is not unique\n",
			sentinel: ErrPrivilegeSetup,
			issue:    issue.PrivilegeSetupFailedID,
		},
		{
			name:     "os package",
			output:   "E: Unable to locate package libfoo-dev\n",
			sentinel: ErrBuildEnvironment,
			issue:    issue.OSPackageInstallFailedID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newTestProject(t, testutil.StreamlitApp())
			engine := newReadyEngine()
			engine.BuildOutput = tt.output
			engine.BuildErr = errors.New("exit status 1")

			_, err := newTestBuilder(t, engine).Build(context.Background(), p)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("Build() error = %v, want %v", err, tt.sentinel)
			}
			if id, _ := issue.IssueOf(err); id != tt.issue {
				t.Errorf("IssueOf() = %v, want %v", id, tt.issue)
			}
			var fe *FailureError
			if !errors.As(err, &fe) {
				t.Fatal("error is not a FailureError")
			}
			if !strings.Contains(fe.Tail, strings.TrimSpace(strings.Split(tt.output, "\n")[0])) {
				t.Errorf("Tail = %q, missing engine output", fe.Tail)
			}
		})
	}
}

func TestBuild_Interrupted(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	engine := newReadyEngine()
	engine.BuildErr = context.Canceled

	_, err := newTestBuilder(t, engine).Build(context.Background(), p)
	if err == nil || !strings.Contains(err.Error(), "build interrupted") {
		t.Fatalf("Build() error = %v, want build interrupted", err)
	}
	if _, ok := KindOf(err); ok {
		t.Error("interrupted build was classified")
	}
}

func TestBuild_PatchLevelRuntimeRequirement(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, map[string]string{
		"app.py":         "print(1)\n",
		"pyproject.toml": "[project]\nname = \"demo\"\nrequires-python = \">=3.9.1\"\ndependencies = [\"streamlit==1.32.0\"]\n",
		recipe.FileName:  "manifest: \"pyproject.toml\"\n",
	})
	engine := newReadyEngine()

	if _, err := newTestBuilder(t, engine).Build(context.Background(), p); err != nil {
		t.Fatalf("Build() error = %v, want %s to satisfy >=3.9.1", err, recipe.DefaultBaseImage)
	}
	if len(engine.Builds) != 1 {
		t.Errorf("engine builds = %d, want 1", len(engine.Builds))
	}
}

func TestBuild_ValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		files    map[string]string
		sentinel error
		kind     FailureKind
	}{
		{
			name:     "missing manifest",
			files:    map[string]string{"app.py": "print(1)\n"},
			sentinel: ErrMissingManifest,
			kind:     DependencyResolution,
		},
		{
			name:     "missing entrypoint",
			files:    map[string]string{"main.py": "print(1)\n", "requirements.txt": "streamlit==1.32.0\n"},
			sentinel: ErrMissingEntrypoint,
			kind:     RuntimeLaunch,
		},
		{
			name: "entrypoint excluded by ignore file",
			files: map[string]string{
				"app.py":           "print(1)\n",
				"requirements.txt": "streamlit==1.32.0\n",
				".dockerignore":    "app.py\n",
			},
			sentinel: ErrMissingEntrypoint,
			kind:     RuntimeLaunch,
		},
		{
			name: "runtime mismatch",
			files: map[string]string{
				"app.py":         "print(1)\n",
				"pyproject.toml": "[project]\nname = \"demo\"\nrequires-python = \">=3.11\"\ndependencies = [\"streamlit==1.32.0\"]\n",
				recipe.FileName:  "manifest: \"pyproject.toml\"\n",
			},
			sentinel: ErrDependencyResolution,
			kind:     DependencyResolution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newTestProject(t, tt.files)
			engine := newReadyEngine()

			_, err := newTestBuilder(t, engine).Build(context.Background(), p)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("Build() error = %v, want %v", err, tt.sentinel)
			}
			if kind, _ := KindOf(err); kind != tt.kind {
				t.Errorf("KindOf() = %v, want %v", kind, tt.kind)
			}
			if len(engine.Calls) != 0 {
				t.Errorf("engine called before validation passed: %v", engine.Calls)
			}
		})
	}
}

func TestBuild_VerifyFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*ocispec.ImageConfig)
		kind   FailureKind
	}{
		{"runs as root", func(c *ocispec.ImageConfig) { c.User = "" }, PrivilegeSetup},
		{"wrong user", func(c *ocispec.ImageConfig) { c.User = "nobody" }, PrivilegeSetup},
		{"wrong workdir", func(c *ocispec.ImageConfig) { c.WorkingDir = "/" }, RuntimeLaunch},
		{"inherited entrypoint", func(c *ocispec.ImageConfig) { c.Entrypoint = []string{"python3"} }, RuntimeLaunch},
		{"wrong command", func(c *ocispec.ImageConfig) { c.Cmd = []string{"python3"} }, RuntimeLaunch},
		{"port not exposed", func(c *ocispec.ImageConfig) { c.ExposedPorts = nil }, RuntimeLaunch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newTestProject(t, testutil.StreamlitApp())
			engine := newReadyEngine()
			tt.mutate(&engine.BuiltConfig.Config)

			_, err := newTestBuilder(t, engine).Build(context.Background(), p)
			if kind, ok := KindOf(err); !ok || kind != tt.kind {
				t.Fatalf("Build() error = %v, want kind %v", err, tt.kind)
			}

			if _, err := newTestBuilder(t, engine, WithSkipVerify(true)).Build(context.Background(), p); err != nil {
				t.Errorf("Build() with SkipVerify error = %v", err)
			}
		})
	}
}

func TestVerifyImage_NumericUser(t *testing.T) {
	t.Parallel()

	info := builtConfig()
	info.Config.User = "1000:1000"
	if err := VerifyImage(&info, recipe.Default()); err != nil {
		t.Errorf("VerifyImage() error = %v", err)
	}

	info.Config.User = "0:0"
	if !errors.Is(VerifyImage(&info, recipe.Default()), ErrPrivilegeSetup) {
		t.Error("VerifyImage() accepted uid 0")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	p := newTestProject(t, testutil.StreamlitApp())
	data, err := Render(p)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"FROM " + recipe.DefaultBaseImage,
		"USER " + recipe.DefaultUsername,
		"EXPOSE 8501",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Render() missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "COPY requirements.txt") > strings.Index(text, "COPY . .") {
		t.Errorf("manifest copied after the source:\n%s", text)
	}
}
