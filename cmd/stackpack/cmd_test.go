// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stackpack/stackpack/internal/config"
	"github.com/stackpack/stackpack/internal/container"
	"github.com/stackpack/stackpack/internal/recipe"
	"github.com/stackpack/stackpack/internal/testutil"
	"github.com/stackpack/stackpack/pkg/types"
)

// The tests in this file are not parallel: the root command installs the
// process-wide slog default, writing to the invocation's stderr.

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	cfg := *s.cfg
	return &cfg, nil
}

type cliResult struct {
	stdout string
	stderr string
	code   types.ExitCode
}

type cliEnv struct {
	t       *testing.T
	cfg     *config.Config
	engine  *testutil.FakeEngine
	engines []config.ContainerEngine
	// engineErr makes the engine factory fail.
	engineErr error
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Build.ContextDir = config.ContextDir(t.TempDir())

	engine := testutil.NewFakeEngine(recipe.DefaultBaseImage)
	engine.BuiltConfig = container.ImageInfo{Config: ocispec.ImageConfig{
		User:         recipe.DefaultUsername,
		WorkingDir:   recipe.DefaultWorkDir.String(),
		Cmd:          []string{"streamlit", "run", recipe.DefaultEntrypoint},
		ExposedPorts: map[string]struct{}{recipe.DefaultPort.ExposeSpec(): {}},
	}}
	return &cliEnv{t: t, cfg: cfg, engine: engine}
}

func (e *cliEnv) run(args ...string) cliResult {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config: staticConfig{cfg: e.cfg},
		NewEngine: func(preferred config.ContainerEngine) (container.Engine, error) {
			e.engines = append(e.engines, preferred)
			if e.engineErr != nil {
				return nil, e.engineErr
			}
			return e.engine, nil
		},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	code := Execute(context.Background(), app, args)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func newAppDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, testutil.StreamlitApp())
	return dir
}

func TestRender(t *testing.T) {
	env := newCLIEnv(t)
	dir := newAppDir(t)

	res := env.run("render", "--dir", dir)
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	for _, want := range []string{
		"FROM python:3.9-slim",
		"COPY requirements.txt ./",
		"USER appuser",
		`CMD ["streamlit", "run", "app.py"]`,
	} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("render output missing %q:\n%s", want, res.stdout)
		}
	}

	again := env.run("render", "--dir", dir)
	if again.stdout != res.stdout {
		t.Error("render output differs between runs")
	}
	if len(env.engines) != 0 {
		t.Errorf("render created an engine: %v", env.engines)
	}
}

func TestRender_OutputFile(t *testing.T) {
	env := newCLIEnv(t)
	dir := newAppDir(t)
	out := filepath.Join(t.TempDir(), "Dockerfile")

	res := env.run("render", "--dir", dir, "-o", out)
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "USER appuser") {
		t.Errorf("written Dockerfile:\n%s", data)
	}
}

func TestRender_MissingManifest(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"app.py": "print('hi')\n"})

	res := env.run("render", "--dir", dir)
	if res.code != types.ExitFailure {
		t.Fatalf("exit = %d, want %d", res.code, types.ExitFailure)
	}
	if !strings.Contains(res.stderr, "requirements.txt") {
		t.Errorf("stderr = %s", res.stderr)
	}
}

func TestPlan(t *testing.T) {
	env := newCLIEnv(t)
	env.cfg.Image.Name = "demo"
	dir := newAppDir(t)

	res := env.run("plan", "--dir", dir)
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	for _, want := range []string{"install-deps requirements.txt", "switch-user appuser", "base", "deps", "source", "runtime", "demo:"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("plan output missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"good/Dockerfile": "FROM python:3.9-slim\nWORKDIR /app\nCOPY requirements.txt ./\n" +
			"RUN pip install --no-cache-dir -r requirements.txt\nCOPY . .\n" +
			"RUN useradd -m -u 1000 appuser\nUSER appuser\nCMD [\"streamlit\", \"run\", \"app.py\"]\n",
		"root/Dockerfile": "FROM python:3.9-slim\nCOPY . .\nCMD [\"python\", \"app.py\"]\n",
		"broken/Dockerfile": "FROM python:3.9-slim\nRUN pip install --no-cache-dir -r requirements.txt\n" +
			"COPY requirements.txt ./\nUSER appuser\nCMD python app.py\n",
	})

	tests := []struct {
		name     string
		file     string
		wantCode types.ExitCode
		wantOut  string
	}{
		{name: "clean", file: "good/Dockerfile", wantCode: types.ExitSuccess, wantOut: "no findings"},
		{name: "runs as root", file: "root/Dockerfile", wantCode: types.ExitLintErrors, wantOut: "no-user"},
		{name: "install before manifest", file: "broken/Dockerfile", wantCode: types.ExitLintErrors, wantOut: "manifest-order"},
		{name: "missing file", file: "absent/Dockerfile", wantCode: types.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)
			res := env.run("check", filepath.Join(dir, tt.file))
			if res.code != tt.wantCode {
				t.Fatalf("exit = %d, want %d (stdout: %s, stderr: %s)", res.code, tt.wantCode, res.stdout, res.stderr)
			}
			if tt.wantOut != "" && !strings.Contains(res.stdout, tt.wantOut) {
				t.Errorf("stdout missing %q:\n%s", tt.wantOut, res.stdout)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	env := newCLIEnv(t)
	dir := newAppDir(t)

	res := env.run("build", "--dir", dir, "--tag", "demo:latest")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "Built stackpack-app:") {
		t.Errorf("stdout = %s", res.stdout)
	}
	if !strings.Contains(res.stdout, "demo:latest") {
		t.Errorf("extra tag not reported: %s", res.stdout)
	}
	if got := env.engine.CallCount("build"); got != 1 {
		t.Errorf("engine builds = %d, want 1", got)
	}

	res = env.run("build", "--dir", dir)
	if res.code != types.ExitSuccess {
		t.Fatalf("second build exit = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "Image up to date") {
		t.Errorf("second build stdout = %s", res.stdout)
	}
	if got := env.engine.CallCount("build"); got != 1 {
		t.Errorf("engine builds after unchanged rebuild = %d, want 1", got)
	}

	res = env.run("build", "--dir", dir, "--force")
	if res.code != types.ExitSuccess {
		t.Fatalf("forced build exit = %d, stderr = %s", res.code, res.stderr)
	}
	if got := env.engine.CallCount("build"); got != 2 {
		t.Errorf("engine builds after --force = %d, want 2", got)
	}
}

func TestBuild_DependencyFailure(t *testing.T) {
	env := newCLIEnv(t)
	env.engine.BuildOutput = "ERROR: No matching distribution found for streamlit==99.0\n"
	env.engine.BuildErr = errors.New("exit status 1")
	dir := newAppDir(t)

	res := env.run("build", "--dir", dir)
	if res.code != types.ExitFailure {
		t.Fatalf("exit = %d, want %d", res.code, types.ExitFailure)
	}
	if !strings.Contains(res.stderr, "explain dependencies") {
		t.Errorf("stderr does not point at the catalog entry:\n%s", res.stderr)
	}
}

func TestBuild_EngineSelection(t *testing.T) {
	env := newCLIEnv(t)
	env.cfg.ContainerEngine = config.ContainerEnginePodman
	dir := newAppDir(t)

	if res := env.run("build", "--dir", dir); res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	if res := env.run("build", "--dir", dir, "--engine", "docker"); res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	want := []config.ContainerEngine{config.ContainerEnginePodman, config.ContainerEngineDocker}
	if len(env.engines) != len(want) || env.engines[0] != want[0] || env.engines[1] != want[1] {
		t.Errorf("engines requested = %v, want %v", env.engines, want)
	}

	res := env.run("build", "--dir", dir, "--engine", "lxc")
	if res.code != types.ExitFailure {
		t.Errorf("invalid --engine exit = %d, want %d", res.code, types.ExitFailure)
	}
}

func TestBuild_EngineUnavailable(t *testing.T) {
	env := newCLIEnv(t)
	env.engineErr = &container.EngineNotAvailableError{Engine: container.EngineTypeAuto, Reason: "not installed"}
	dir := newAppDir(t)

	res := env.run("build", "--dir", dir)
	if res.code != types.ExitFailure {
		t.Fatalf("exit = %d, want %d", res.code, types.ExitFailure)
	}
	if !strings.Contains(res.stderr, "engine-not-found") {
		t.Errorf("stderr = %s", res.stderr)
	}
}

func TestRun(t *testing.T) {
	env := newCLIEnv(t)
	dir := newAppDir(t)

	res := env.run("run", "--dir", dir, "--port", "9000", "--env", "MODE=demo")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	if len(env.engine.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(env.engine.Runs))
	}
	run := env.engine.Runs[0]
	if len(run.Command) != 0 {
		t.Errorf("run overrides the image command: %v", run.Command)
	}
	if len(run.Ports) != 1 || run.Ports[0].HostPort != 9000 || run.Ports[0].ContainerPort != recipe.DefaultPort {
		t.Errorf("ports = %v", run.Ports)
	}
	if run.Env["MODE"] != "demo" || !run.Remove {
		t.Errorf("run options = %+v", run)
	}
}

func TestRun_PublishesRecipePort(t *testing.T) {
	env := newCLIEnv(t)
	env.engine.BuiltConfig.Config.ExposedPorts["80/tcp"] = struct{}{}
	dir := newAppDir(t)

	res := env.run("run", "--dir", dir, "--detach")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	run := env.engine.Runs[0]
	if len(run.Ports) != 1 || run.Ports[0].ContainerPort != recipe.DefaultPort || run.Ports[0].HostPort != recipe.DefaultPort {
		t.Errorf("ports = %v, want %d:%d", run.Ports, recipe.DefaultPort, recipe.DefaultPort)
	}
	if !strings.Contains(res.stdout, "http://localhost:8501") {
		t.Errorf("stdout = %s", res.stdout)
	}
}

func TestRun_Detached(t *testing.T) {
	env := newCLIEnv(t)
	dir := newAppDir(t)

	res := env.run("run", "--dir", dir, "--detach", "--rm=false")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "http://localhost:8501") {
		t.Errorf("stdout = %s", res.stdout)
	}
	if run := env.engine.Runs[0]; !run.Detach || run.Remove {
		t.Errorf("run options = %+v", run)
	}
}

func TestRun_RefusesCommandOverride(t *testing.T) {
	env := newCLIEnv(t)
	dir := newAppDir(t)

	res := env.run("run", "--dir", dir, "--", "python", "other.py")
	if res.code != types.ExitFailure {
		t.Fatalf("exit = %d, want %d", res.code, types.ExitFailure)
	}
	if !strings.Contains(res.stderr, "command override not allowed") {
		t.Errorf("stderr = %s", res.stderr)
	}
	if len(env.engine.Calls) != 0 {
		t.Errorf("engine used despite the refused override: %v", env.engine.Calls)
	}
}

func TestRun_ApplicationExitCode(t *testing.T) {
	env := newCLIEnv(t)
	env.engine.RunResult = &container.RunResult{ExitCode: 3}
	dir := newAppDir(t)

	res := env.run("run", "--dir", dir)
	if res.code != 3 {
		t.Fatalf("exit = %d, want 3 (stderr: %s)", res.code, res.stderr)
	}
}

func TestRun_InvalidFlags(t *testing.T) {
	dir := newAppDir(t)
	for _, args := range [][]string{
		{"run", "--dir", dir, "--port", "70000"},
		{"run", "--dir", dir, "--env", "NOVALUE"},
	} {
		env := newCLIEnv(t)
		res := env.run(args...)
		if res.code != types.ExitFailure {
			t.Errorf("%v: exit = %d, want %d", args, res.code, types.ExitFailure)
		}
		if len(env.engine.Calls) != 0 {
			t.Errorf("%v: engine used: %v", args, env.engine.Calls)
		}
	}
}

func TestInit(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()

	res := env.run("init", "--dir", dir)
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	if _, err := recipe.Load(filepath.Join(dir, recipe.FileName)); err != nil {
		t.Fatalf("generated recipe does not load: %v", err)
	}

	res = env.run("init", "--dir", dir)
	if res.code != types.ExitFailure || !strings.Contains(res.stderr, "--force") {
		t.Errorf("second init: exit = %d, stderr = %s", res.code, res.stderr)
	}
	if res = env.run("init", "--dir", dir, "--force"); res.code != types.ExitSuccess {
		t.Errorf("init --force: exit = %d, stderr = %s", res.code, res.stderr)
	}
}

func TestConfigShow(t *testing.T) {
	env := newCLIEnv(t)
	env.cfg.Image.Name = "team/app"

	res := env.run("config", "show", "--verbose")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	for _, want := range []string{"container_engine", "team/app", "verbose: true"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("config show missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestConfigLoadFailureFallsBackToDefaults(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config: staticConfig{err: errors.New("broken config")},
		Stdout: &stdout,
		Stderr: &stderr,
	})

	if code := Execute(context.Background(), app, []string{"config", "show"}); code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "broken config") {
		t.Errorf("load failure not reported: %s", stderr.String())
	}
	if !strings.Contains(stdout.String(), string(config.DefaultImageName)) {
		t.Errorf("defaults not shown: %s", stdout.String())
	}
}

func TestExplain(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("explain")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	for _, slug := range []string{"engine-not-found", "dependencies", "privileges", "launch"} {
		if !strings.Contains(res.stdout, slug) {
			t.Errorf("catalog listing missing %q", slug)
		}
	}

	res = env.run("explain", "dependencies", "--style", "notty")
	if res.code != types.ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "Things you can try") {
		t.Errorf("explain output:\n%s", res.stdout)
	}

	if res = env.run("explain", "no-such-issue"); res.code != types.ExitFailure {
		t.Errorf("unknown issue exit = %d", res.code)
	}
}

func TestInvalidLogFormat(t *testing.T) {
	env := newCLIEnv(t)
	if res := env.run("explain", "--log-format", "yaml"); res.code != types.ExitFailure {
		t.Errorf("exit = %d, want %d", res.code, types.ExitFailure)
	}
}
