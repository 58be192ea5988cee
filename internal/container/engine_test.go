// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/stackpack/stackpack/internal/issue"
	"github.com/stackpack/stackpack/pkg/types"
)

func TestEngineType_Validate(t *testing.T) {
	t.Parallel()

	for _, valid := range []EngineType{"", EngineTypeAuto, EngineTypeDocker, EngineTypePodman} {
		if err := valid.Validate(); err != nil {
			t.Errorf("%q.Validate() = %v", valid, err)
		}
	}
	err := EngineType("containerd").Validate()
	if !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("Validate() = %v, want ErrInvalidEngineType", err)
	}
	if _, err := NewEngine("lxc"); !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("NewEngine(lxc) = %v, want ErrInvalidEngineType", err)
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/docker")
	tests := []struct {
		name string
		opts BuildOptions
		want []string
	}{
		{
			name: "minimal",
			opts: BuildOptions{ContextDir: "/ctx", Tags: []string{"app:1"}},
			want: []string{"build", "-t", "app:1", "/ctx"},
		},
		{
			name: "relative dockerfile joined to context",
			opts: BuildOptions{ContextDir: "/ctx", Dockerfile: "stackpack.Dockerfile", Tags: []string{"app:1", "app:latest"}},
			want: []string{"build", "-f", "/ctx/stackpack.Dockerfile", "-t", "app:1", "-t", "app:latest", "/ctx"},
		},
		{
			name: "flags labels and args sorted",
			opts: BuildOptions{
				ContextDir: "/ctx",
				Dockerfile: "/abs/Dockerfile",
				Tags:       []string{"app:1"},
				NoCache:    true,
				Pull:       true,
				Labels:     map[string]string{"b": "2", "a": "1"},
				BuildArgs:  map[string]string{"Z": "z", "A": "a"},
			},
			want: []string{
				"build", "-f", "/abs/Dockerfile", "-t", "app:1", "--no-cache", "--pull",
				"--label", "a=1", "--label", "b=2", "--build-arg", "A=a", "--build-arg", "Z=z", "/ctx",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := e.BuildArgs(tt.opts)
			if !slices.Equal(got, tt.want) {
				t.Errorf("BuildArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/docker")
	got := e.RunArgs(RunOptions{
		Image:  "app:1",
		Name:   "demo",
		Remove: true,
		Detach: true,
		Env:    map[string]string{"B": "2", "A": "1"},
		Ports:  []PortMapping{{HostPort: 8080, ContainerPort: 8501}, {HostIP: "127.0.0.1", HostPort: 9000, ContainerPort: 8501}},
	})
	want := []string{
		"run", "--rm", "-d", "--name", "demo", "-e", "A=1", "-e", "B=2",
		"-p", "8080:8501", "-p", "127.0.0.1:9000:8501", "app:1",
	}
	if !slices.Equal(got, want) {
		t.Errorf("RunArgs() = %q, want %q", got, want)
	}

	// No command means the image's CMD runs.
	if last := got[len(got)-1]; last != "app:1" {
		t.Errorf("image must be the last argument, got %q", last)
	}
}

func TestPortMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mapping PortMapping
		want    string
		valid   bool
	}{
		{PortMapping{HostPort: 8501, ContainerPort: 8501}, "8501:8501", true},
		{PortMapping{HostIP: "::1", HostPort: 1, ContainerPort: 2}, "[::1]:1:2", true},
		{PortMapping{HostPort: 0, ContainerPort: 8501}, "0:8501", false},
		{PortMapping{HostIP: "localhost", HostPort: 1, ContainerPort: 2}, "localhost:1:2", false},
	}
	for _, tt := range tests {
		if got := tt.mapping.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		err := tt.mapping.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("%s Validate() = %v, valid = %v", tt.want, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidPortMapping) {
			t.Errorf("Validate() error should wrap ErrInvalidPortMapping")
		}
	}
}

func TestDockerEngine_Build(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{Default: MockResponse{Stdout: "Step 1/2\n"}}
	e := newMockDocker(t, rec)

	var out bytes.Buffer
	err := e.Build(t.Context(), BuildOptions{ContextDir: "/ctx", Tags: []string{"app:1"}, Stdout: &out})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	rec.AssertArgs(t, "build", "-t", "app:1", "/ctx")
	if out.String() != "Step 1/2\n" {
		t.Errorf("build output = %q", out.String())
	}

	if err := e.Build(t.Context(), BuildOptions{Tags: []string{"x"}}); err == nil {
		t.Error("missing context dir should fail validation")
	}
}

func TestDockerEngine_BuildFailure(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{Default: MockResponse{ExitCode: 1, Stderr: "boom"}}
	e := newMockDocker(t, rec)

	var stderr bytes.Buffer
	err := e.Build(t.Context(), BuildOptions{ContextDir: "/ctx", Tags: []string{"app:1"}, Stderr: &stderr})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("Build() error = %v, want ActionableError", err)
	}
	if ae.Operation != "build container image" || !ae.HasSuggestions() {
		t.Errorf("unexpected error context: %+v", ae)
	}
	if stderr.String() != "boom" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestDockerEngine_Run(t *testing.T) {
	t.Parallel()

	t.Run("exit code captured", func(t *testing.T) {
		t.Parallel()
		rec := &MockCommandRecorder{Default: MockResponse{ExitCode: 3}}
		res, err := newMockDocker(t, rec).Run(t.Context(), RunOptions{Image: "app:1"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.ExitCode != types.ExitCode(3) || res.Error != nil {
			t.Errorf("Run() = %+v, want exit 3", res)
		}
	})

	t.Run("detached returns container id", func(t *testing.T) {
		t.Parallel()
		rec := &MockCommandRecorder{Default: MockResponse{Stdout: "abc123\n"}}
		var out bytes.Buffer
		res, err := newMockDocker(t, rec).Run(t.Context(), RunOptions{Image: "app:1", Detach: true, Stdout: &out})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.ContainerID != "abc123" {
			t.Errorf("ContainerID = %q", res.ContainerID)
		}
		if out.String() != "abc123\n" {
			t.Errorf("stdout = %q", out.String())
		}
		rec.AssertArgsContain(t, "-d")
	})

	t.Run("invalid port rejected before exec", func(t *testing.T) {
		t.Parallel()
		rec := &MockCommandRecorder{}
		_, err := newMockDocker(t, rec).Run(t.Context(), RunOptions{Image: "app:1", Ports: []PortMapping{{}}})
		if !errors.Is(err, ErrInvalidPortMapping) {
			t.Errorf("Run() error = %v", err)
		}
		if rec.Count() != 0 {
			t.Error("no command should run")
		}
	})
}

func TestImageExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		podman  bool
		resp    MockResponse
		want    bool
		wantErr bool
	}{
		{name: "docker present", resp: MockResponse{Stdout: "sha256:abc"}, want: true},
		{name: "docker missing", resp: MockResponse{ExitCode: 1, Stderr: "Error: No such image: app:1"}},
		{name: "docker daemon down", resp: MockResponse{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"}, wantErr: true},
		{name: "podman present", podman: true, want: true},
		{name: "podman missing", podman: true, resp: MockResponse{ExitCode: 1}},
		{name: "podman failure", podman: true, resp: MockResponse{ExitCode: 125}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &MockCommandRecorder{Default: tt.resp}
			var e Engine = newMockDocker(t, rec)
			if tt.podman {
				e = newMockPodman(t, rec)
			}
			got, err := e.ImageExists(t.Context(), "app:1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ImageExists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ImageExists() = %v, want %v", got, tt.want)
			}
			if tt.podman {
				rec.AssertArgs(t, "image", "exists", "app:1")
			}
		})
	}
}

func TestPull_RetriesTransient(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{Script: []MockResponse{
		{ExitCode: 1, Stderr: "Get https://registry-1.docker.io: net/http: TLS handshake timeout"},
	}}
	e := newMockDocker(t, rec)
	if err := e.Pull(t.Context(), "python:3.9-slim"); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if rec.Count() != 2 {
		t.Errorf("invocations = %d, want 2", rec.Count())
	}
	rec.AssertArgs(t, "pull", "python:3.9-slim")
}

func TestPull_PermanentFailure(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{Default: MockResponse{ExitCode: 1, Stderr: "manifest unknown"}}
	err := newMockPodman(t, rec).Pull(t.Context(), "python:0.0")
	if err == nil {
		t.Fatal("Pull() should fail")
	}
	if id, ok := issue.IssueOf(err); !ok || id != issue.BaseImageUnavailableID {
		t.Errorf("IssueOf() = %v, %v", id, ok)
	}
	if rec.Count() != 1 {
		t.Errorf("permanent errors must not be retried, got %d invocations", rec.Count())
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Stderr != "manifest unknown" {
		t.Errorf("error should carry stderr, got %v", err)
	}
}

func TestInspectImage_Mock(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{Default: MockResponse{Stdout: inspectFixture}}
	info, err := newMockDocker(t, rec).InspectImage(t.Context(), "app:1")
	if err != nil {
		t.Fatalf("InspectImage() error = %v", err)
	}
	if info.Config.User != "appuser" {
		t.Errorf("User = %q", info.Config.User)
	}
	rec.AssertArgs(t, "image", "inspect", "app:1")
}

func TestCreateCommand_EnvOverride(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{}
	e := NewBaseCLIEngine("/usr/bin/podman", WithExecCommand(rec.CommandFunc(t)), WithCmdEnvOverride("CONTAINERS_CONF_OVERRIDE", "/tmp/x.toml"))
	cmd := e.CreateCommand(t.Context(), "version")
	if cmd.Env[len(cmd.Env)-1] != "CONTAINERS_CONF_OVERRIDE=/tmp/x.toml" {
		t.Errorf("override missing from env: %v", cmd.Env[len(cmd.Env)-3:])
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestCloseEngine(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/override.toml"
	e := NewBaseCLIEngine("/usr/bin/podman", withOverrideFile(path))
	if err := CloseEngine(&PodmanEngine{BaseCLIEngine: e}); err != nil {
		t.Errorf("CloseEngine() = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestTag(t *testing.T) {
	t.Parallel()

	rec := &MockCommandRecorder{}
	if err := newMockDocker(t, rec).Tag(t.Context(), "app:0123456789ab", "app:latest"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	rec.AssertArgs(t, "tag", "app:0123456789ab", "app:latest")
}
