// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/stackpack/stackpack/internal/cueutil"
)

func TestParse_Overrides(t *testing.T) {
	t.Parallel()

	data := []byte(`
base_image: "python:3.11-slim"
os_packages: ["curl"]
identity: uid: 1001
launch: {
	command: ["python", "-m", "http.server", "8000"]
	port: 8000
	entrypoint: ""
}
labels: "org.opencontainers.image.title": "demo"
installer_upgrade: false
`)
	r, err := Parse("stackpack.cue", data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if r.BaseImage.Tag != "3.11-slim" || !slices.Equal(r.OSPackages, []PackageName{"curl"}) {
		t.Errorf("base/packages = %s %v", r.BaseImage, r.OSPackages)
	}
	if r.Identity.UID != 1001 || r.Identity.Username != "appuser" {
		t.Errorf("Identity = %+v (username should keep its default)", r.Identity)
	}
	if r.Launch.Port != 8000 || r.Launch.Entrypoint != "" || r.Launch.Command[0] != "python" {
		t.Errorf("Launch = %+v", r.Launch)
	}
	if r.WorkDir != DefaultWorkDir || r.InstallerUpgrade {
		t.Errorf("workdir/upgrade = %s %v", r.WorkDir, r.InstallerUpgrade)
	}
	if r.Labels["org.opencontainers.image.title"] != "demo" {
		t.Errorf("Labels = %v", r.Labels)
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	r, err := Parse("stackpack.cue", nil)
	if err != nil {
		t.Fatalf("Parse(empty) error = %v", err)
	}
	if !reflect.DeepEqual(r, Default()) {
		t.Errorf("Parse(empty) = %+v, want Default()", r)
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"root user":     `identity: username: "root"`,
		"zero uid":      `identity: uid: 0`,
		"relative dir":  `workdir: "app"`,
		"escaping path": `manifest: "../requirements.txt"`,
		"port range":    `launch: port: 99999`,
		"empty command": `launch: command: []`,
		"unknown field": `entrypoint: "app.py"`,
		"bad package":   `os_packages: ["Build Essential"]`,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse("stackpack.cue", []byte(data))
			if !errors.Is(err, cueutil.ErrValidation) {
				t.Errorf("Parse(%s) error = %v, want schema validation error", data, err)
			}
		})
	}
}

func TestParse_FieldPath(t *testing.T) {
	t.Parallel()

	_, err := Parse("stackpack.cue", []byte(`launch: port: 70000`))
	var ve *cueutil.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Parse() error = %v, want *cueutil.ValidationError", err)
	}
	found := false
	for _, f := range ve.Fields {
		if f.Path == "launch.port" {
			found = true
		}
		if strings.HasPrefix(f.Path, "#") {
			t.Errorf("field path %q exposes the schema definition", f.Path)
		}
	}
	if !found {
		t.Errorf("no field error at launch.port in %v", ve.Fields)
	}
}

func TestParse_CommandEntrypoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{"derived", `launch: command: ["streamlit", "run", "main.py"]`, "main.py"},
		{"derived after flags", `launch: command: ["python", "-u", "src/serve.py", "--debug"]`, "src/serve.py"},
		{"no script", `launch: command: ["gunicorn", "app:server"]`, ""},
		{"explicit wins", `launch: {command: ["streamlit", "run", "main.py"], entrypoint: "pages/home.py"}`, "pages/home.py"},
		{"default", `launch: port: 8000`, DefaultEntrypoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := Parse("stackpack.cue", []byte(tt.data))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if r.Launch.Entrypoint != tt.want {
				t.Errorf("Entrypoint = %q, want %q", r.Launch.Entrypoint, tt.want)
			}
		})
	}
}

func TestParse_GoValidation(t *testing.T) {
	t.Parallel()

	_, err := Parse("stackpack.cue", []byte(`base_image: "python:latest"`))
	if !errors.Is(err, ErrUnpinnedRuntime) {
		t.Errorf("Parse(latest) error = %v, want ErrUnpinnedRuntime", err)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()

	r := Default()
	r.Labels = map[string]string{"org.example.team": "data"}

	data, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "// stackpack build recipe") {
		t.Errorf("Encode() should start with the header comment:\n%s", data)
	}
	if !strings.Contains(string(data), "base_image:") || !strings.Contains(string(data), `"python:3.9-slim"`) {
		t.Errorf("Encode() missing base_image:\n%s", data)
	}

	back, err := Parse("stackpack.cue", data)
	if err != nil {
		t.Fatalf("Parse(Encode()) error = %v\n%s", err, data)
	}
	if !reflect.DeepEqual(back, r) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, r)
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	r, found, err := LoadDir(dir)
	if err != nil || found {
		t.Fatalf("LoadDir(empty) = found %v, err %v", found, err)
	}
	if !reflect.DeepEqual(r, Default()) {
		t.Error("LoadDir(empty) should return Default()")
	}

	path, err := WriteDefault(dir, false)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if filepath.Base(path) != FileName {
		t.Errorf("WriteDefault() path = %s", path)
	}
	if _, err := WriteDefault(dir, false); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second WriteDefault() error = %v, want ErrExist", err)
	}
	if _, err := WriteDefault(dir, true); err != nil {
		t.Errorf("forced WriteDefault() error = %v", err)
	}

	r, found, err = LoadDir(dir)
	if err != nil || !found {
		t.Fatalf("LoadDir() = found %v, err %v", found, err)
	}
	if !reflect.DeepEqual(r, Default()) {
		t.Errorf("LoadDir() = %+v, want Default()", r)
	}

	if err := os.WriteFile(path, []byte(`launch: port: "x"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadDir(dir); err == nil {
		t.Error("LoadDir() with invalid file should fail")
	}
}
