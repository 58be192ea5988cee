// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"

	"github.com/stackpack/stackpack/internal/cueutil"
	"github.com/stackpack/stackpack/pkg/types"
)

// FileName is the recipe file looked up in the application directory.
const FileName = "stackpack.cue"

//go:embed recipe_schema.cue
var schema []byte

type (
	// File is the on-disk form of a recipe. Nil fields keep defaults.
	File struct {
		BaseImage        *string           `json:"base_image,omitempty"`
		OSPackages       *[]string         `json:"os_packages,omitempty"`
		WorkDir          *string           `json:"workdir,omitempty"`
		Manifest         *string           `json:"manifest,omitempty"`
		Source           *string           `json:"source,omitempty"`
		Identity         *IdentityFile     `json:"identity,omitempty"`
		Launch           *LaunchFile       `json:"launch,omitempty"`
		Labels           map[string]string `json:"labels,omitempty"`
		InstallerUpgrade *bool             `json:"installer_upgrade,omitempty"`
	}

	// IdentityFile is the identity section of File.
	IdentityFile struct {
		UID      *int    `json:"uid,omitempty"`
		Username *string `json:"username,omitempty"`
	}

	// LaunchFile is the launch section of File.
	LaunchFile struct {
		Command    []string `json:"command,omitempty"`
		Port       *int     `json:"port,omitempty"`
		Entrypoint *string  `json:"entrypoint,omitempty"`
	}
)

// Parse decodes CUE recipe data, validates it against the schema and
// applies it over Default. The result is also checked with Validate.
func Parse(filename string, data []byte) (Recipe, error) {
	res, err := cueutil.ParseAndDecode[File](schema, data, "#Recipe", cueutil.WithFilename(filename))
	if err != nil {
		return Recipe{}, err
	}
	r, err := res.Value.Apply(Default())
	if err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", filename, err)
	}
	if err := r.Validate(); err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", filename, err)
	}
	return r, nil
}

// Load reads the recipe file at path.
func Load(path string) (Recipe, error) {
	res, err := cueutil.ParseFile[File](schema, path, "#Recipe")
	if err != nil {
		return Recipe{}, err
	}
	r, err := res.Value.Apply(Default())
	if err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// LoadDir loads dir/stackpack.cue, falling back to Default when the file
// does not exist. found reports whether a file was read.
func LoadDir(dir string) (r Recipe, found bool, err error) {
	path := filepath.Join(dir, FileName)
	r, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return Recipe{}, true, err
	}
	return r, true, nil
}

// Apply overlays the non-nil fields of f on base.
func (f *File) Apply(base Recipe) (Recipe, error) {
	r := base.Clone()

	if f.BaseImage != nil {
		ref, err := ParseImageRef(*f.BaseImage)
		if err != nil {
			return Recipe{}, err
		}
		r.BaseImage = ref
	}
	if f.OSPackages != nil {
		r.OSPackages = make([]PackageName, len(*f.OSPackages))
		for i, p := range *f.OSPackages {
			r.OSPackages[i] = PackageName(p)
		}
	}
	if f.WorkDir != nil {
		r.WorkDir = types.ContainerPath(*f.WorkDir)
	}
	if f.Manifest != nil {
		r.Manifest = types.FilesystemPath(*f.Manifest)
	}
	if f.Source != nil {
		r.Source = types.FilesystemPath(*f.Source)
	}
	if id := f.Identity; id != nil {
		if id.UID != nil {
			r.Identity.UID = *id.UID
		}
		if id.Username != nil {
			r.Identity.Username = *id.Username
		}
	}
	if l := f.Launch; l != nil {
		if l.Command != nil {
			r.Launch.Command = l.Command
			if l.Entrypoint == nil {
				r.Launch.Entrypoint = entrypointFromCommand(l.Command)
			}
		}
		if l.Port != nil {
			r.Launch.Port = types.ListenPort(*l.Port)
		}
		if l.Entrypoint != nil {
			r.Launch.Entrypoint = *l.Entrypoint
		}
	}
	if f.Labels != nil {
		r.Labels = f.Labels
	}
	if f.InstallerUpgrade != nil {
		r.InstallerUpgrade = *f.InstallerUpgrade
	}
	return r, nil
}

// entrypointFromCommand returns the first Python script named in argv, or ""
// when the command does not run one.
func entrypointFromCommand(argv []string) string {
	for _, arg := range argv[min(1, len(argv)):] {
		if !strings.HasPrefix(arg, "-") && strings.HasSuffix(arg, ".py") {
			return arg
		}
	}
	return ""
}

// ToFile converts a recipe into its fully populated file form.
func ToFile(r Recipe) File {
	base := r.BaseImage.String()
	pkgs := make([]string, len(r.OSPackages))
	for i, p := range r.OSPackages {
		pkgs[i] = string(p)
	}
	workdir, manifest, source := r.WorkDir.String(), r.Manifest.String(), r.Source.String()
	uid, user := r.Identity.UID, r.Identity.Username
	port, entry := int(r.Launch.Port), r.Launch.Entrypoint
	upgrade := r.InstallerUpgrade

	return File{
		BaseImage:        &base,
		OSPackages:       &pkgs,
		WorkDir:          &workdir,
		Manifest:         &manifest,
		Source:           &source,
		Identity:         &IdentityFile{UID: &uid, Username: &user},
		Launch:           &LaunchFile{Command: r.Launch.Command, Port: &port, Entrypoint: &entry},
		Labels:           r.Labels,
		InstallerUpgrade: &upgrade,
	}
}

// Encode renders r as a formatted stackpack.cue document.
func Encode(r Recipe) ([]byte, error) {
	v := cuecontext.New().Encode(ToFile(r))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("encode recipe: %w", err)
	}

	lit, ok := v.Syntax().(*ast.StructLit)
	if !ok {
		return nil, fmt.Errorf("encode recipe: unexpected syntax %T", v.Syntax())
	}
	file := &ast.File{Decls: lit.Elts}
	ast.AddComment(file, &ast.CommentGroup{
		Doc:  true,
		List: []*ast.Comment{{Text: "// stackpack build recipe. Remove a field to use its default."}},
	})

	out, err := format.Node(file)
	if err != nil {
		return nil, fmt.Errorf("format recipe: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default recipe to dir/stackpack.cue. An existing
// file is kept unless force is set.
func WriteDefault(dir string, force bool) (string, error) {
	path := filepath.Join(dir, FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s: %w", path, fs.ErrExist)
		}
	}
	data, err := Encode(Default())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
