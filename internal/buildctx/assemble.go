// SPDX-License-Identifier: MPL-2.0

package buildctx

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// DockerfileName is the Dockerfile name inside an assembled context. It
// differs from "Dockerfile" so that a Dockerfile in the application source
// is carried over untouched.
const DockerfileName = "stackpack.Dockerfile"

// ErrManifestCollision is returned when the manifest would overwrite a
// different source file at the context root.
var ErrManifestCollision = errors.New("manifest name collides with a source file")

const generatedIgnore = "# Generated by stackpack. The context is already filtered.\n" + DockerfileName + "\n"

type (
	// AssembleOptions describes the content of a build context.
	AssembleOptions struct {
		Tree *Tree
		// ManifestName and ManifestContent are written first, at the
		// context root.
		ManifestName    string
		ManifestContent []byte
		// ManifestSource is the manifest's slash-separated path inside Tree,
		// empty when the manifest is derived or not part of the tree. A tree
		// file at ManifestName is only replaced when it is the manifest.
		ManifestSource string
		Dockerfile      []byte
		// ParentDir is where the context directory is created. Empty picks
		// one with DefaultParentDir.
		ParentDir string
	}

	// Context is an assembled build context directory.
	Context struct {
		Dir string
		// Files lists context paths in the order they were written.
		Files []string
	}
)

// DefaultParentDir returns a parent directory for build contexts.
//
// A visible directory under $HOME is preferred because Snap-packaged Docker
// cannot read /tmp or hidden directories. The XDG cache directory and the
// system temp directory are fallbacks.
func DefaultParentDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		if _, statErr := os.Stat(home); statErr == nil {
			return filepath.Join(home, "stackpack-build")
		}
	}
	if xdg.CacheHome != "" {
		return filepath.Join(xdg.CacheHome, "stackpack", "build")
	}
	return filepath.Join(os.TempDir(), "stackpack-build")
}

// Assemble creates a fresh context directory containing the manifest, then
// the source tree, then the Dockerfile and ignore file. On error nothing is
// left behind.
func Assemble(opts AssembleOptions) (ctx *Context, err error) {
	if opts.Tree == nil {
		return nil, errors.New("assemble: no source tree")
	}
	if opts.ManifestName == "" || filepath.Base(opts.ManifestName) != opts.ManifestName {
		return nil, fmt.Errorf("assemble: manifest name %q must be a plain file name", opts.ManifestName)
	}

	for _, f := range opts.Tree.Files {
		if f.Rel == opts.ManifestName && opts.ManifestSource != opts.ManifestName {
			return nil, fmt.Errorf("%w: source file %s would be replaced by manifest %s",
				ErrManifestCollision, f.Rel, cmp.Or(opts.ManifestSource, "(derived)"))
		}
	}

	parent := opts.ParentDir
	if parent == "" {
		parent = DefaultParentDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create build context parent: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "ctx-*")
	if err != nil {
		return nil, fmt.Errorf("create build context: %w", err)
	}

	ctx = &Context{Dir: dir}
	defer func() {
		if err != nil {
			_ = ctx.Remove() // Best-effort cleanup of a partial context
			ctx = nil
		}
	}()

	if err := ctx.writeFile(opts.ManifestName, opts.ManifestContent, 0o644); err != nil {
		return ctx, err
	}

	// Earlier contexts live under parent; never copy them into this one.
	absParent, _ := filepath.Abs(parent)
	for _, f := range opts.Tree.Files {
		if f.Rel == opts.ManifestName {
			continue
		}
		src := filepath.Join(opts.Tree.Root, filepath.FromSlash(f.Rel))
		if abs, _ := filepath.Abs(src); isWithin(abs, absParent) {
			continue
		}
		if err := ctx.copyFile(src, f.Rel, f.Mode); err != nil {
			return ctx, err
		}
	}

	if err := ctx.writeFile(DockerfileName, opts.Dockerfile, 0o644); err != nil {
		return ctx, err
	}
	if err := ctx.writeFile(IgnoreFileName, []byte(generatedIgnore), 0o644); err != nil {
		return ctx, err
	}

	slog.Debug("build context assembled", "dir", dir, "files", len(ctx.Files))
	return ctx, nil
}

// DockerfilePath returns the absolute path of the generated Dockerfile.
func (c *Context) DockerfilePath() string {
	return filepath.Join(c.Dir, DockerfileName)
}

// Remove deletes the context directory.
func (c *Context) Remove() error {
	if c == nil || c.Dir == "" {
		return nil
	}
	return os.RemoveAll(c.Dir)
}

func (c *Context) writeFile(rel string, data []byte, mode os.FileMode) error {
	dst := filepath.Join(c.Dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	c.Files = append(c.Files, rel)
	return nil
}

func (c *Context) copyFile(src, rel string, mode os.FileMode) (err error) {
	dst := filepath.Join(c.Dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer func() { _ = in.Close() }() // Read-only file; close error non-critical

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", rel, closeErr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", rel, err)
	}
	c.Files = append(c.Files, rel)
	return nil
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && filepath.IsLocal(rel)
}
