// SPDX-License-Identifier: MPL-2.0

package buildctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/opencontainers/go-digest"
)

// IgnoreFileName is the ignore file honored in the source directory.
const IgnoreFileName = ".dockerignore"

// DefaultExcludes are always left out of the build context.
var DefaultExcludes = []string{".git", "**/__pycache__", "**/*.pyc"}

type (
	// File is one regular file of a scanned source tree.
	File struct {
		// Rel is the slash-separated path relative to the tree root.
		Rel    string
		Size   int64
		Mode   fs.FileMode
		Digest digest.Digest
	}

	// Tree is the filtered content of a source directory.
	Tree struct {
		Root     string
		Files    []File
		Excludes []string
	}

	// ScanOptions configures ScanSource.
	ScanOptions struct {
		// Excludes are added to DefaultExcludes and the ignore file patterns.
		Excludes []string
	}
)

// ScanSource walks root and returns every regular file that survives the
// ignore rules, sorted by path. Symlinks and special files are skipped.
func ScanSource(root string, opts ScanOptions) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}

	patterns, err := readIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	excludes := slices.Concat(DefaultExcludes, patterns, opts.Excludes)

	pm, err := patternmatcher.New(excludes)
	if err != nil {
		return nil, fmt.Errorf("parse exclude patterns: %w", err)
	}

	tree := &Tree{Root: root, Excludes: excludes}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		matched, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return fmt.Errorf("match %s: %w", rel, err)
		}
		if d.IsDir() {
			if matched && !pm.Exclusions() {
				return filepath.SkipDir
			}
			return nil
		}
		if matched || !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		dg, err := fileDigest(path)
		if err != nil {
			return err
		}
		tree.Files = append(tree.Files, File{
			Rel:    filepath.ToSlash(rel),
			Size:   fi.Size(),
			Mode:   fi.Mode().Perm(),
			Digest: dg,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source %s: %w", root, err)
	}

	slices.SortFunc(tree.Files, func(a, b File) int { return strings.Compare(a.Rel, b.Rel) })
	return tree, nil
}

// Digest identifies the tree by file paths, sizes and contents.
func (t *Tree) Digest() digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	for _, f := range t.Files {
		// Length-prefixed fields keep entries unambiguous.
		for _, field := range []string{f.Rel, strconv.FormatInt(f.Size, 10), f.Digest.String()} {
			_, _ = h.Write([]byte(strconv.Itoa(len(field)) + ":" + field + ";"))
		}
	}
	return d.Digest()
}

// Contains reports whether rel (slash-separated) is part of the tree.
func (t *Tree) Contains(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	_, found := slices.BinarySearchFunc(t.Files, rel, func(f File, target string) int {
		return strings.Compare(f.Rel, target)
	})
	return found
}

// Size returns the total size of all files.
func (t *Tree) Size() int64 {
	var n int64
	for _, f := range t.Files {
		n += f.Size
	}
	return n
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return patterns, nil
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	return digest.Canonical.FromReader(f)
}
