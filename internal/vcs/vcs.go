// SPDX-License-Identifier: MPL-2.0

package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// Info describes the git checkout that contains a source directory.
type Info struct {
	// Revision is the full commit hash of HEAD. Empty for a repository
	// without commits.
	Revision string
	// Branch is the short branch name, empty when HEAD is detached.
	Branch string
	// Remote is the first URL of the "origin" remote, if any.
	Remote string
	// Dirty is true when the worktree has uncommitted changes.
	Dirty bool
}

// Detect opens the git repository containing dir, searching parent
// directories. A directory outside any repository yields (nil, nil).
func Detect(dir string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repository for %s: %w", dir, err)
	}

	info := &Info{}

	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// No commits yet.
	case err != nil:
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	default:
		info.Revision = head.Hash().String()
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
	}

	if remote, remoteErr := repo.Remote(git.DefaultRemoteName); remoteErr == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.Remote = urls[0]
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return info, nil
		}
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	info.Dirty = !status.IsClean()

	return info, nil
}

// ShortRevision returns the first 12 characters of the revision.
func (i *Info) ShortRevision() string {
	if len(i.Revision) > 12 {
		return i.Revision[:12]
	}
	return i.Revision
}

// Labels returns OCI annotations describing the checkout. A dirty worktree
// gets a "-dirty" suffix on the revision.
func (i *Info) Labels() map[string]string {
	if i == nil {
		return nil
	}
	labels := make(map[string]string, 3)
	if i.Revision != "" {
		rev := i.Revision
		if i.Dirty {
			rev += "-dirty"
		}
		labels[specs.AnnotationRevision] = rev
	}
	if i.Remote != "" {
		labels[specs.AnnotationSource] = i.Remote
	}
	if i.Branch != "" {
		labels[specs.AnnotationRefName] = i.Branch
	}
	return labels
}
