// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/stackpack/stackpack/internal/container"
)

// Compile-time interface check
var _ container.Engine = (*FakeEngine)(nil)

// FakeEngine is an in-memory container.Engine for tests. Builds register the
// image described by BuiltConfig under every requested tag.
type FakeEngine struct {
	mu sync.Mutex

	// Images holds the images the engine knows about, by tag.
	Images map[string]*container.ImageInfo

	// BuildOutput is written to the build's Stdout before BuildErr is returned.
	BuildOutput string
	BuildErr    error
	// BuiltConfig is the configuration given to built images.
	BuiltConfig container.ImageInfo

	PullErr error
	// RunResult is returned by Run. Nil means a zero exit code.
	RunResult *container.RunResult
	RunErr    error

	// Calls records the operations performed, in order.
	Calls  []string
	Builds []container.BuildOptions
	Runs   []container.RunOptions
}

// NewFakeEngine returns an engine that already holds the given image tags.
func NewFakeEngine(present ...string) *FakeEngine {
	f := &FakeEngine{Images: make(map[string]*container.ImageInfo)}
	for _, tag := range present {
		f.Images[tag] = &container.ImageInfo{ID: digest.FromString(tag), RepoTags: []string{tag}}
	}
	return f
}

func (f *FakeEngine) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallCount returns how many recorded calls start with op.
func (f *FakeEngine) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			n++
		}
	}
	return n
}

// Name implements container.Engine.
func (f *FakeEngine) Name() string { return "fake" }

// Available implements container.Engine.
func (f *FakeEngine) Available() bool { return true }

// Version implements container.Engine.
func (f *FakeEngine) Version(context.Context) (string, error) { return "0.0.0-fake", nil }

// Build implements container.Engine.
func (f *FakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("build %s", opts.Tags[0])
	f.Builds = append(f.Builds, opts)

	if f.BuildOutput != "" && opts.Stdout != nil {
		_, _ = io.WriteString(opts.Stdout, f.BuildOutput)
	}
	if f.BuildErr != nil {
		return f.BuildErr
	}

	info := f.BuiltConfig
	info.ID = digest.FromString(opts.Tags[0])
	info.RepoTags = slices.Clone(opts.Tags)
	for _, tag := range opts.Tags {
		img := info
		f.Images[tag] = &img
	}
	return nil
}

// Run implements container.Engine.
func (f *FakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("run %s", opts.Image)
	f.Runs = append(f.Runs, opts)

	if f.RunErr != nil {
		return nil, f.RunErr
	}
	if f.RunResult != nil {
		res := *f.RunResult
		return &res, nil
	}
	res := &container.RunResult{}
	if opts.Detach {
		res.ContainerID = "fake-container"
	}
	return res, nil
}

// Remove implements container.Engine.
func (f *FakeEngine) Remove(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rm %s", id)
	return nil
}

// ImageExists implements container.Engine.
func (f *FakeEngine) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists %s", image)
	_, ok := f.Images[image]
	return ok, nil
}

// RemoveImage implements container.Engine.
func (f *FakeEngine) RemoveImage(_ context.Context, image string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rmi %s", image)
	delete(f.Images, image)
	return nil
}

// Tag implements container.Engine.
func (f *FakeEngine) Tag(_ context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tag %s %s", source, target)
	img, ok := f.Images[source]
	if !ok {
		return fmt.Errorf("no such image: %s", source)
	}
	f.Images[target] = img
	return nil
}

// InspectImage implements container.Engine.
func (f *FakeEngine) InspectImage(_ context.Context, image string) (*container.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect %s", image)
	img, ok := f.Images[image]
	if !ok {
		return nil, container.ErrImageNotFound
	}
	c := *img
	return &c, nil
}

// Pull implements container.Engine.
func (f *FakeEngine) Pull(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", image)
	if f.PullErr != nil {
		return f.PullErr
	}
	f.Images[image] = &container.ImageInfo{ID: digest.FromString(image), RepoTags: []string{image}}
	return nil
}
