// SPDX-License-Identifier: MPL-2.0

package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ErrImageNotFound is returned when an inspect result holds no image.
var ErrImageNotFound = errors.New("image not found")

type (
	// ImageInfo is the part of `image inspect` output stackpack uses.
	ImageInfo struct {
		// ID is the image config digest.
		ID       digest.Digest
		RepoTags []string
		Created  time.Time
		Config   ocispec.ImageConfig
	}

	// inspectEntry mirrors one element of the JSON array printed by
	// `docker image inspect` and `podman image inspect`. Both use the OCI
	// config field names inside "Config".
	inspectEntry struct {
		ID       string              `json:"Id"`
		RepoTags []string            `json:"RepoTags"`
		Created  time.Time           `json:"Created"`
		Config   ocispec.ImageConfig `json:"Config"`
	}
)

// ParseImageInspect decodes `image inspect` output and returns the first image.
func ParseImageInspect(data []byte) (*ImageInfo, error) {
	var entries []inspectEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode image inspect output: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrImageNotFound
	}
	e := entries[0]

	id := digest.Digest(e.ID)
	if !digest.DigestRegexpAnchored.MatchString(e.ID) {
		// Older engines print the bare hex encoding.
		id = digest.NewDigestFromEncoded(digest.SHA256, e.ID)
	}
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("image ID %q: %w", e.ID, err)
	}

	return &ImageInfo{
		ID:       id,
		RepoTags: e.RepoTags,
		Created:  e.Created,
		Config:   e.Config,
	}, nil
}

// ExposesPort reports whether the image config exposes the TCP port spec,
// such as "8501/tcp".
func (i *ImageInfo) ExposesPort(spec string) bool {
	_, ok := i.Config.ExposedPorts[spec]
	return ok
}
