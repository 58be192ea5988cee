// SPDX-License-Identifier: MPL-2.0

package buildctx

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/stackpack/stackpack/internal/recipe"
)

// keyVersion is mixed into every base key; bump it when rendering changes
// in a way that must invalidate existing images.
const keyVersion = "stackpack/v1"

// tagKeyLength is the number of hex digits of the cache key used in tags.
const tagKeyLength = 12

// LayerName names a cacheable layer group.
type LayerName string

const (
	LayerBase    LayerName = "base"
	LayerDeps    LayerName = "deps"
	LayerSource  LayerName = "source"
	LayerRuntime LayerName = "runtime"
)

type (
	// Layer is one layer group and the key of everything up to it.
	Layer struct {
		Name LayerName
		Key  digest.Digest
		// Inputs describes what the key covers, for display.
		Inputs []string
	}

	// Plan is the ordered list of layer groups for one build.
	Plan struct {
		Layers []Layer
	}
)

// ComputePlan chains the layer keys. Each key covers its own inputs plus
// the key of the previous layer.
func ComputePlan(r recipe.Recipe, manifestDigest, sourceDigest digest.Digest) Plan {
	pkgs := make([]string, 0, len(r.OSPackages))
	for _, p := range r.Packages() {
		pkgs = append(pkgs, string(p))
	}

	baseInputs := []string{
		"version=" + keyVersion,
		"from=" + r.BaseImage.String(),
		"packages=" + strings.Join(pkgs, ","),
	}
	base := chain("", baseInputs)

	depsInputs := []string{
		"workdir=" + r.WorkDir.String(),
		"manifest=" + manifestDigest.String(),
		"upgrade-installer=" + strconv.FormatBool(r.InstallerUpgrade),
	}
	deps := chain(base, depsInputs)

	sourceInputs := []string{"source=" + sourceDigest.String()}
	source := chain(deps, sourceInputs)

	runtimeInputs := []string{
		fmt.Sprintf("identity=%d:%s", r.Identity.UID, r.Identity.Username),
		"command=" + strconv.Quote(strings.Join(r.Launch.Command, "\x00")),
		"port=" + r.Launch.Port.String(),
		"labels=" + labelString(r.Labels),
	}
	runtime := chain(source, runtimeInputs)

	return Plan{Layers: []Layer{
		{Name: LayerBase, Key: base, Inputs: baseInputs},
		{Name: LayerDeps, Key: deps, Inputs: depsInputs},
		{Name: LayerSource, Key: source, Inputs: sourceInputs},
		{Name: LayerRuntime, Key: runtime, Inputs: runtimeInputs},
	}}
}

// Layer returns the named layer.
func (p Plan) Layer(name LayerName) (Layer, bool) {
	for _, l := range p.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// CacheKey is the key of the last layer, identifying the whole image.
func (p Plan) CacheKey() digest.Digest {
	if len(p.Layers) == 0 {
		return ""
	}
	return p.Layers[len(p.Layers)-1].Key
}

// ImageTag returns "<name>:<first 12 hex digits of key>".
func ImageTag(name string, key digest.Digest) string {
	enc := key.Encoded()
	if len(enc) > tagKeyLength {
		enc = enc[:tagKeyLength]
	}
	return name + ":" + enc
}

func chain(prev digest.Digest, inputs []string) digest.Digest {
	var b strings.Builder
	b.WriteString("prev=" + prev.String() + "\n")
	for _, in := range inputs {
		b.WriteString(in)
		b.WriteByte('\n')
	}
	return digest.FromString(b.String())
}

func labelString(labels map[string]string) string {
	keys := slices.Sorted(maps.Keys(labels))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(k) + "=" + strconv.Quote(labels[k])
	}
	return strings.Join(parts, ",")
}
