// Package asset describes imported renderable asset graphs and the content keys that address them.
//
// The graph model is intentionally small: it carries exactly what the composition pipeline needs to
// merge skinned meshes (bone names, per vertex weights, materials) and to drive emotes (animation
// clips). Parsing of binary formats happens behind the Importer interface.
package asset

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// ContentKey identifies one loadable asset file. It is comparable and used as the cache key.
type ContentKey struct {
	// Hash is the content hash of the file. It is either an algorithm prefixed digest
	// (e.g. sha256:...) or an opaque content identifier.
	Hash string `json:"hash"`
	// URL is the location the file can be fetched from.
	URL string `json:"url,omitempty"`
}

// NewContentKey builds the key for hash served below baseURL.
func NewContentKey(baseURL, hash string) ContentKey {
	key := ContentKey{Hash: hash}
	if baseURL != "" {
		key.URL = baseURL + hash
	}
	return key
}

func (k ContentKey) String() string {
	if k.URL != "" {
		return k.URL
	}
	return k.Hash
}

// IsZero reports whether the key has no hash.
func (k ContentKey) IsZero() bool {
	return k.Hash == ""
}

// Digest returns the hash as a digest if it is algorithm prefixed and valid.
func (k ContentKey) Digest() (digest.Digest, bool) {
	d, err := digest.Parse(k.Hash)
	if err != nil {
		return "", false
	}
	return d, true
}

// Vec3 is a point in model space.
type Vec3 [3]float32

// Bounds is an axis aligned bounding box.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Union returns the smallest box containing b and o.
func (b Bounds) Union(o Bounds) Bounds {
	out := b
	for i := range 3 {
		out.Min[i] = min(b.Min[i], o.Min[i])
		out.Max[i] = max(b.Max[i], o.Max[i])
	}
	return out
}

// Extents returns the half size of the box on each axis.
func (b Bounds) Extents() Vec3 {
	var e Vec3
	for i := range 3 {
		e[i] = (b.Max[i] - b.Min[i]) / 2
	}
	return e
}

// BoneWeight binds one vertex to up to four bones. Indices point into Mesh.Bones.
type BoneWeight struct {
	Indices [4]int     `json:"indices"`
	Weights [4]float32 `json:"weights"`
}

// Mesh is one skinned sub-mesh of a graph.
type Mesh struct {
	Name     string `json:"name"`
	Material string `json:"material,omitempty"`
	// Part marks body shape meshes that stand for a wearable category (e.g. "upper_body")
	// and disappear when that category is covered or hidden.
	Part     string       `json:"part,omitempty"`
	Bones    []string     `json:"bones,omitempty"`
	Vertices int          `json:"vertices"`
	Weights  []BoneWeight `json:"weights,omitempty"`
	Bounds   Bounds       `json:"bounds"`
}

// TintSlot names the avatar color a material takes.
type TintSlot string

const (
	TintNone TintSlot = ""
	TintSkin TintSlot = "skin"
	TintHair TintSlot = "hair"
	TintEyes TintSlot = "eyes"
)

type Material struct {
	Name     string   `json:"name"`
	Textures []string `json:"textures,omitempty"`
	Tint     TintSlot `json:"tint,omitempty"`
}

type Texture struct {
	Name   string `json:"name"`
	File   string `json:"file,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Bone is one joint of a skeleton. Root bones have an empty Parent.
type Bone struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

type Skeleton struct {
	Bones []Bone `json:"bones"`
}

// Index returns the position of the named bone.
func (s *Skeleton) Index(name string) (int, bool) {
	for i, b := range s.Bones {
		if b.Name == name {
			return i, true
		}
	}
	return -1, false
}

// AnimationClip is a skeletal animation carried by emote assets.
type AnimationClip struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
	Loop    bool    `json:"loop,omitempty"`
}

// Graph is the renderable object graph produced by an Importer.
type Graph struct {
	Meshes     []Mesh          `json:"meshes,omitempty"`
	Materials  []Material      `json:"materials,omitempty"`
	Textures   []Texture       `json:"textures,omitempty"`
	Skeleton   *Skeleton       `json:"skeleton,omitempty"`
	Animations []AnimationClip `json:"animations,omitempty"`
}

// Material looks up a material by name.
func (g *Graph) Material(name string) (Material, bool) {
	for _, m := range g.Materials {
		if m.Name == name {
			return m, true
		}
	}
	return Material{}, false
}

// VertexCount sums the vertices of every mesh.
func (g *Graph) VertexCount() int {
	n := 0
	for _, m := range g.Meshes {
		n += m.Vertices
	}
	return n
}

// Validate checks internal consistency of the graph: weights must match the vertex count
// and reference declared bones, and meshes must reference declared materials.
func (g *Graph) Validate() error {
	var errs []error
	for _, m := range g.Meshes {
		if m.Vertices < 0 {
			errs = append(errs, fmt.Errorf("mesh %q has a negative vertex count", m.Name))
		}
		if len(m.Weights) != 0 && len(m.Weights) != m.Vertices {
			errs = append(errs, fmt.Errorf("mesh %q has %d weights for %d vertices", m.Name, len(m.Weights), m.Vertices))
		}
		for v, w := range m.Weights {
			for slot, idx := range w.Indices {
				if w.Weights[slot] == 0 {
					continue
				}
				if idx < 0 || idx >= len(m.Bones) {
					errs = append(errs, fmt.Errorf("mesh %q vertex %d references bone index %d out of %d", m.Name, v, idx, len(m.Bones)))
				}
			}
		}
		if m.Material != "" {
			if _, ok := g.Material(m.Material); !ok {
				errs = append(errs, fmt.Errorf("mesh %q references unknown material %q", m.Name, m.Material))
			}
		}
	}
	return errors.Join(errs...)
}
