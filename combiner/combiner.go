// Package combiner merges the loaded fragments of an avatar into one skinned renderer.
//
// All fragments are skinned against the skeleton of the body shape. Mesh bone indices are
// remapped from each mesh's local bone list into that skeleton, materials are merged by name,
// and the output order follows the fragment order so that the same fragments always produce
// the same renderer regardless of the order in which they were loaded.
package combiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/loader"
	"github.com/jeremaih2/avatarsystem/wearable"
)

var (
	ErrInvalidSkeleton  = errors.New("invalid skeleton")
	ErrSkeletonMismatch = errors.New("skeleton mismatch")
	ErrNoBodyShape      = errors.New("no body shape fragment")
	ErrMissingMaterial  = errors.New("missing material")
)

// SkeletonMismatchError reports a mesh bone that does not exist in the body shape skeleton.
type SkeletonMismatchError struct {
	Wearable string
	Mesh     string
	Bone     string
}

func (e *SkeletonMismatchError) Error() string {
	return fmt.Sprintf("%s: wearable %s mesh %s uses bone %q missing from the body skeleton",
		ErrSkeletonMismatch, e.Wearable, e.Mesh, e.Bone)
}

func (e *SkeletonMismatchError) Is(target error) bool {
	return target == ErrSkeletonMismatch
}

type Options struct {
	// Hidden categories remove the body shape meshes standing for them.
	Hidden wearable.CategorySet
	Colors Colors
}

// SubMesh is one mesh of the combined renderer.
type SubMesh struct {
	Wearable string
	Mesh     string
	// Material indexes Renderer.Materials, -1 for none.
	Material int
	Vertices int
	// Weights index Renderer.Skeleton.Bones.
	Weights []asset.BoneWeight
	Bounds  asset.Bounds
}

// RenderMaterial is a material of the combined renderer.
type RenderMaterial struct {
	Name     string
	Textures []string
	Tint     asset.TintSlot
	// Color is set for tinted materials.
	Color *Color
}

// Renderer is the combined skinned mesh of one avatar.
type Renderer struct {
	Skeleton    *asset.Skeleton
	SubMeshes   []SubMesh
	Materials   []RenderMaterial
	VertexCount int
	Bounds      asset.Bounds

	active atomic.Bool
}

// SetActive toggles rendering of the combined mesh without touching its contents.
func (r *Renderer) SetActive(active bool) {
	r.active.Store(active)
}

func (r *Renderer) Active() bool {
	return r.active.Load()
}

func (r *Renderer) Extents() asset.Vec3 {
	return r.Bounds.Extents()
}

// BodySkeleton returns the skeleton of the body shape fragment.
func BodySkeleton(fragments []loader.Fragment) (*asset.Skeleton, error) {
	for _, f := range fragments {
		if f.Wearable.Category == wearable.CategoryBodyShape {
			if f.Graph.Skeleton == nil {
				return nil, fmt.Errorf("%w: body shape %s has no skeleton", ErrInvalidSkeleton, f.Wearable.ID)
			}
			return f.Graph.Skeleton, nil
		}
	}
	return nil, ErrNoBodyShape
}

// Combine merges the mesh fragments into a renderer skinned against skeleton.
// Emote fragments carry animations only and are skipped.
func Combine(ctx context.Context, skeleton *asset.Skeleton, fragments []loader.Fragment, opts Options) (*Renderer, error) {
	if err := ValidateSkeleton(skeleton); err != nil {
		return nil, err
	}
	boneIndex := make(map[string]int, len(skeleton.Bones))
	for i, b := range skeleton.Bones {
		boneIndex[b.Name] = i
	}

	covered := wearable.NewCategorySet()
	for c := range opts.Hidden {
		covered.Add(c)
	}
	for _, f := range fragments {
		if !f.Emote && f.Wearable.Category != wearable.CategoryBodyShape {
			covered.Add(f.Wearable.Category)
		}
	}

	r := &Renderer{Skeleton: skeleton}
	materials := map[materialKey]int{}
	first := true
	for _, f := range fragments {
		if f.Emote {
			continue
		}
		isBody := f.Wearable.Category == wearable.CategoryBodyShape
		for _, m := range f.Graph.Meshes {
			if isBody && m.Part != "" && covered.Has(wearable.Category(m.Part)) {
				continue
			}
			weights, missing := remap(m, boneIndex)
			if missing != "" {
				return nil, &SkeletonMismatchError{Wearable: f.Wearable.ID, Mesh: m.Name, Bone: missing}
			}
			sub := SubMesh{
				Wearable: f.Wearable.ID,
				Mesh:     m.Name,
				Material: -1,
				Vertices: m.Vertices,
				Weights:  weights,
				Bounds:   m.Bounds,
			}
			if m.Material != "" {
				idx, err := r.material(materials, f.Graph, m.Material, opts.Colors)
				if err != nil {
					return nil, fmt.Errorf("wearable %s mesh %s: %w", f.Wearable.ID, m.Name, err)
				}
				sub.Material = idx
			}
			r.SubMeshes = append(r.SubMeshes, sub)
			r.VertexCount += m.Vertices
			if first {
				r.Bounds = m.Bounds
				first = false
			} else {
				r.Bounds = r.Bounds.Union(m.Bounds)
			}
		}
	}
	r.SetActive(true)

	slogcontext.FromCtx(ctx).With(slog.String("realm", "combiner")).Log(ctx, slog.LevelDebug, "combined avatar mesh",
		slog.Int("subMeshes", len(r.SubMeshes)),
		slog.Int("materials", len(r.Materials)),
		slog.Int("vertices", r.VertexCount),
		slog.Int("bones", len(skeleton.Bones)),
	)
	return r, nil
}

// materialKey scopes a material name to the graph declaring it.
// Fragments sharing content share the graph and so share its materials.
type materialKey struct {
	graph *asset.Graph
	name  string
}

// material returns the index of the named material of g, adding it on first use.
func (r *Renderer) material(index map[materialKey]int, g *asset.Graph, name string, colors Colors) (int, error) {
	k := materialKey{graph: g, name: name}
	if i, ok := index[k]; ok {
		return i, nil
	}
	src, ok := g.Material(name)
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrMissingMaterial, name)
	}
	m := RenderMaterial{Name: name, Textures: src.Textures, Tint: src.Tint}
	var c *Color
	switch src.Tint {
	case asset.TintSkin:
		c = &colors.Skin
	case asset.TintHair:
		c = &colors.Hair
	case asset.TintEyes:
		c = &colors.Eyes
	}
	if c != nil {
		color := *c
		m.Color = &color
	}
	r.Materials = append(r.Materials, m)
	index[k] = len(r.Materials) - 1
	return index[k], nil
}

// remap rewrites the local bone indices of m into skeleton indices. It returns the name of the
// first bone the skeleton lacks.
func remap(m asset.Mesh, boneIndex map[string]int) ([]asset.BoneWeight, string) {
	local := make([]int, len(m.Bones))
	for i, name := range m.Bones {
		idx, ok := boneIndex[name]
		if !ok {
			return nil, name
		}
		local[i] = idx
	}
	if len(m.Weights) == 0 {
		return nil, ""
	}
	out := make([]asset.BoneWeight, len(m.Weights))
	for v, w := range m.Weights {
		out[v].Weights = w.Weights
		for slot, idx := range w.Indices {
			if w.Weights[slot] == 0 {
				continue
			}
			if idx < 0 || idx >= len(local) {
				return nil, fmt.Sprintf("#%d", idx)
			}
			out[v].Indices[slot] = local[idx]
		}
	}
	return out, ""
}
