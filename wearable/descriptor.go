// Package wearable defines wearable descriptors: the catalog entries an avatar is assembled from.
//
// Descriptors are immutable once they leave the catalog. Every accessor returns fresh slices so
// callers cannot mutate shared catalog data.
package wearable

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jeremaih2/avatarsystem/asset"
)

const (
	baseAvatarsPrefix         = "urn:decentraland:off-chain:base-avatars:"
	thirdPartyCollectionsPath = "collections-thirdparty"
	smartWearableEntryPoint   = "game.js"
)

var l2Prefixes = []string{"urn:decentraland:matic", "urn:decentraland:mumbai"}

// ErrMissingContent is returned when a representation's main file has no content hash.
var ErrMissingContent = errors.New("representation main file has no content mapping")

// MappingPair maps a file name of a representation to its content hash.
type MappingPair struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// Representation is the variant of a wearable for a set of body shapes.
type Representation struct {
	BodyShapes       []string      `json:"bodyShapes"`
	MainFile         string        `json:"mainFile"`
	Contents         []MappingPair `json:"contents,omitempty"`
	OverrideHides    []Category    `json:"overrideHides,omitempty"`
	OverrideReplaces []Category    `json:"overrideReplaces,omitempty"`
}

// Hash returns the content hash mapped to file.
func (r *Representation) Hash(file string) (string, bool) {
	for _, pair := range r.Contents {
		if pair.Key == file {
			return pair.Hash, true
		}
	}
	return "", false
}

// EmoteData marks a descriptor as an emote.
type EmoteData struct {
	Loop bool `json:"loop,omitempty"`
}

// Descriptor is one wearable as delivered by a catalog.
type Descriptor struct {
	ID              string           `json:"id"`
	Category        Category         `json:"category"`
	Representations []Representation `json:"representations"`
	Hides           []Category       `json:"hides,omitempty"`
	Replaces        []Category       `json:"replaces,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	BaseURL         string           `json:"baseUrl,omitempty"`
	Emote           *EmoteData       `json:"emote,omitempty"`
}

// Representation returns the first representation declaring bodyShape.
func (d *Descriptor) Representation(bodyShape string) (*Representation, bool) {
	for i := range d.Representations {
		if slices.Contains(d.Representations[i].BodyShapes, bodyShape) {
			return &d.Representations[i], true
		}
	}
	return nil, false
}

func (d *Descriptor) SupportsBodyShape(bodyShape string) bool {
	_, ok := d.Representation(bodyShape)
	return ok
}

// ContentKey returns the key of the representation's main file for bodyShape.
func (d *Descriptor) ContentKey(bodyShape string) (asset.ContentKey, error) {
	rep, ok := d.Representation(bodyShape)
	if !ok {
		return asset.ContentKey{}, fmt.Errorf("wearable %s has no representation for body shape %s", d.ID, bodyShape)
	}
	hash, ok := rep.Hash(rep.MainFile)
	if !ok || hash == "" {
		return asset.ContentKey{}, fmt.Errorf("wearable %s main file %q: %w", d.ID, rep.MainFile, ErrMissingContent)
	}
	return asset.NewContentKey(d.BaseURL, hash), nil
}

// HidesList returns the categories d hides for bodyShape: the representation's override hides when
// present, the global hides otherwise, extended by the implicit hides of d's category.
// The body shape category is never part of the result.
func (d *Descriptor) HidesList(bodyShape string) []Category {
	hides := d.Hides
	if rep, ok := d.Representation(bodyShape); ok && len(rep.OverrideHides) > 0 {
		hides = rep.OverrideHides
	}
	out := make([]Category, 0, len(hides))
	for _, c := range slices.Concat(hides, implicitHides[d.Category]) {
		if c == CategoryBodyShape || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DoesHide reports whether d hides category c for bodyShape.
func (d *Descriptor) DoesHide(c Category, bodyShape string) bool {
	return slices.Contains(d.HidesList(bodyShape), c)
}

// ReplacesList returns the representation's override replaces when present, the global replaces otherwise.
func (d *Descriptor) ReplacesList(bodyShape string) []Category {
	if rep, ok := d.Representation(bodyShape); ok && len(rep.OverrideReplaces) > 0 {
		return slices.Clone(rep.OverrideReplaces)
	}
	return slices.Clone(d.Replaces)
}

func (d *Descriptor) IsSkin() bool {
	return d.Category == CategorySkin
}

func (d *Descriptor) IsEmote() bool {
	return d.Emote != nil || d.Category == CategoryEmote
}

// IsSmart reports whether any representation ships a scene entry point.
func (d *Descriptor) IsSmart() bool {
	for _, rep := range d.Representations {
		for _, pair := range rep.Contents {
			if strings.HasSuffix(pair.Key, smartWearableEntryPoint) {
				return true
			}
		}
	}
	return false
}

// IsCollectible reports whether the wearable is not one of the free base avatar items.
func (d *Descriptor) IsCollectible() bool {
	return d.ID != "" && !strings.HasPrefix(d.ID, baseAvatarsPrefix)
}

// IsInL2 guesses the network from the id prefix.
func (d *Descriptor) IsInL2() bool {
	for _, prefix := range l2Prefixes {
		if strings.HasPrefix(d.ID, prefix) {
			return true
		}
	}
	return false
}

// ThirdPartyCollectionID returns the id prefix up to and including the collection segment
// following "collections-thirdparty", or "" for first party wearables.
func (d *Descriptor) ThirdPartyCollectionID() string {
	segments := strings.Split(d.ID, ":")
	i := slices.Index(segments, thirdPartyCollectionsPath)
	if i < 0 {
		return ""
	}
	end := min(i+2, len(segments))
	return strings.Join(segments[:end], ":")
}

// Validate checks the structural rules every catalog entry must satisfy.
func (d *Descriptor) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("wearable id is empty"))
	}
	if !d.Category.Valid() {
		errs = append(errs, fmt.Errorf("wearable %s: unknown category %q", d.ID, d.Category))
	}
	for _, c := range slices.Concat(d.Hides, d.Replaces) {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("wearable %s: unknown category %q in hides/replaces", d.ID, c))
		}
	}
	for i, rep := range d.Representations {
		if len(rep.BodyShapes) == 0 {
			errs = append(errs, fmt.Errorf("wearable %s: representation %d declares no body shape", d.ID, i))
		}
		if rep.MainFile == "" {
			errs = append(errs, fmt.Errorf("wearable %s: representation %d has no main file", d.ID, i))
		}
		for _, c := range slices.Concat(rep.OverrideHides, rep.OverrideReplaces) {
			if !c.Valid() {
				errs = append(errs, fmt.Errorf("wearable %s: representation %d: unknown category %q", d.ID, i, c))
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Descriptor) String() string {
	return d.ID
}
