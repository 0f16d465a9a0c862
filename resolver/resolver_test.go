package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremaih2/avatarsystem/catalog"
	"github.com/jeremaih2/avatarsystem/resolver"
	"github.com/jeremaih2/avatarsystem/wearable"
)

const (
	female = "female"
	male   = "male"
)

func item(id string, c wearable.Category, hides ...wearable.Category) *wearable.Descriptor {
	return &wearable.Descriptor{
		ID:              id,
		Category:        c,
		Hides:           hides,
		Representations: []wearable.Representation{{BodyShapes: []string{female}, MainFile: id + ".glb"}},
	}
}

func testCatalog() *catalog.Memory {
	maleOnly := item("male_shirt", wearable.CategoryUpperBody)
	maleOnly.Representations[0].BodyShapes = []string{male}
	dance := item("dance", wearable.CategoryEmote)
	dance.Emote = &wearable.EmoteData{Loop: true}
	wave := item("wave", wearable.CategoryEmote)

	return catalog.NewMemory(
		item(female, wearable.CategoryBodyShape),
		item(male, wearable.CategoryBodyShape),
		item("skin_x", wearable.CategorySkin),
		item("eyes_y", wearable.CategoryEyes),
		item("hat", wearable.CategoryHat, wearable.CategoryHair),
		item("helmet", wearable.CategoryHelmet, wearable.CategoryHat, wearable.CategoryHair, wearable.CategoryEyewear),
		item("hair", wearable.CategoryHair, wearable.CategoryHat),
		item("shirt", wearable.CategoryUpperBody),
		item("shirt2", wearable.CategoryUpperBody),
		item("pants", wearable.CategoryLowerBody),
		item("glasses", wearable.CategoryEyewear),
		item("not_a_body", wearable.CategoryHat),
		maleOnly,
		dance,
		wave,
	)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		ids       []string
		wearables []string
		hidden    []wearable.Category
		emotes    []string
	}{
		{
			name:      "skin hides eyes",
			ids:       []string{"skin_x", "eyes_y"},
			wearables: []string{female, "skin_x"},
			hidden: []wearable.Category{
				wearable.CategoryUpperBody, wearable.CategoryLowerBody, wearable.CategoryFeet,
				wearable.CategoryHair, wearable.CategoryEyes, wearable.CategoryEyebrows,
				wearable.CategoryMouth, wearable.CategoryFacialHair, wearable.CategoryHead,
			},
		},
		{
			name:      "hat hides hair",
			ids:       []string{"hat", "hair"},
			wearables: []string{female, "hat"},
			hidden:    []wearable.Category{wearable.CategoryHair},
		},
		{
			name:      "hidden wearable hides nothing itself",
			ids:       []string{"helmet", "hair", "shirt"},
			wearables: []string{female, "helmet", "shirt"},
			hidden:    []wearable.Category{wearable.CategoryHair, wearable.CategoryHat, wearable.CategoryEyewear},
		},
		{
			name:      "first wearable wins the hide race",
			ids:       []string{"hair", "hat"},
			wearables: []string{female, "hair"},
			hidden:    []wearable.Category{wearable.CategoryHat},
		},
		{
			name:      "later wearable of a category wins",
			ids:       []string{"shirt", "pants", "shirt2"},
			wearables: []string{female, "pants", "shirt2"},
			hidden:    []wearable.Category{},
		},
		{
			name:      "duplicate ids keep their last position",
			ids:       []string{"shirt", "pants", "shirt"},
			wearables: []string{female, "pants", "shirt"},
			hidden:    []wearable.Category{},
		},
		{
			name:      "body shape in ids is not duplicated",
			ids:       []string{"pants", female},
			wearables: []string{female, "pants"},
			hidden:    []wearable.Category{},
		},
		{
			name:      "wearable without representation is dropped",
			ids:       []string{"male_shirt", "pants"},
			wearables: []string{female, "pants"},
			hidden:    []wearable.Category{},
		},
		{
			name:      "emotes are collected separately",
			ids:       []string{"dance", "skin_x", "wave", "dance"},
			wearables: []string{female, "skin_x"},
			hidden: []wearable.Category{
				wearable.CategoryUpperBody, wearable.CategoryLowerBody, wearable.CategoryFeet,
				wearable.CategoryHair, wearable.CategoryEyes, wearable.CategoryEyebrows,
				wearable.CategoryMouth, wearable.CategoryFacialHair, wearable.CategoryHead,
			},
			emotes: []string{"wave", "dance"},
		},
		{
			name:      "additional body shapes are dropped",
			ids:       []string{male, "pants"},
			wearables: []string{female, "pants"},
			hidden:    []wearable.Category{},
		},
	}

	res := resolver.New(testCatalog(), resolver.Options{FetchConcurrency: 2})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			set, err := res.Resolve(t.Context(), tc.ids, female)
			r.NoError(err)
			r.Equal(female, set.BodyShape.ID)
			r.Equal(tc.wearables, set.IDs())
			r.Equal(tc.hidden, set.Hidden.Sorted())
			r.Equal(tc.emotes, nilIfEmpty(set.EmoteIDs()))
			for _, w := range set.Wearables {
				r.False(set.Hidden.Has(w.Category), "wearable %s is hidden", w.ID)
			}
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestResolveIsDeterministic(t *testing.T) {
	r := require.New(t)
	res := resolver.New(testCatalog(), resolver.Options{FetchConcurrency: 8})
	ids := []string{"glasses", "hair", "shirt", "pants", "hat", "helmet", "shirt2", "dance"}

	first, err := res.Resolve(t.Context(), ids, female)
	r.NoError(err)
	for range 50 {
		set, err := res.Resolve(t.Context(), ids, female)
		r.NoError(err)
		r.Equal(first.IDs(), set.IDs())
		r.Equal(first.Hidden, set.Hidden)
		r.Equal(first.EmoteIDs(), set.EmoteIDs())
	}
}

func TestResolveErrors(t *testing.T) {
	t.Run("unknown wearable", func(t *testing.T) {
		r := require.New(t)
		res := resolver.New(testCatalog(), resolver.Options{})
		_, err := res.Resolve(t.Context(), []string{"shirt", "ghost"}, female)
		r.ErrorIs(err, resolver.ErrUnknownWearable)
		var unknown *resolver.UnknownWearableError
		r.ErrorAs(err, &unknown)
		r.Equal("ghost", unknown.ID)
	})

	t.Run("unknown body shape", func(t *testing.T) {
		res := resolver.New(testCatalog(), resolver.Options{})
		_, err := res.Resolve(t.Context(), []string{"shirt"}, "ghost")
		require.ErrorIs(t, err, resolver.ErrUnknownWearable)
	})

	t.Run("body shape of the wrong category", func(t *testing.T) {
		res := resolver.New(testCatalog(), resolver.Options{})
		_, err := res.Resolve(t.Context(), []string{"shirt"}, "not_a_body")
		require.ErrorIs(t, err, resolver.ErrIncompatibleBodyShape)
	})

	t.Run("body shape without its own representation", func(t *testing.T) {
		res := resolver.New(testCatalog(), resolver.Options{})
		_, err := res.Resolve(t.Context(), []string{"shirt"}, male)
		require.ErrorIs(t, err, resolver.ErrIncompatibleBodyShape)
	})

	t.Run("empty body shape", func(t *testing.T) {
		res := resolver.New(testCatalog(), resolver.Options{})
		_, err := res.Resolve(t.Context(), []string{"shirt"}, "")
		require.ErrorIs(t, err, resolver.ErrIncompatibleBodyShape)
	})

	t.Run("catalog failure", func(t *testing.T) {
		r := require.New(t)
		boom := errors.New("catalog offline")
		res := resolver.New(catalog.Func(func(context.Context, string) (*wearable.Descriptor, error) {
			return nil, boom
		}), resolver.Options{})
		_, err := res.Resolve(t.Context(), []string{"shirt"}, female)
		r.ErrorIs(err, boom)
		r.NotErrorIs(err, resolver.ErrUnknownWearable)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		res := resolver.New(testCatalog(), resolver.Options{})
		_, err := res.Resolve(ctx, []string{"shirt"}, female)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestHiddenCategories(t *testing.T) {
	r := require.New(t)
	skin := item("skin", wearable.CategorySkin, wearable.CategoryBodyShape)
	hidden := resolver.HiddenCategories([]*wearable.Descriptor{skin}, female)
	r.False(hidden.Has(wearable.CategoryBodyShape))
	r.True(hidden.Has(wearable.CategoryFacialHair))
}

func TestEquipSetCovers(t *testing.T) {
	r := require.New(t)
	res := resolver.New(testCatalog(), resolver.Options{})
	set, err := res.Resolve(t.Context(), []string{"hat", "shirt"}, female)
	r.NoError(err)
	r.True(set.Covers(wearable.CategoryHair))
	r.True(set.Covers(wearable.CategoryUpperBody))
	r.False(set.Covers(wearable.CategoryLowerBody))
}
