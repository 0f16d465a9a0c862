package wearable

import (
	"fmt"
	"slices"
)

// Category is the slot a wearable occupies on an avatar.
type Category string

const (
	CategoryBodyShape  Category = "body_shape"
	CategoryUpperBody  Category = "upper_body"
	CategoryLowerBody  Category = "lower_body"
	CategoryFeet       Category = "feet"
	CategoryHair       Category = "hair"
	CategoryEyes       Category = "eyes"
	CategoryEyebrows   Category = "eyebrows"
	CategoryMouth      Category = "mouth"
	CategoryFacialHair Category = "facial_hair"
	CategoryHead       Category = "head"
	CategoryHat        Category = "hat"
	CategoryHelmet     Category = "helmet"
	CategoryMask       Category = "mask"
	CategoryEyewear    Category = "eyewear"
	CategoryEarring    Category = "earring"
	CategoryTiara      Category = "tiara"
	CategoryTopHead    Category = "top_head"
	CategoryHandsWear  Category = "hands_wear"
	CategorySkin       Category = "skin"
	CategoryEmote      Category = "emote"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryBodyShape,
	CategoryUpperBody,
	CategoryLowerBody,
	CategoryFeet,
	CategoryHair,
	CategoryEyes,
	CategoryEyebrows,
	CategoryMouth,
	CategoryFacialHair,
	CategoryHead,
	CategoryHat,
	CategoryHelmet,
	CategoryMask,
	CategoryEyewear,
	CategoryEarring,
	CategoryTiara,
	CategoryTopHead,
	CategoryHandsWear,
	CategorySkin,
	CategoryEmote,
}

// implicitHides is the fixed table of categories a wearable hides on top of its declared data.
var implicitHides = map[Category][]Category{
	CategorySkin: {
		CategoryEyes,
		CategoryMouth,
		CategoryEyebrows,
		CategoryHair,
		CategoryUpperBody,
		CategoryLowerBody,
		CategoryFeet,
		CategoryHead,
		CategoryFacialHair,
	},
}

// ImplicitHides returns the categories c hides regardless of declared data.
func ImplicitHides(c Category) []Category {
	return slices.Clone(implicitHides[c])
}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory validates s as a known category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown wearable category %q", s)
	}
	return c, nil
}

// CategorySet is an unordered set of categories.
type CategorySet map[Category]struct{}

func NewCategorySet(cs ...Category) CategorySet {
	s := make(CategorySet, len(cs))
	s.Add(cs...)
	return s
}

func (s CategorySet) Add(cs ...Category) {
	for _, c := range cs {
		s[c] = struct{}{}
	}
}

func (s CategorySet) Has(c Category) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the members in the order of Categories.
func (s CategorySet) Sorted() []Category {
	out := make([]Category, 0, len(s))
	for _, c := range Categories {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
