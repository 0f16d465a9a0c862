package combiner

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a linear RGBA color with components in [0, 1].
type Color struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

// ParseHexColor parses #rrggbb or #rrggbbaa.
func ParseHexColor(s string) (Color, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return Color{}, fmt.Errorf("invalid color %q: expected #rrggbb or #rrggbbaa", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	channel := func(shift uint) float32 {
		return float32((v>>shift)&0xff) / 255
	}
	return Color{R: channel(24), G: channel(16), B: channel(8), A: channel(0)}, nil
}

// Hex formats c as #rrggbbaa.
func (c Color) Hex() string {
	channel := func(f float32) uint8 {
		return uint8(min(max(f, 0), 1)*255 + 0.5)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B), channel(c.A))
}

// Colors are the tints an avatar applies to tintable materials.
type Colors struct {
	Skin Color `json:"skin"`
	Hair Color `json:"hair"`
	Eyes Color `json:"eyes"`
}
