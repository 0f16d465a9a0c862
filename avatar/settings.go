package avatar

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/opencontainers/go-digest"

	"github.com/jeremaih2/avatarsystem/combiner"
)

// Settings are the per load appearance parameters of an avatar.
type Settings struct {
	PlayerName  string         `json:"playerName,omitempty"`
	BodyShapeID string         `json:"bodyShape"`
	SkinColor   combiner.Color `json:"skinColor"`
	HairColor   combiner.Color `json:"hairColor"`
	EyesColor   combiner.Color `json:"eyesColor"`
}

func (s Settings) Colors() combiner.Colors {
	return combiner.Colors{Skin: s.SkinColor, Hair: s.HairColor, Eyes: s.EyesColor}
}

type fingerprintPayload struct {
	BodyShape string   `json:"bodyShape"`
	Wearables []string `json:"wearables"`
	Skin      string   `json:"skin"`
	Hair      string   `json:"hair"`
	Eyes      string   `json:"eyes"`
}

// Fingerprint identifies the visual outcome of a load request: the body shape, the wearable
// ids and the colors. Later ids win category conflicts, so order counts. Repeated ids count at
// their last position. The player name does not contribute.
func Fingerprint(ids []string, s Settings) (digest.Digest, error) {
	wearables := make([]string, 0, len(ids))
	for i, id := range ids {
		if id != "" && !slices.Contains(ids[i+1:], id) {
			wearables = append(wearables, id)
		}
	}
	data, err := json.Marshal(fingerprintPayload{
		BodyShape: s.BodyShapeID,
		Wearables: wearables,
		Skin:      s.SkinColor.Hex(),
		Hair:      s.HairColor.Hex(),
		Eyes:      s.EyesColor.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal load fingerprint: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize load fingerprint: %w", err)
	}
	return digest.FromBytes(canonical), nil
}
