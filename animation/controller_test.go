package animation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeremaih2/avatarsystem/animation"
	"github.com/jeremaih2/avatarsystem/asset"
)

var sk = &asset.Skeleton{Bones: []asset.Bone{{Name: "hips"}}}

func TestPlayEmote(t *testing.T) {
	r := require.New(t)
	c := animation.NewController()
	c.Equip(animation.NewClip("wave", asset.AnimationClip{Name: "wave", Seconds: 2}, false))

	_, err := c.PlayEmote("wave", 1)
	r.ErrorIs(err, animation.ErrNotBound)

	r.NoError(c.Bind(sk))
	played, err := c.PlayEmote("wave", 1)
	r.NoError(err)
	r.True(played)

	played, err = c.PlayEmote("wave", 1)
	r.NoError(err)
	r.False(played)

	played, err = c.PlayEmote("wave", 2)
	r.NoError(err)
	r.True(played)

	_, err = c.PlayEmote("dance", 3)
	r.ErrorIs(err, animation.ErrUnknownEmote)
	r.Equal([]string{"wave"}, c.Emotes())
}

func TestUpdate(t *testing.T) {
	r := require.New(t)
	c := animation.NewController()
	r.NoError(c.Bind(sk))
	c.Equip(
		animation.NewClip("wave", asset.AnimationClip{Name: "wave", Seconds: 2}, false),
		animation.NewClip("dance", asset.AnimationClip{Name: "dance", Seconds: 1}, true),
	)

	_, err := c.PlayEmote("wave", 1)
	r.NoError(err)
	c.Update(1500 * time.Millisecond)
	p, ok := c.Current()
	r.True(ok)
	r.Equal("wave", p.Clip.EmoteID)
	r.Equal(1500*time.Millisecond, p.Elapsed)

	c.Update(time.Second)
	_, ok = c.Current()
	r.False(ok)

	_, err = c.PlayEmote("dance", 2)
	r.NoError(err)
	c.Update(2500 * time.Millisecond)
	p, ok = c.Current()
	r.True(ok)
	r.True(p.Clip.Loop)
	r.Equal(500*time.Millisecond, p.Elapsed)

	c.Stop()
	_, ok = c.Current()
	r.False(ok)
}

func TestEquipStopsRemovedEmote(t *testing.T) {
	r := require.New(t)
	c := animation.NewController()
	r.NoError(c.Bind(sk))
	c.Equip(animation.NewClip("wave", asset.AnimationClip{Seconds: 2}, false))
	_, err := c.PlayEmote("wave", 1)
	r.NoError(err)

	c.Equip(animation.NewClip("dance", asset.AnimationClip{Seconds: 2}, false))
	_, ok := c.Current()
	r.False(ok)

	r.Error(c.Bind(nil))
}
