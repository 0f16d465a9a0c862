// Package animation plays emotes on the combined skeleton of an avatar.
package animation

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jeremaih2/avatarsystem/asset"
)

var (
	ErrUnknownEmote = errors.New("unknown emote")
	ErrNotBound     = errors.New("animation controller is not bound to a skeleton")
)

// Clip is an emote animation ready to be played.
type Clip struct {
	EmoteID  string
	Name     string
	Duration time.Duration
	Loop     bool
}

// NewClip converts an imported animation clip of emote id.
func NewClip(id string, c asset.AnimationClip, loop bool) Clip {
	return Clip{
		EmoteID:  id,
		Name:     c.Name,
		Duration: time.Duration(c.Seconds * float64(time.Second)),
		Loop:     loop || c.Loop,
	}
}

// Playback describes the emote currently playing.
type Playback struct {
	Clip    Clip
	Elapsed time.Duration
}

type trigger struct {
	id        string
	timestamp int64
}

// Controller is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	skeleton *asset.Skeleton
	clips    map[string]Clip
	current  *Playback
	last     *trigger
}

func NewController() *Controller {
	return &Controller{clips: map[string]Clip{}}
}

// Bind attaches the controller to a combined skeleton and stops any running emote.
func (c *Controller) Bind(skeleton *asset.Skeleton) error {
	if skeleton == nil || len(skeleton.Bones) == 0 {
		return fmt.Errorf("cannot bind animations: %w", ErrNotBound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skeleton = skeleton
	c.current = nil
	return nil
}

// Equip replaces the playable emotes. A running emote that is no longer equipped stops.
func (c *Controller) Equip(clips ...Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clips = make(map[string]Clip, len(clips))
	for _, clip := range clips {
		c.clips[clip.EmoteID] = clip
	}
	if c.current != nil {
		if _, ok := c.clips[c.current.Clip.EmoteID]; !ok {
			c.current = nil
		}
	}
}

// Emotes returns the ids of the equipped emotes in sorted order.
func (c *Controller) Emotes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.clips))
}

// PlayEmote starts emote id. A trigger repeating the previous (id, timestamp) pair is ignored and
// reported as not played.
func (c *Controller) PlayEmote(id string, timestamp int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.skeleton == nil {
		return false, ErrNotBound
	}
	clip, ok := c.clips[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEmote, id)
	}
	if c.last != nil && c.last.id == id && c.last.timestamp == timestamp {
		return false, nil
	}
	c.last = &trigger{id: id, timestamp: timestamp}
	c.current = &Playback{Clip: clip}
	return true, nil
}

// Update advances the running emote by dt. Non looping emotes end after their duration.
func (c *Controller) Update(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current.Elapsed += dt
	clip := c.current.Clip
	if c.current.Elapsed < clip.Duration {
		return
	}
	if !clip.Loop || clip.Duration <= 0 {
		c.current = nil
		return
	}
	c.current.Elapsed %= clip.Duration
}

// Current returns the running emote, if any.
func (c *Controller) Current() (Playback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Playback{}, false
	}
	return *c.current, true
}

// Stop returns to idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}
