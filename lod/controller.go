// Package lod decides which avatars are rendered with full skinning and which fall back to an
// impostor.
//
// A visible avatar within FullDistance is a candidate for the Full tier. Candidates are granted
// Full nearest first until MaxFullAvatars is reached; on equal distance an avatar that was
// promoted more recently keeps precedence. Every other avatar is an Impostor. Hidden avatars never
// consume budget.
package lod

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	slogcontext "github.com/veqryn/slog-context"
)

type Tier int

const (
	TierImpostor Tier = iota
	TierFull
)

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierImpostor:
		return "impostor"
	default:
		return "unknown"
	}
}

// Target is an avatar managed by the controller.
type Target interface {
	ID() string
	Distance() float64
	Visible() bool
	// SetTier is called whenever the tier of the target changes.
	SetTier(Tier)
}

// SkinningStep throttles skinning updates of avatars at or beyond Distance to once every Interval frames.
type SkinningStep struct {
	Distance float64 `json:"distance"`
	Interval int     `json:"interval"`
}

type Options struct {
	FullDistance float64
	// MaxFullAvatars caps the Full tier. Zero means no cap.
	MaxFullAvatars int
	SkinningSteps  []SkinningStep
}

type tracked struct {
	id       string
	target   Target
	tier     Tier
	promoted uint64
}

// Controller is safe for concurrent use. Target methods are never called with the controller locked.
type Controller struct {
	opts Options

	updateMu sync.Mutex

	mu      sync.Mutex
	targets map[string]*tracked
	seq     uint64
}

func NewController(opts Options) *Controller {
	steps := slices.Clone(opts.SkinningSteps)
	slices.SortFunc(steps, func(a, b SkinningStep) int { return cmp.Compare(a.Distance, b.Distance) })
	opts.SkinningSteps = steps
	return &Controller{opts: opts, targets: map[string]*tracked{}}
}

// Register adds t as an Impostor. Registering an id again replaces the previous target.
func (c *Controller) Register(t Target) {
	id := t.ID()
	c.mu.Lock()
	c.targets[id] = &tracked{id: id, target: t, tier: TierImpostor}
	c.mu.Unlock()
	t.SetTier(TierImpostor)
}

func (c *Controller) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, id)
}

// Tier returns the current tier of id.
func (c *Controller) Tier(id string) (Tier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.targets[id]
	if !ok {
		return TierImpostor, false
	}
	return t.tier, true
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

type candidate struct {
	*tracked
	distance float64
}

// Update reassigns tiers from the current distance and visibility of every target.
func (c *Controller) Update(ctx context.Context) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	snapshot := make([]*tracked, 0, len(c.targets))
	for _, t := range c.targets {
		snapshot = append(snapshot, t)
	}
	c.mu.Unlock()

	var candidates []candidate
	for _, t := range snapshot {
		if !t.target.Visible() {
			continue
		}
		if d := t.target.Distance(); d <= c.opts.FullDistance {
			candidates = append(candidates, candidate{tracked: t, distance: d})
		}
	}

	c.mu.Lock()
	slices.SortFunc(candidates, func(a, b candidate) int {
		return cmp.Or(
			cmp.Compare(a.distance, b.distance),
			cmp.Compare(b.promoted, a.promoted),
			cmp.Compare(a.id, b.id),
		)
	})
	full := make(map[*tracked]bool, len(candidates))
	for i, cand := range candidates {
		if c.opts.MaxFullAvatars > 0 && i >= c.opts.MaxFullAvatars {
			break
		}
		full[cand.tracked] = true
	}

	type change struct {
		id     string
		target Target
		tier   Tier
	}
	var changes []change
	counts := map[Tier]int{}
	for _, t := range snapshot {
		if c.targets[t.id] != t {
			continue
		}
		tier := TierImpostor
		if full[t] {
			tier = TierFull
		}
		counts[tier]++
		if tier == t.tier {
			continue
		}
		if tier == TierFull {
			c.seq++
			t.promoted = c.seq
		}
		t.tier = tier
		changes = append(changes, change{id: t.id, target: t.target, tier: tier})
	}
	c.mu.Unlock()

	TierGauge.WithLabelValues(TierFull.String()).Set(float64(counts[TierFull]))
	TierGauge.WithLabelValues(TierImpostor.String()).Set(float64(counts[TierImpostor]))
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "lod"))
	for _, ch := range changes {
		TierTransitionCounterTotal.WithLabelValues(ch.tier.String()).Inc()
		logger.Log(ctx, slog.LevelDebug, "tier changed", slog.String("avatar", ch.id), slog.String("tier", ch.tier.String()))
		ch.target.SetTier(ch.tier)
	}
}

// SkinningInterval returns how many frames may pass between skinning updates of an avatar at distance.
func (c *Controller) SkinningInterval(distance float64) int {
	interval := 1
	for _, step := range c.opts.SkinningSteps {
		if distance < step.Distance {
			break
		}
		interval = max(step.Interval, 1)
	}
	return interval
}
