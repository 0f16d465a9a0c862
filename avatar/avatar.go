// Package avatar coordinates the loading of avatars: resolving wearables, loading their assets,
// combining them into one renderer and swapping the result in atomically.
//
// Each Avatar runs at most one load at a time. A new Load cancels the running one and waits
// until it has released everything it acquired before starting, so a superseded load can never
// publish its result. On failure the previously committed renderer stays in place.
package avatar

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/jeremaih2/avatarsystem/animation"
	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/assetcache"
	"github.com/jeremaih2/avatarsystem/combiner"
	"github.com/jeremaih2/avatarsystem/loader"
	"github.com/jeremaih2/avatarsystem/lod"
	"github.com/jeremaih2/avatarsystem/metrics"
	"github.com/jeremaih2/avatarsystem/resolver"
	"github.com/jeremaih2/avatarsystem/visibility"
)

var (
	ErrDisposed  = errors.New("avatar disposed")
	ErrCancelled = errors.New("avatar load cancelled")
)

// Resolver resolves wearable ids into an equip set.
type Resolver interface {
	Resolve(ctx context.Context, ids []string, bodyShapeID string) (*resolver.EquipSet, error)
}

// FragmentLoader loads the assets of an equip set.
type FragmentLoader interface {
	LoadFragments(ctx context.Context, set *resolver.EquipSet, bodyShapeID string, opts ...loader.Option) (*loader.Result, error)
}

type operation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Avatar is one avatar instance. It is safe for concurrent use.
type Avatar struct {
	id        string
	resolver  Resolver
	loader    FragmentLoader
	reporter  Reporter
	visible   *visibility.Set
	animation *animation.Controller

	mu          sync.Mutex
	status      Status
	err         error
	equip       *resolver.EquipSet
	renderer    *combiner.Renderer
	held        map[asset.ContentKey]*assetcache.Handle
	fingerprint digest.Digest
	inflight    *operation
	disposed    bool
	ready       chan struct{}
	readyClosed bool
	tier        lod.Tier
	distance    float64
}

var _ lod.Target = (*Avatar)(nil)

// New creates an idle avatar. A nil reporter disables status reports.
func New(id string, r Resolver, l FragmentLoader, reporter Reporter) *Avatar {
	a := &Avatar{
		id:        id,
		resolver:  r,
		loader:    l,
		reporter:  reporter,
		animation: animation.NewController(),
		held:      map[asset.ContentKey]*assetcache.Handle{},
		ready:     make(chan struct{}),
		tier:      lod.TierFull,
	}
	a.visible = visibility.New(func(bool) { a.applyActive() })
	return a
}

func (a *Avatar) ID() string {
	return a.id
}

// Load replaces the avatar's appearance with ids worn as described by settings.
// It returns once the new appearance is committed, the load failed or it was superseded.
// A request matching the committed appearance is a no-op.
func (a *Avatar) Load(ctx context.Context, ids []string, settings Settings) error {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "avatar"), slog.String("avatar", a.id))
	fp, err := Fingerprint(ids, settings)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	if a.inflight == nil && a.status == StatusReady && a.fingerprint == fp {
		a.mu.Unlock()
		LoadCounterTotal.WithLabelValues("noop").Inc()
		logger.Log(ctx, slog.LevelDebug, "appearance unchanged, skipping load", slog.String("fingerprint", fp.String()))
		return nil
	}
	opCtx, cancel := context.WithCancel(ctx)
	op := &operation{cancel: cancel, done: make(chan struct{})}
	prev := a.inflight
	a.inflight = op
	a.mu.Unlock()

	defer close(op.done)
	defer cancel()
	if prev != nil {
		logger.Log(ctx, slog.LevelDebug, "cancelling previous load")
		prev.cancel()
		<-prev.done
	}

	start := time.Now()
	err = a.run(opCtx, op, ids, settings, fp)
	switch {
	case err == nil:
		metrics.ObserveSince(LoadDurationHistogram, start)
		LoadCounterTotal.WithLabelValues("ready").Inc()
		logger.Log(ctx, slog.LevelDebug, "avatar ready", slog.Duration("duration", time.Since(start)))
	case errors.Is(err, ErrCancelled):
		LoadCounterTotal.WithLabelValues("cancelled").Inc()
		logger.Log(ctx, slog.LevelDebug, "avatar load cancelled")
	default:
		LoadCounterTotal.WithLabelValues("failed").Inc()
		logger.Log(ctx, slog.LevelWarn, "avatar load failed", slog.Any("error", err))
	}
	return err
}

func (a *Avatar) run(ctx context.Context, op *operation, ids []string, settings Settings, fp digest.Digest) error {
	if !a.enter(ctx, op, StatusResolving) {
		return a.cancelled(ctx, op)
	}
	set, err := a.resolver.Resolve(ctx, ids, settings.BodyShapeID)
	if err != nil {
		return a.fail(ctx, op, err)
	}

	if !a.enter(ctx, op, StatusLoading) {
		return a.cancelled(ctx, op)
	}
	a.mu.Lock()
	held := maps.Clone(a.held)
	a.mu.Unlock()
	res, err := a.loader.LoadFragments(ctx, set, settings.BodyShapeID, loader.WithHeld(held))
	if err != nil {
		return a.fail(ctx, op, err)
	}

	if !a.enter(ctx, op, StatusCombining) {
		res.Release()
		return a.cancelled(ctx, op)
	}
	renderer, clips, skeleton, err := combine(ctx, res.Fragments, set, settings)
	if err != nil {
		res.Release()
		return a.fail(ctx, op, err)
	}

	return a.commit(ctx, op, commit{
		set:         set,
		renderer:    renderer,
		skeleton:    skeleton,
		clips:       clips,
		handles:     res.Handles(),
		acquired:    res,
		fingerprint: fp,
	})
}

func combine(ctx context.Context, fragments []loader.Fragment, set *resolver.EquipSet, settings Settings) (*combiner.Renderer, []animation.Clip, *asset.Skeleton, error) {
	skeleton, err := combiner.BodySkeleton(fragments)
	if err != nil {
		return nil, nil, nil, err
	}
	renderer, err := combiner.Combine(ctx, skeleton, fragments, combiner.Options{
		Hidden: set.Hidden,
		Colors: settings.Colors(),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	var clips []animation.Clip
	for _, f := range fragments {
		if !f.Emote || len(f.Graph.Animations) == 0 {
			continue
		}
		loop := f.Wearable.Emote != nil && f.Wearable.Emote.Loop
		clips = append(clips, animation.NewClip(f.Wearable.ID, f.Graph.Animations[0], loop))
	}
	return renderer, clips, skeleton, nil
}

// enter moves to status if op is still the current load.
func (a *Avatar) enter(ctx context.Context, op *operation, status Status) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inflight != op || ctx.Err() != nil {
		return false
	}
	a.setStatus(status)
	return true
}

// setStatus must be called with a.mu held.
func (a *Avatar) setStatus(status Status) {
	a.status = status
	switch {
	case status == StatusReady && !a.readyClosed:
		close(a.ready)
		a.readyClosed = true
	case status != StatusReady && a.readyClosed:
		a.ready = make(chan struct{})
		a.readyClosed = false
	}
}

type commit struct {
	set         *resolver.EquipSet
	renderer    *combiner.Renderer
	skeleton    *asset.Skeleton
	clips       []animation.Clip
	handles     map[asset.ContentKey]*assetcache.Handle
	acquired    *loader.Result
	fingerprint digest.Digest
}

func (a *Avatar) commit(ctx context.Context, op *operation, c commit) error {
	a.mu.Lock()
	if a.inflight != op || ctx.Err() != nil {
		a.mu.Unlock()
		c.acquired.Release()
		return a.cancelled(ctx, op)
	}
	var stale []*assetcache.Handle
	for key, h := range a.held {
		if c.handles[key] != h {
			stale = append(stale, h)
		}
	}
	if err := a.animation.Bind(c.skeleton); err != nil {
		a.mu.Unlock()
		c.acquired.Release()
		return a.fail(ctx, op, err)
	}
	a.animation.Equip(c.clips...)

	a.held = c.handles
	a.equip = c.set
	a.renderer = c.renderer
	a.fingerprint = c.fingerprint
	a.err = nil
	a.inflight = nil
	a.setStatus(StatusReady)
	a.renderer.SetActive(a.tier == lod.TierFull && a.visible.Visible())
	a.mu.Unlock()

	for _, h := range stale {
		h.Release()
	}
	a.report(ctx, StatusReady, nil)
	return nil
}

// fail records err as the outcome of op. Cancellation never counts as failure.
func (a *Avatar) fail(ctx context.Context, op *operation, err error) error {
	if ctx.Err() != nil || errors.Is(err, loader.ErrCancelled) || errors.Is(err, assetcache.ErrCancelled) {
		return a.cancelled(ctx, op)
	}
	a.mu.Lock()
	if a.inflight != op {
		a.mu.Unlock()
		return a.cancelled(ctx, op)
	}
	a.inflight = nil
	a.err = err
	a.setStatus(StatusFailed)
	a.mu.Unlock()

	a.report(ctx, StatusFailed, err)
	return err
}

// cancelled ends op. An avatar still showing a committed appearance returns to Ready.
func (a *Avatar) cancelled(ctx context.Context, op *operation) error {
	a.mu.Lock()
	if a.inflight == op {
		a.inflight = nil
		if a.renderer != nil {
			a.setStatus(StatusReady)
		} else {
			a.setStatus(StatusCancelled)
		}
	}
	a.mu.Unlock()
	if err := context.Cause(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return ErrCancelled
}

func (a *Avatar) report(ctx context.Context, status Status, err error) {
	if a.reporter == nil {
		return
	}
	a.reporter.ReportStatus(context.WithoutCancel(ctx), a.id, status, err)
}

// Dispose cancels any running load, releases every held asset exactly once and clears the
// renderer. Later Loads fail with ErrDisposed.
func (a *Avatar) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	prev := a.inflight
	a.inflight = nil
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	a.mu.Lock()
	held := a.held
	a.held = map[asset.ContentKey]*assetcache.Handle{}
	if a.renderer != nil {
		a.renderer.SetActive(false)
	}
	a.renderer = nil
	a.equip = nil
	a.fingerprint = ""
	a.setStatus(StatusIdle)
	if !a.readyClosed {
		// wake WaitUntilReady callers so they observe the disposal
		close(a.ready)
		a.readyClosed = true
	}
	a.mu.Unlock()

	a.animation.Stop()
	for _, h := range held {
		h.Release()
	}
}

// WaitUntilReady blocks until the avatar is Ready, ctx ends or the avatar is disposed.
func (a *Avatar) WaitUntilReady(ctx context.Context) error {
	for {
		a.mu.Lock()
		disposed, status, ready := a.disposed, a.status, a.ready
		a.mu.Unlock()
		switch {
		case disposed:
			return ErrDisposed
		case status == StatusReady:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
}

func (a *Avatar) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err returns the error of the last failed load, if the avatar is in StatusFailed.
func (a *Avatar) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusFailed {
		return nil
	}
	return a.err
}

// Renderer returns the committed renderer, nil before the first successful load.
func (a *Avatar) Renderer() *combiner.Renderer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renderer
}

// EquipSet returns the committed equip set.
func (a *Avatar) EquipSet() *resolver.EquipSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.equip
}

// HeldKeys returns the content keys the avatar holds references on, sorted by hash.
func (a *Avatar) HeldKeys() []asset.ContentKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.SortedFunc(maps.Keys(a.held), func(x, y asset.ContentKey) int {
		return cmp.Compare(x.Hash, y.Hash)
	})
}

func (a *Avatar) AddVisibilityConstraint(name string) {
	a.visible.Add(name)
}

func (a *Avatar) RemoveVisibilityConstraint(name string) {
	a.visible.Remove(name)
}

// VisibilityConstraints returns the active visibility constraints.
func (a *Avatar) VisibilityConstraints() []string {
	return a.visible.Active()
}

// PlayEmote plays an equipped emote. Repeating the last (id, timestamp) trigger does nothing.
func (a *Avatar) PlayEmote(id string, timestamp int64) (bool, error) {
	return a.animation.PlayEmote(id, timestamp)
}

// Animation exposes the emote controller bound to the committed skeleton.
func (a *Avatar) Animation() *animation.Controller {
	return a.animation
}

func (a *Avatar) Visible() bool {
	return a.visible.Visible()
}

func (a *Avatar) Distance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.distance
}

// SetDistance records the distance of the avatar to the camera.
func (a *Avatar) SetDistance(d float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.distance = d
}

func (a *Avatar) Tier() lod.Tier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tier
}

// SetTier switches the avatar between full rendering and impostor without reloading it.
func (a *Avatar) SetTier(t lod.Tier) {
	a.mu.Lock()
	a.tier = t
	a.mu.Unlock()
	a.applyActive()
}

func (a *Avatar) applyActive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.renderer != nil {
		a.renderer.SetActive(a.visible.Visible() && a.tier == lod.TierFull)
	}
}
