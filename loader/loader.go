// Package loader acquires the asset graphs of an equip set from the asset cache.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/assetcache"
	"github.com/jeremaih2/avatarsystem/metrics"
	"github.com/jeremaih2/avatarsystem/resolver"
	"github.com/jeremaih2/avatarsystem/wearable"
)

var (
	ErrLoadFailed = errors.New("failed to load wearable assets")
	ErrCancelled  = errors.New("wearable asset load cancelled")
)

// LoadError reports the first wearable whose asset could not be loaded.
type LoadError struct {
	WearableID string
	Key        asset.ContentKey
	Err        error
}

func (e *LoadError) Error() string {
	if e.Key.IsZero() {
		return fmt.Sprintf("%s: wearable %s: %v", ErrLoadFailed, e.WearableID, e.Err)
	}
	return fmt.Sprintf("%s: wearable %s (%s): %v", ErrLoadFailed, e.WearableID, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

// Acquirer hands out references on imported graphs.
type Acquirer interface {
	Acquire(ctx context.Context, key asset.ContentKey) (*assetcache.Handle, error)
}

// Fragment is the loaded asset of one equipped wearable.
type Fragment struct {
	Wearable *wearable.Descriptor
	Key      asset.ContentKey
	Graph    *asset.Graph
	// Handle keeps Graph alive. Fragments sharing a key share the handle.
	Handle *assetcache.Handle
	Emote  bool
}

// Result is the outcome of a successful LoadFragments call.
type Result struct {
	// Fragments are ordered body shape first, then wearables, then emotes.
	Fragments []Fragment
	// Acquired are the handles taken by this call. The caller owns them.
	Acquired map[asset.ContentKey]*assetcache.Handle
	// Reused are the held handles the fragments depend on.
	Reused map[asset.ContentKey]*assetcache.Handle
}

// Handles returns every handle the fragments depend on, acquired or reused.
func (r *Result) Handles() map[asset.ContentKey]*assetcache.Handle {
	out := make(map[asset.ContentKey]*assetcache.Handle, len(r.Acquired)+len(r.Reused))
	for k, h := range r.Reused {
		out[k] = h
	}
	for k, h := range r.Acquired {
		out[k] = h
	}
	return out
}

// Release releases the handles acquired by the call that produced r.
func (r *Result) Release() {
	for _, h := range r.Acquired {
		h.Release()
	}
}

type Options struct {
	// Concurrency bounds the acquisitions of one call. Zero means unbounded.
	Concurrency int
}

type Loader struct {
	cache Acquirer
	opts  Options
}

func New(cache Acquirer, opts Options) *Loader {
	return &Loader{cache: cache, opts: opts}
}

type loadOptions struct {
	held map[asset.ContentKey]*assetcache.Handle
}

type Option func(*loadOptions)

// WithHeld passes handles the caller already owns. Their keys are reused instead of acquired again.
func WithHeld(held map[asset.ContentKey]*assetcache.Handle) Option {
	return func(o *loadOptions) {
		o.held = held
	}
}

type slot struct {
	wearableID string
	key        asset.ContentKey
	handle     *assetcache.Handle
}

// LoadFragments acquires the graph of every wearable in set. It fails on the first error and
// releases whatever it acquired before returning, on failure as well as on cancellation.
func (l *Loader) LoadFragments(ctx context.Context, set *resolver.EquipSet, bodyShapeID string, opts ...Option) (_ *Result, err error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "loader"))
	start := time.Now()
	defer func() {
		metrics.ObserveSince(LoadDurationHistogram, start)
		if err != nil {
			LoadFailureCounterTotal.Inc()
		}
	}()

	type part struct {
		desc  *wearable.Descriptor
		key   asset.ContentKey
		emote bool
	}
	var parts []part
	for _, d := range equipOrder(set) {
		key, err := d.ContentKey(bodyShapeID)
		if err != nil {
			return nil, &LoadError{WearableID: d.ID, Err: err}
		}
		parts = append(parts, part{desc: d, key: key, emote: d.IsEmote()})
	}

	result := &Result{
		Acquired: map[asset.ContentKey]*assetcache.Handle{},
		Reused:   map[asset.ContentKey]*assetcache.Handle{},
	}
	var slots []*slot
	index := map[asset.ContentKey]*slot{}
	for _, p := range parts {
		if h, ok := o.held[p.key]; ok && h != nil && !h.Released() {
			result.Reused[p.key] = h
			continue
		}
		if _, ok := index[p.key]; ok {
			continue
		}
		s := &slot{wearableID: p.desc.ID, key: p.key}
		index[p.key] = s
		slots = append(slots, s)
	}

	eg, egctx := errgroup.WithContext(ctx)
	if l.opts.Concurrency > 0 {
		eg.SetLimit(l.opts.Concurrency)
	}
	for _, s := range slots {
		eg.Go(func() error {
			h, err := l.cache.Acquire(egctx, s.key)
			if err != nil {
				return &LoadError{WearableID: s.wearableID, Key: s.key, Err: err}
			}
			s.handle = h
			return nil
		})
	}
	waitErr := eg.Wait()

	releaseAll := func() {
		for _, s := range slots {
			s.handle.Release()
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		releaseAll()
		logger.Log(ctx, slog.LevelDebug, "load cancelled", slog.Int("acquired", len(slots)))
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}
	if waitErr != nil {
		releaseAll()
		logger.Log(ctx, slog.LevelWarn, "load failed", slog.Any("error", waitErr))
		return nil, waitErr
	}

	for _, s := range slots {
		result.Acquired[s.key] = s.handle
	}
	handles := result.Handles()
	for _, p := range parts {
		result.Fragments = append(result.Fragments, Fragment{
			Wearable: p.desc,
			Key:      p.key,
			Graph:    handles[p.key].Graph(),
			Handle:   handles[p.key],
			Emote:    p.emote,
		})
	}
	logger.Log(ctx, slog.LevelDebug, "loaded fragments",
		slog.Int("fragments", len(result.Fragments)),
		slog.Int("acquired", len(result.Acquired)),
		slog.Int("reused", len(result.Reused)),
	)
	return result, nil
}

func equipOrder(set *resolver.EquipSet) []*wearable.Descriptor {
	out := make([]*wearable.Descriptor, 0, 1+len(set.Wearables)+len(set.Emotes))
	if set.BodyShape != nil {
		out = append(out, set.BodyShape)
	}
	out = append(out, set.Wearables...)
	return append(out, set.Emotes...)
}
