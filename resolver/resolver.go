// Package resolver turns a list of wearable ids into the equip set an avatar is built from.
//
// Resolution validates every id against the catalog, enforces the body shape, and resolves
// hide and duplicate-category conflicts:
//
//   - wearables are considered in input order; a later wearable of the same category wins.
//   - a wearable whose category is already hidden by an earlier one hides nothing itself.
//   - the body shape is always present and never hidden.
//   - emotes are collected separately and take no part in conflict resolution.
//
// Resolve is deterministic for a given catalog snapshot.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/jeremaih2/avatarsystem/catalog"
	"github.com/jeremaih2/avatarsystem/metrics"
	"github.com/jeremaih2/avatarsystem/wearable"
)

const DefaultFetchConcurrency = 8

var (
	ErrUnknownWearable       = errors.New("unknown wearable")
	ErrIncompatibleBodyShape = errors.New("incompatible body shape")
)

// UnknownWearableError reports an id the catalog does not know.
type UnknownWearableError struct {
	ID string
}

func (e *UnknownWearableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownWearable, e.ID)
}

func (e *UnknownWearableError) Is(target error) bool {
	return target == ErrUnknownWearable
}

// EquipSet is the validated, conflict free result of a resolution.
type EquipSet struct {
	BodyShape *wearable.Descriptor
	// Wearables are the surviving wearables in input order, excluding the body shape.
	Wearables []*wearable.Descriptor
	Emotes    []*wearable.Descriptor
	// Hidden is the accumulated set of hidden categories.
	Hidden wearable.CategorySet
}

// IDs returns the ids of the body shape and every wearable in equip order.
func (s *EquipSet) IDs() []string {
	ids := make([]string, 0, 1+len(s.Wearables))
	if s.BodyShape != nil {
		ids = append(ids, s.BodyShape.ID)
	}
	for _, w := range s.Wearables {
		ids = append(ids, w.ID)
	}
	return ids
}

// EmoteIDs returns the ids of the equipped emotes.
func (s *EquipSet) EmoteIDs() []string {
	ids := make([]string, 0, len(s.Emotes))
	for _, e := range s.Emotes {
		ids = append(ids, e.ID)
	}
	return ids
}

// Covers reports whether category c is hidden or occupied by an equipped wearable.
func (s *EquipSet) Covers(c wearable.Category) bool {
	if s.Hidden.Has(c) {
		return true
	}
	return slices.ContainsFunc(s.Wearables, func(d *wearable.Descriptor) bool { return d.Category == c })
}

type Options struct {
	// FetchConcurrency bounds the concurrent catalog lookups of one resolution.
	FetchConcurrency int
}

// Resolver resolves wearable ids through a catalog.
type Resolver struct {
	catalog catalog.Catalog
	opts    Options
}

func New(c catalog.Catalog, opts Options) *Resolver {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	return &Resolver{catalog: c, opts: opts}
}

// Resolve builds the equip set for ids worn on the body shape bodyShapeID.
// The body shape is fetched even when ids does not contain it.
func (r *Resolver) Resolve(ctx context.Context, ids []string, bodyShapeID string) (_ *EquipSet, err error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "resolver"))
	start := time.Now()
	defer func() {
		metrics.ObserveSince(ResolveDurationHistogram, start)
		if err != nil {
			ResolveFailureCounterTotal.Inc()
		}
	}()

	if bodyShapeID == "" {
		return nil, fmt.Errorf("%w: no body shape given", ErrIncompatibleBodyShape)
	}
	ordered := dedupeKeepLast(append([]string{bodyShapeID}, ids...))
	descriptors, err := r.fetch(ctx, ordered)
	if err != nil {
		return nil, err
	}

	set := &EquipSet{}
	var candidates []*wearable.Descriptor
	for _, d := range descriptors {
		if d.ID == bodyShapeID {
			if d.Category != wearable.CategoryBodyShape || !d.SupportsBodyShape(bodyShapeID) {
				return nil, fmt.Errorf("%w: %s", ErrIncompatibleBodyShape, bodyShapeID)
			}
			set.BodyShape = d
			continue
		}
		if d.Category == wearable.CategoryBodyShape {
			logger.Log(ctx, slog.LevelDebug, "dropping additional body shape", slog.String("id", d.ID))
			continue
		}
		if !d.SupportsBodyShape(bodyShapeID) {
			logger.Log(ctx, slog.LevelDebug, "dropping wearable without representation for body shape",
				slog.String("id", d.ID), slog.String("bodyShape", bodyShapeID))
			continue
		}
		if d.IsEmote() {
			set.Emotes = append(set.Emotes, d)
			continue
		}
		candidates = append(candidates, d)
	}

	set.Hidden = HiddenCategories(candidates, bodyShapeID)
	set.Wearables = visibleWearables(candidates, set.Hidden)

	logger.Log(ctx, slog.LevelDebug, "resolved equip set",
		slog.String("bodyShape", bodyShapeID),
		slog.Any("wearables", set.IDs()),
		slog.Any("hidden", set.Hidden.Sorted()),
		slog.Int("emotes", len(set.Emotes)),
	)
	return set, nil
}

// fetch looks up every id concurrently, keeping input order in the result.
func (r *Resolver) fetch(ctx context.Context, ids []string) ([]*wearable.Descriptor, error) {
	descriptors := make([]*wearable.Descriptor, len(ids))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.FetchConcurrency)
	for i, id := range ids {
		eg.Go(func() error {
			d, err := r.catalog.GetDescriptor(egctx, id)
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				return &UnknownWearableError{ID: id}
			case err != nil:
				return fmt.Errorf("failed to look up wearable %s: %w", id, err)
			case d == nil:
				return &UnknownWearableError{ID: id}
			}
			descriptors[i] = d
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return descriptors, nil
}

// HiddenCategories accumulates the categories hidden by wearables in priority order.
// A wearable whose own category is already hidden contributes nothing.
// The body shape category is never part of the result.
func HiddenCategories(wearables []*wearable.Descriptor, bodyShapeID string) wearable.CategorySet {
	hidden := wearable.NewCategorySet()
	for _, w := range wearables {
		if hidden.Has(w.Category) {
			continue
		}
		hidden.Add(w.HidesList(bodyShapeID)...)
	}
	return hidden
}

// visibleWearables drops hidden categories and keeps the last wearable of each category,
// preserving input order.
func visibleWearables(wearables []*wearable.Descriptor, hidden wearable.CategorySet) []*wearable.Descriptor {
	last := make(map[wearable.Category]int, len(wearables))
	for i, w := range wearables {
		last[w.Category] = i
	}
	out := make([]*wearable.Descriptor, 0, len(wearables))
	for i, w := range wearables {
		if hidden.Has(w.Category) || last[w.Category] != i {
			continue
		}
		out = append(out, w)
	}
	return out
}

// dedupeKeepLast removes empty and repeated ids, keeping each id at its last position.
func dedupeKeepLast(ids []string) []string {
	last := make(map[string]int, len(ids))
	for i, id := range ids {
		last[id] = i
	}
	out := make([]string, 0, len(last))
	for i, id := range ids {
		if id == "" || last[id] != i {
			continue
		}
		out = append(out, id)
	}
	return out
}
