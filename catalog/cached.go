package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/singleflight"

	"github.com/jeremaih2/avatarsystem/wearable"
)

// Cached memoizes descriptors of another catalog in an expiring LRU.
// Concurrent lookups of the same id share one fetch. Failed lookups are not cached.
type Cached struct {
	next  Catalog
	cache *expirable.LRU[string, *wearable.Descriptor]
	sf    singleflight.Group
}

var _ Catalog = (*Cached)(nil)

// NewCached wraps next. A size of 0 means unlimited, a ttl of 0 means entries never expire.
func NewCached(next Catalog, size int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, *wearable.Descriptor](size, nil, ttl),
	}
}

func (c *Cached) GetDescriptor(ctx context.Context, id string) (*wearable.Descriptor, error) {
	if d, ok := c.cache.Get(id); ok {
		CacheHitCounterTotal.Inc()
		return d, nil
	}
	CacheMissCounterTotal.Inc()

	// the fetch outlives a cancelled caller so that callers sharing it are not failed along with it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(id, func() (any, error) {
		if d, ok := c.cache.Get(id); ok {
			return d, nil
		}
		d, err := c.next.GetDescriptor(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		c.cache.Add(id, d)
		return d, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			CacheShareCounterTotal.Inc()
		}
		if res.Err != nil {
			slogcontext.FromCtx(ctx).With(slog.String("realm", "catalog")).
				Log(ctx, slog.LevelDebug, "descriptor lookup failed", slog.String("id", id), slog.Any("error", res.Err))
			return nil, res.Err
		}
		return res.Val.(*wearable.Descriptor), nil
	}
}

// Invalidate drops id from the cache.
func (c *Cached) Invalidate(id string) {
	c.cache.Remove(id)
}

// Purge drops every cached descriptor.
func (c *Cached) Purge() {
	c.cache.Purge()
}

func (c *Cached) Len() int {
	return c.cache.Len()
}
