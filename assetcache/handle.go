package assetcache

import (
	"sync/atomic"

	"github.com/jeremaih2/avatarsystem/asset"
)

// Handle is one reference on a cached graph. Release is idempotent.
type Handle struct {
	cache    *Cache
	key      asset.ContentKey
	graph    *asset.Graph
	released atomic.Bool
}

func (h *Handle) Key() asset.ContentKey {
	return h.key
}

// Graph returns the shared graph. It must not be modified and must not be used after Release.
func (h *Handle) Graph() *asset.Graph {
	return h.graph
}

// Release gives the reference back to the cache. Only the first call has an effect.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.cache.release(h.key)
}

func (h *Handle) Released() bool {
	return h.released.Load()
}
