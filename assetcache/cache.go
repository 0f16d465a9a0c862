// Package assetcache shares imported asset graphs between avatars.
//
// Entries are keyed by content key and reference counted. At most one import per key is in
// flight at any time: concurrent Acquires of a key that is still importing wait for the same
// import and each receive their own Handle once it completes.
//
// An entry without references and without waiters is evictable. Evictable entries are destroyed
// right away, or, with a positive ReclaimCapacity, parked in an LRU and destroyed when the LRU
// overflows or Reclaim is called. Acquiring a parked entry revives it without importing again.
//
// All reference count mutation happens under the cache mutex. Unload hooks of the importer run
// outside of it.
package assetcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/semaphore"

	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/metrics"
)

const DefaultImportConcurrency = 4

var (
	ErrImportFailed = errors.New("asset import failed")
	ErrCancelled    = errors.New("asset acquisition cancelled")
	ErrClosed       = errors.New("asset cache closed")
	ErrInvalidKey   = errors.New("invalid content key")
)

// ImportError is returned to every waiter of a failed import.
type ImportError struct {
	Key asset.ContentKey
	Err error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrImportFailed, e.Key, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func (e *ImportError) Is(target error) bool {
	return target == ErrImportFailed
}

type Options struct {
	// ImportConcurrency bounds the number of imports running at once.
	ImportConcurrency int
	// ReclaimCapacity is the number of unreferenced entries kept for reuse.
	// Zero destroys entries as soon as their last reference is released.
	ReclaimCapacity int
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Entries   int
	Parked    int
	InFlight  int
	Hits      uint64
	Misses    uint64
	Shares    uint64
	Failures  uint64
	Evictions uint64
}

type entry struct {
	key   asset.ContentKey
	ready chan struct{}
	done  bool
	graph *asset.Graph
	err   error

	refs    int
	waiters int

	// parked entries sit in the reclaim LRU. gen invalidates stale LRU tokens.
	parked bool
	gen    uint64
}

type parkToken struct {
	entry *entry
	gen   uint64
}

// Cache is a content addressed, reference counted store of imported graphs.
type Cache struct {
	importer asset.Importer
	unloader asset.Unloader
	sem      *semaphore.Weighted
	opts     Options

	// ctx scopes imports. It is independent of the callers waiting for an import.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[asset.ContentKey]*entry
	parked  *lru.Cache[asset.ContentKey, parkToken]
	doomed  []*entry
	closed  bool
	stats   Stats
}

// New creates a cache importing through importer. ctx carries the logger of the imports and
// bounds their lifetime together with Close.
func New(ctx context.Context, importer asset.Importer, opts Options) (*Cache, error) {
	if importer == nil {
		return nil, errors.New("asset cache requires an importer")
	}
	if opts.ImportConcurrency <= 0 {
		opts.ImportConcurrency = DefaultImportConcurrency
	}
	if opts.ReclaimCapacity < 0 {
		return nil, fmt.Errorf("reclaim capacity must not be negative, got %d", opts.ReclaimCapacity)
	}

	c := &Cache{
		importer: importer,
		sem:      semaphore.NewWeighted(int64(opts.ImportConcurrency)),
		opts:     opts,
		entries:  make(map[asset.ContentKey]*entry),
	}
	c.unloader, _ = importer.(asset.Unloader)
	c.ctx, c.cancel = context.WithCancel(ctx)

	if opts.ReclaimCapacity > 0 {
		parked, err := lru.NewWithEvict(opts.ReclaimCapacity, c.onEvict)
		if err != nil {
			return nil, fmt.Errorf("failed to create reclaim pool: %w", err)
		}
		c.parked = parked
	}
	return c, nil
}

// Acquire returns a handle on the graph of key, importing it if no entry exists.
// Every successful Acquire must be paired with one Handle.Release.
func (c *Cache) Acquire(ctx context.Context, key asset.ContentKey) (*Handle, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCancelled, key, err)
	}
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "cache"))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	switch {
	case !ok:
		e = &entry{key: key, ready: make(chan struct{})}
		c.entries[key] = e
		c.stats.Misses++
		CacheMissCounterTotal.Inc()
		c.wg.Add(1)
		go c.load(e)
		logger.Log(ctx, slog.LevelDebug, "importing asset", slog.String("key", key.String()))
	case e.done:
		c.stats.Hits++
		CacheHitCounterTotal.Inc()
		c.unpark(e)
	default:
		c.stats.Shares++
		CacheShareCounterTotal.Inc()
	}
	e.waiters++
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		e.waiters--
		c.settle(e)
		doomed := c.takeDoomed()
		c.mu.Unlock()
		c.destroy(doomed)
		logger.Log(ctx, slog.LevelDebug, "asset acquisition cancelled", slog.String("key", key.String()))
		return nil, fmt.Errorf("%w: %s: %w", ErrCancelled, key, ctx.Err())
	case <-e.ready:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e.waiters--
	if e.err != nil {
		return nil, &ImportError{Key: key, Err: e.err}
	}
	e.refs++
	return &Handle{cache: c, key: key, graph: e.graph}, nil
}

func (c *Cache) load(e *entry) {
	defer c.wg.Done()
	logger := slogcontext.FromCtx(c.ctx).With(slog.String("realm", "cache"))

	InFlightGauge.Inc()
	start := time.Now()
	graph, err := c.importOne(e.key)
	metrics.ObserveSince(ImportDurationHistogram, start)
	InFlightGauge.Dec()

	c.mu.Lock()
	e.graph, e.err, e.done = graph, err, true
	close(e.ready)
	if err != nil {
		c.stats.Failures++
		CacheImportFailureCounterTotal.Inc()
		if c.entries[e.key] == e {
			delete(c.entries, e.key)
		}
		logger.Log(c.ctx, slog.LevelWarn, "asset import failed", slog.String("key", e.key.String()), slog.Any("error", err))
	} else {
		EntriesGauge.Inc()
		c.settle(e)
	}
	doomed := c.takeDoomed()
	c.mu.Unlock()
	c.destroy(doomed)
}

func (c *Cache) importOne(key asset.ContentKey) (*asset.Graph, error) {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	graph, err := c.importer.Import(c.ctx, key)
	if err == nil && graph == nil {
		err = errors.New("importer returned no graph")
	}
	return graph, err
}

func (c *Cache) release(key asset.ContentKey) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.refs == 0 {
		c.mu.Unlock()
		return
	}
	e.refs--
	c.settle(e)
	doomed := c.takeDoomed()
	c.mu.Unlock()
	c.destroy(doomed)
}

// settle parks or dooms e once nobody references or waits for it. Must be called with c.mu held.
func (c *Cache) settle(e *entry) {
	if !e.done || e.err != nil || e.refs > 0 || e.waiters > 0 || e.parked || c.entries[e.key] != e {
		return
	}
	if c.parked == nil || c.closed {
		c.doom(e)
		return
	}
	e.parked = true
	e.gen++
	c.parked.Add(e.key, parkToken{entry: e, gen: e.gen})
}

// unpark revives a parked entry. Must be called with c.mu held.
func (c *Cache) unpark(e *entry) {
	if !e.parked {
		return
	}
	e.parked = false
	c.parked.Remove(e.key)
}

// onEvict is called by the reclaim LRU, always from a method invoked with c.mu held.
func (c *Cache) onEvict(key asset.ContentKey, tok parkToken) {
	e := tok.entry
	if !e.parked || e.gen != tok.gen || c.entries[key] != e {
		return
	}
	e.parked = false
	c.doom(e)
}

// doom removes e from the cache. Must be called with c.mu held.
func (c *Cache) doom(e *entry) {
	delete(c.entries, e.key)
	c.doomed = append(c.doomed, e)
	c.stats.Evictions++
}

func (c *Cache) takeDoomed() []*entry {
	doomed := c.doomed
	c.doomed = nil
	return doomed
}

// destroy runs the unload hooks of doomed entries. Must be called without c.mu held.
func (c *Cache) destroy(doomed []*entry) {
	for _, e := range doomed {
		CacheEvictionCounterTotal.Inc()
		EntriesGauge.Dec()
		if c.unloader != nil {
			c.unloader.Unload(e.key, e.graph)
		}
	}
	if len(doomed) > 0 {
		slogcontext.FromCtx(c.ctx).With(slog.String("realm", "cache")).
			Log(c.ctx, slog.LevelDebug, "destroyed assets", slog.Int("count", len(doomed)))
	}
}

// Reclaim destroys every parked entry and returns how many were destroyed.
func (c *Cache) Reclaim() int {
	c.mu.Lock()
	if c.parked != nil {
		c.parked.Purge()
	}
	doomed := c.takeDoomed()
	c.mu.Unlock()
	c.destroy(doomed)
	return len(doomed)
}

// Close cancels in-flight imports, waits for them and destroys every unreferenced entry.
// Entries still referenced stay valid until released and are destroyed on release.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.Reclaim()
	return nil
}

// RefCount returns the number of live handles on key.
func (c *Cache) RefCount(key asset.ContentKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Evictable reports whether key has an imported entry that nobody references or waits for.
func (c *Cache) Evictable(key asset.ContentKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.done && e.err == nil && e.refs == 0 && e.waiters == 0
}

// Contains reports whether key has an entry, imported or in flight.
func (c *Cache) Contains(key asset.ContentKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of entries, including in-flight imports and parked entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	for _, e := range c.entries {
		if !e.done {
			s.InFlight++
		}
	}
	if c.parked != nil {
		s.Parked = c.parked.Len()
	}
	return s
}
