package assetcache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/assetcache"
)

var (
	keyA = asset.NewContentKey("https://peer/", "QmA")
	keyB = asset.NewContentKey("https://peer/", "QmB")
	keyC = asset.NewContentKey("https://peer/", "QmC")
)

type fakeImporter struct {
	mu      sync.Mutex
	imports map[asset.ContentKey]int
	unloads map[asset.ContentKey]int
	gate    chan struct{}
	err     error
}

func newFakeImporter() *fakeImporter {
	return &fakeImporter{
		imports: map[asset.ContentKey]int{},
		unloads: map[asset.ContentKey]int{},
	}
}

func (f *fakeImporter) Import(ctx context.Context, key asset.ContentKey) (*asset.Graph, error) {
	f.mu.Lock()
	f.imports[key]++
	gate, err := f.gate, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &asset.Graph{Meshes: []asset.Mesh{{Name: key.Hash}}}, nil
}

func (f *fakeImporter) Unload(key asset.ContentKey, _ *asset.Graph) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads[key]++
}

func (f *fakeImporter) importCount(key asset.ContentKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imports[key]
}

func (f *fakeImporter) unloadCount(key asset.ContentKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads[key]
}

func newCache(t *testing.T, importer asset.Importer, opts assetcache.Options) *assetcache.Cache {
	t.Helper()
	c, err := assetcache.New(t.Context(), importer, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConcurrentAcquireImportsOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := require.New(t)
		importer := newFakeImporter()
		importer.gate = make(chan struct{})
		c := newCache(t, importer, assetcache.Options{ReclaimCapacity: 4})

		const n = 8
		handles := make([]*assetcache.Handle, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handles[i], errs[i] = c.Acquire(t.Context(), keyA)
			}()
		}
		synctest.Wait()

		r.Equal(1, importer.importCount(keyA))
		stats := c.Stats()
		r.Equal(1, stats.InFlight)
		r.EqualValues(1, stats.Misses)
		r.EqualValues(n-1, stats.Shares)
		r.Equal(0, c.RefCount(keyA))

		close(importer.gate)
		wg.Wait()

		for i := range n {
			r.NoError(errs[i])
			r.Same(handles[0].Graph(), handles[i].Graph())
		}
		r.Equal(n, c.RefCount(keyA))

		for _, h := range handles[:n-1] {
			h.Release()
		}
		r.Equal(1, c.RefCount(keyA))
		r.False(c.Evictable(keyA))

		handles[n-1].Release()
		r.Equal(0, c.RefCount(keyA))
		r.True(c.Evictable(keyA))
		r.Equal(0, importer.unloadCount(keyA))

		r.Equal(1, c.Reclaim())
		r.Equal(1, importer.unloadCount(keyA))
		r.Equal(0, c.Len())
		r.Equal(1, importer.importCount(keyA))
	})
}

func TestImmediateDestroy(t *testing.T) {
	r := require.New(t)
	importer := newFakeImporter()
	c := newCache(t, importer, assetcache.Options{})

	h, err := c.Acquire(t.Context(), keyA)
	r.NoError(err)
	r.Equal(keyA, h.Key())
	r.Equal(1, c.Len())

	h.Release()
	r.Equal(0, c.Len())
	r.Equal(1, importer.unloadCount(keyA))

	h, err = c.Acquire(t.Context(), keyA)
	r.NoError(err)
	r.Equal(2, importer.importCount(keyA))
	h.Release()
	r.Equal(2, importer.unloadCount(keyA))
}

func TestReacquireParkedEntry(t *testing.T) {
	r := require.New(t)
	importer := newFakeImporter()
	c := newCache(t, importer, assetcache.Options{ReclaimCapacity: 2})

	h, err := c.Acquire(t.Context(), keyA)
	r.NoError(err)
	h.Release()
	r.True(c.Evictable(keyA))
	r.Equal(1, c.Stats().Parked)

	h, err = c.Acquire(t.Context(), keyA)
	r.NoError(err)
	r.Equal(1, importer.importCount(keyA))
	r.False(c.Evictable(keyA))
	r.Equal(0, c.Stats().Parked)
	r.EqualValues(1, c.Stats().Hits)

	r.Equal(0, c.Reclaim())
	r.Equal(0, importer.unloadCount(keyA))
	h.Release()
	r.Equal(1, c.Reclaim())
	r.Equal(1, importer.unloadCount(keyA))
}

func TestReclaimOverflowDestroysLeastRecentlyReleased(t *testing.T) {
	r := require.New(t)
	importer := newFakeImporter()
	c := newCache(t, importer, assetcache.Options{ReclaimCapacity: 2})

	var handles []*assetcache.Handle
	for _, key := range []asset.ContentKey{keyA, keyB, keyC} {
		h, err := c.Acquire(t.Context(), key)
		r.NoError(err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		h.Release()
	}

	r.Equal(1, importer.unloadCount(keyA))
	r.Equal(0, importer.unloadCount(keyB))
	r.Equal(0, importer.unloadCount(keyC))
	r.False(c.Contains(keyA))
	r.True(c.Contains(keyB))
	r.True(c.Contains(keyC))
	r.EqualValues(1, c.Stats().Evictions)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := require.New(t)
	c := newCache(t, newFakeImporter(), assetcache.Options{ReclaimCapacity: 1})

	h1, err := c.Acquire(t.Context(), keyA)
	r.NoError(err)
	h2, err := c.Acquire(t.Context(), keyA)
	r.NoError(err)
	r.Equal(2, c.RefCount(keyA))

	h1.Release()
	h1.Release()
	r.True(h1.Released())
	r.Equal(1, c.RefCount(keyA))

	h2.Release()
	r.Equal(0, c.RefCount(keyA))
}

func TestImportFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := require.New(t)
		boom := errors.New("corrupt file")
		importer := newFakeImporter()
		importer.gate = make(chan struct{})
		importer.err = boom
		c := newCache(t, importer, assetcache.Options{})

		errs := make([]error, 3)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = c.Acquire(t.Context(), keyA)
			}()
		}
		synctest.Wait()
		close(importer.gate)
		wg.Wait()

		for _, err := range errs {
			r.ErrorIs(err, assetcache.ErrImportFailed)
			r.ErrorIs(err, boom)
			var importErr *assetcache.ImportError
			r.ErrorAs(err, &importErr)
			r.Equal(keyA, importErr.Key)
		}
		r.Equal(0, c.Len())
		r.EqualValues(1, c.Stats().Failures)

		importer.mu.Lock()
		importer.err = nil
		importer.mu.Unlock()
		h, err := c.Acquire(t.Context(), keyA)
		r.NoError(err)
		r.Equal(2, importer.importCount(keyA))
		h.Release()
	})
}

func TestCancelledWaiter(t *testing.T) {
	t.Run("other waiters keep waiting", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			r := require.New(t)
			importer := newFakeImporter()
			importer.gate = make(chan struct{})
			c := newCache(t, importer, assetcache.Options{})

			ctx, cancel := context.WithCancel(t.Context())
			cancelled := make(chan error, 1)
			var h *assetcache.Handle
			var err error
			var wg sync.WaitGroup
			go func() {
				_, err := c.Acquire(ctx, keyA)
				cancelled <- err
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err = c.Acquire(t.Context(), keyA)
			}()
			synctest.Wait()

			cancel()
			cancelledErr := <-cancelled
			r.ErrorIs(cancelledErr, assetcache.ErrCancelled)
			r.ErrorIs(cancelledErr, context.Canceled)
			r.Equal(0, c.RefCount(keyA))

			close(importer.gate)
			wg.Wait()
			r.NoError(err)
			r.Equal(1, c.RefCount(keyA))
			h.Release()
			r.Equal(0, c.Len())
		})
	})

	t.Run("import finishing without waiters is destroyed", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			r := require.New(t)
			importer := newFakeImporter()
			importer.gate = make(chan struct{})
			c := newCache(t, importer, assetcache.Options{})

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan error)
			go func() {
				_, err := c.Acquire(ctx, keyA)
				done <- err
			}()
			synctest.Wait()
			cancel()
			r.ErrorIs(<-done, assetcache.ErrCancelled)
			r.True(c.Contains(keyA))

			close(importer.gate)
			synctest.Wait()
			r.False(c.Contains(keyA))
			r.Equal(1, importer.unloadCount(keyA))
		})
	})

	t.Run("cancelled before acquiring", func(t *testing.T) {
		r := require.New(t)
		importer := newFakeImporter()
		c := newCache(t, importer, assetcache.Options{})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := c.Acquire(ctx, keyA)
		r.ErrorIs(err, assetcache.ErrCancelled)
		r.Equal(0, importer.importCount(keyA))
	})
}

func TestClose(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := require.New(t)
		importer := newFakeImporter()
		importer.gate = make(chan struct{})
		c, err := assetcache.New(t.Context(), importer, assetcache.Options{ReclaimCapacity: 2})
		r.NoError(err)

		done := make(chan error)
		go func() {
			_, err := c.Acquire(t.Context(), keyA)
			done <- err
		}()
		synctest.Wait()

		r.NoError(c.Close())
		err = <-done
		r.ErrorIs(err, assetcache.ErrImportFailed)
		r.ErrorIs(err, context.Canceled)

		_, err = c.Acquire(t.Context(), keyB)
		r.ErrorIs(err, assetcache.ErrClosed)
		r.NoError(c.Close())
	})
}

func TestInvalidArguments(t *testing.T) {
	_, err := assetcache.New(t.Context(), nil, assetcache.Options{})
	assert.Error(t, err)
	_, err = assetcache.New(t.Context(), newFakeImporter(), assetcache.Options{ReclaimCapacity: -1})
	assert.Error(t, err)

	c := newCache(t, newFakeImporter(), assetcache.Options{})
	_, err = c.Acquire(t.Context(), asset.ContentKey{})
	assert.ErrorIs(t, err, assetcache.ErrInvalidKey)
}
