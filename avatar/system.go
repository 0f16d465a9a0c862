package avatar

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/assetcache"
	"github.com/jeremaih2/avatarsystem/catalog"
	"github.com/jeremaih2/avatarsystem/loader"
	"github.com/jeremaih2/avatarsystem/lod"
	"github.com/jeremaih2/avatarsystem/resolver"
)

var ErrAvatarExists = errors.New("avatar already exists")

type SystemOptions struct {
	Cache    assetcache.Options
	Resolver resolver.Options
	Loader   loader.Options
	Quality  lod.Options
	// Reporter receives the status reports of every avatar. Nil disables reporting.
	Reporter Reporter
}

// System wires the shared pipeline (one asset cache, resolver, loader and quality controller)
// and manages the avatars of a scene.
type System struct {
	cache    *assetcache.Cache
	resolver *resolver.Resolver
	loader   *loader.Loader
	quality  *lod.Controller
	reporter Reporter

	mu      sync.Mutex
	avatars map[string]*Avatar
}

func NewSystem(ctx context.Context, c catalog.Catalog, importer asset.Importer, opts SystemOptions) (*System, error) {
	cache, err := assetcache.New(ctx, importer, opts.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset cache: %w", err)
	}
	return &System{
		cache:    cache,
		resolver: resolver.New(c, opts.Resolver),
		loader:   loader.New(cache, opts.Loader),
		quality:  lod.NewController(opts.Quality),
		reporter: opts.Reporter,
		avatars:  map[string]*Avatar{},
	}, nil
}

// NewAvatar creates an avatar and registers it with the quality controller.
func (s *System) NewAvatar(id string) (*Avatar, error) {
	s.mu.Lock()
	if _, ok := s.avatars[id]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAvatarExists, id)
	}
	a := New(id, s.resolver, s.loader, s.reporter)
	s.avatars[id] = a
	s.mu.Unlock()

	AvatarsGauge.Inc()
	s.quality.Register(a)
	return a, nil
}

func (s *System) Avatar(id string) (*Avatar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.avatars[id]
	return a, ok
}

// IDs returns the ids of all avatars in sorted order.
func (s *System) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.avatars))
}

// Remove disposes the avatar and forgets it. Removing an unknown id does nothing.
func (s *System) Remove(id string) {
	s.mu.Lock()
	a, ok := s.avatars[id]
	delete(s.avatars, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.quality.Unregister(id)
	a.Dispose()
	AvatarsGauge.Dec()
}

// UpdateQuality reassigns the rendering tiers of all avatars.
func (s *System) UpdateQuality(ctx context.Context) {
	s.quality.Update(ctx)
}

func (s *System) Cache() *assetcache.Cache {
	return s.cache
}

func (s *System) Quality() *lod.Controller {
	return s.quality
}

// Close removes every avatar and closes the asset cache.
func (s *System) Close() error {
	for _, id := range s.IDs() {
		s.Remove(id)
	}
	return s.cache.Close()
}
