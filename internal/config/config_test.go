package config_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeremaih2/avatarsystem/catalog"
	"github.com/jeremaih2/avatarsystem/internal/config"
	"github.com/jeremaih2/avatarsystem/lod"
	"github.com/jeremaih2/avatarsystem/wearable"
)

const (
	female = "urn:decentraland:off-chain:base-avatars:BaseFemale"
	l2Hat  = "urn:decentraland:matic:collections-v2:0xabc:hat"
)

const l2Document = `
version: "1.0.0"
baseUrl: https://peer.example/content/contents/
wearables:
  - id: urn:decentraland:matic:collections-v2:0xabc:hat
    category: hat
    representations:
      - bodyShapes: [urn:decentraland:off-chain:base-avatars:BaseFemale]
        mainFile: hat.glb
        contents:
          - key: hat.glb
            hash: QmHat
`

func TestDefault(t *testing.T) {
	r := require.New(t)
	cfg := config.Default()
	r.NoError(cfg.Validate())

	opts := cfg.SystemOptions()
	r.Equal(config.DefaultReclaimCapacity, opts.Cache.ReclaimCapacity)
	r.Equal(4, opts.Cache.ImportConcurrency)
	r.Equal(8, opts.Resolver.FetchConcurrency)
	r.InDelta(config.DefaultFullDistance, opts.Quality.FullDistance, 0)
	r.Equal(config.DefaultCatalogCacheTTL, cfg.Catalog.CacheTTL.Duration)
}

func TestParse(t *testing.T) {
	r := require.New(t)
	cfg, err := config.Parse([]byte(`
type: avatar.config/v1
cache:
  reclaimCapacity: 0
  importConcurrency: 2
catalog:
  cacheSize: 16
  cacheTTL: 90s
  sources:
  - pattern: "urn:decentraland:matic:**"
    path: l2.yaml
quality:
  fullDistance: 25
  maxFullAvatars: 10
  skinningSteps:
  - distance: 40
    interval: 3
resolver:
  fetchConcurrency: 3
loader:
  concurrency: 6
logging:
  rules:
  - level: debug
    realms: [cache, loader]
`))
	r.NoError(err)

	opts := cfg.SystemOptions()
	r.Equal(0, opts.Cache.ReclaimCapacity, "an explicit zero keeps immediate destruction")
	r.Equal(2, opts.Cache.ImportConcurrency)
	r.Equal(3, opts.Resolver.FetchConcurrency)
	r.Equal(6, opts.Loader.Concurrency)
	r.Equal(lod.Options{
		FullDistance:   25,
		MaxFullAvatars: 10,
		SkinningSteps:  []lod.SkinningStep{{Distance: 40, Interval: 3}},
	}, opts.Quality)
	r.Equal(16, cfg.Catalog.CacheSize)
	r.Equal(90*time.Second, cfg.Catalog.CacheTTL.Duration)

	filters, err := cfg.RealmFilters()
	r.NoError(err)
	r.Equal(map[string]slog.Level{"cache": slog.LevelDebug, "loader": slog.LevelDebug}, filters)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		contains string
	}{
		{name: "wrong type", data: "type: other/v1\n", contains: "unsupported type"},
		{name: "unknown field", data: "type: avatar.config/v1\ncaches: {}\n", contains: "unknown field"},
		{name: "bad duration", data: "catalog:\n  cacheTTL: soon\n", contains: "invalid duration"},
		{name: "numeric duration", data: "catalog:\n  cacheTTL: 5\n", contains: "duration must be a string"},
		{name: "negative capacity", data: "cache:\n  reclaimCapacity: -1\n", contains: "reclaimCapacity must not be negative"},
		{name: "source without path", data: "catalog:\n  sources:\n  - pattern: \"*\"\n", contains: "sources[0].path is required"},
		{name: "zero interval", data: "quality:\n  skinningSteps:\n  - distance: 10\n", contains: "interval must be at least 1"},
		{name: "bad log level", data: "logging:\n  rules:\n  - level: loud\n    realms: [cache]\n", contains: "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			_, err := config.Parse([]byte(tt.data))
			r.ErrorIs(err, config.ErrInvalidConfig)
			r.ErrorContains(err, tt.contains)
		})
	}
}

func TestLoadAndBuildCatalog(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	r.NoError(os.WriteFile(filepath.Join(dir, "l2.yaml"), []byte(l2Document), 0o600))
	path := filepath.Join(dir, "avatar.yaml")
	r.NoError(os.WriteFile(path, []byte(`
type: avatar.config/v1
catalog:
  sources:
  - pattern: "urn:decentraland:matic:**"
    path: l2.yaml
`), 0o600))

	cfg, err := config.Load(path)
	r.NoError(err)
	r.Equal(filepath.Join(dir, "l2.yaml"), cfg.Catalog.Sources[0].Path)

	base := catalog.NewMemory(&wearable.Descriptor{
		ID:       female,
		Category: wearable.CategoryBodyShape,
		Representations: []wearable.Representation{
			{BodyShapes: []string{female}, MainFile: "female.glb"},
		},
	})
	c, err := cfg.BuildCatalog(catalog.Route{Pattern: "**", Catalog: base})
	r.NoError(err)
	_, ok := c.(*catalog.Cached)
	r.True(ok)

	ctx := context.Background()
	d, err := c.GetDescriptor(ctx, l2Hat)
	r.NoError(err)
	r.Equal(wearable.CategoryHat, d.Category)
	r.Equal("https://peer.example/content/contents/", d.BaseURL)

	d, err = c.GetDescriptor(ctx, female)
	r.NoError(err)
	r.Equal(wearable.CategoryBodyShape, d.Category)

	_, err = c.GetDescriptor(ctx, "urn:unknown")
	r.ErrorIs(err, catalog.ErrNotFound)
}

func TestBuildCatalogErrors(t *testing.T) {
	r := require.New(t)

	_, err := config.Default().BuildCatalog()
	r.ErrorContains(err, "no catalog sources configured")

	cfg := config.Default()
	cfg.Catalog.Sources = []config.Source{{Pattern: "*", Path: filepath.Join(t.TempDir(), "missing.yaml")}}
	_, err = cfg.BuildCatalog()
	r.Error(err)
	r.True(errors.Is(err, os.ErrNotExist))

	cfg = config.Default()
	cfg.Catalog.CacheSize = -1
	c, err := cfg.BuildCatalog(catalog.Route{Pattern: "*", Catalog: catalog.NewMemory()})
	r.NoError(err)
	_, ok := c.(*catalog.Router)
	r.True(ok)
}

func TestLoadMissingFile(t *testing.T) {
	r := require.New(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	r.ErrorIs(err, os.ErrNotExist)
}
