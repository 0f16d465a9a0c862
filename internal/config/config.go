// Package config holds the avatarctl configuration file format.
//
// A configuration is a YAML document:
//
//	type: avatar.config/v1
//	cache:
//	  reclaimCapacity: 64
//	  importConcurrency: 4
//	catalog:
//	  cacheSize: 512
//	  cacheTTL: 10m
//	  sources:
//	  - pattern: "urn:decentraland:matic:**"
//	    path: l2.yaml
//	quality:
//	  fullDistance: 25
//	  maxFullAvatars: 20
//	  skinningSteps:
//	  - distance: 30
//	    interval: 2
//	resolver:
//	  fetchConcurrency: 8
//	logging:
//	  rules:
//	  - level: debug
//	    realms: [cache, loader]
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/jeremaih2/avatarsystem/assetcache"
	"github.com/jeremaih2/avatarsystem/avatar"
	"github.com/jeremaih2/avatarsystem/catalog"
	"github.com/jeremaih2/avatarsystem/internal/log"
	"github.com/jeremaih2/avatarsystem/lod"
	"github.com/jeremaih2/avatarsystem/loader"
	"github.com/jeremaih2/avatarsystem/resolver"
)

const Type = "avatar.config/v1"

const (
	DefaultReclaimCapacity  = 64
	DefaultCatalogCacheSize = 256
	DefaultCatalogCacheTTL  = 5 * time.Minute
	DefaultFullDistance     = 20
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Type     string   `json:"type"`
	Cache    Cache    `json:"cache,omitempty"`
	Catalog  Catalog  `json:"catalog,omitempty"`
	Quality  Quality  `json:"quality,omitempty"`
	Resolver Resolver `json:"resolver,omitempty"`
	Loader   Loader   `json:"loader,omitempty"`
	Logging  Logging  `json:"logging,omitempty"`
}

type Cache struct {
	// ReclaimCapacity is the number of released assets kept for reuse.
	// An explicit 0 destroys assets as soon as they are released.
	ReclaimCapacity   *int `json:"reclaimCapacity,omitempty"`
	ImportConcurrency int  `json:"importConcurrency,omitempty"`
}

type Catalog struct {
	// CacheSize is the number of descriptors kept in front of the sources.
	// A negative size disables the descriptor cache.
	CacheSize int      `json:"cacheSize,omitempty"`
	CacheTTL  Duration `json:"cacheTTL,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
}

// Source maps wearable ids matching Pattern to the catalog document at Path.
type Source struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

type Quality struct {
	FullDistance   float64            `json:"fullDistance,omitempty"`
	MaxFullAvatars int                `json:"maxFullAvatars,omitempty"`
	SkinningSteps  []lod.SkinningStep `json:"skinningSteps,omitempty"`
}

type Resolver struct {
	FetchConcurrency int `json:"fetchConcurrency,omitempty"`
}

type Loader struct {
	Concurrency int `json:"concurrency,omitempty"`
}

type Logging struct {
	Rules []log.Rule `json:"rules,omitempty"`
}

// Duration is a time.Duration written as a Go duration string, e.g. "5m".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Type: Type}
	cfg.Default()
	return cfg
}

// Default fills every unset field.
func (c *Config) Default() {
	if c.Type == "" {
		c.Type = Type
	}
	if c.Cache.ReclaimCapacity == nil {
		capacity := DefaultReclaimCapacity
		c.Cache.ReclaimCapacity = &capacity
	}
	if c.Cache.ImportConcurrency == 0 {
		c.Cache.ImportConcurrency = assetcache.DefaultImportConcurrency
	}
	if c.Catalog.CacheSize == 0 {
		c.Catalog.CacheSize = DefaultCatalogCacheSize
	}
	if c.Catalog.CacheTTL.Duration == 0 {
		c.Catalog.CacheTTL.Duration = DefaultCatalogCacheTTL
	}
	if c.Quality.FullDistance == 0 {
		c.Quality.FullDistance = DefaultFullDistance
	}
	if c.Resolver.FetchConcurrency == 0 {
		c.Resolver.FetchConcurrency = resolver.DefaultFetchConcurrency
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Type != Type {
		errs = append(errs, fmt.Errorf("unsupported type %q, expected %q", c.Type, Type))
	}
	if c.Cache.ReclaimCapacity != nil && *c.Cache.ReclaimCapacity < 0 {
		errs = append(errs, fmt.Errorf("cache.reclaimCapacity must not be negative"))
	}
	if c.Cache.ImportConcurrency < 0 {
		errs = append(errs, fmt.Errorf("cache.importConcurrency must not be negative"))
	}
	if c.Catalog.CacheTTL.Duration < 0 {
		errs = append(errs, fmt.Errorf("catalog.cacheTTL must not be negative"))
	}
	for i, src := range c.Catalog.Sources {
		if src.Pattern == "" {
			errs = append(errs, fmt.Errorf("catalog.sources[%d].pattern is required", i))
		}
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("catalog.sources[%d].path is required", i))
		}
	}
	if c.Quality.FullDistance < 0 {
		errs = append(errs, fmt.Errorf("quality.fullDistance must not be negative"))
	}
	if c.Quality.MaxFullAvatars < 0 {
		errs = append(errs, fmt.Errorf("quality.maxFullAvatars must not be negative"))
	}
	for i, step := range c.Quality.SkinningSteps {
		if step.Interval < 1 {
			errs = append(errs, fmt.Errorf("quality.skinningSteps[%d].interval must be at least 1", i))
		}
	}
	if c.Resolver.FetchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("resolver.fetchConcurrency must not be negative"))
	}
	if c.Loader.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("loader.concurrency must not be negative"))
	}
	if _, err := log.RealmFilters(c.Logging.Rules); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Parse decodes a YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration at path. Relative source paths are resolved
// against the directory of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %q: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i, src := range cfg.Catalog.Sources {
		if !filepath.IsAbs(src.Path) {
			cfg.Catalog.Sources[i].Path = filepath.Join(dir, src.Path)
		}
	}
	return cfg, nil
}

// SystemOptions translates the configuration into the options of an avatar.System.
func (c *Config) SystemOptions() avatar.SystemOptions {
	opts := avatar.SystemOptions{
		Cache: assetcache.Options{
			ImportConcurrency: c.Cache.ImportConcurrency,
		},
		Resolver: resolver.Options{FetchConcurrency: c.Resolver.FetchConcurrency},
		Loader:   loader.Options{Concurrency: c.Loader.Concurrency},
		Quality: lod.Options{
			FullDistance:   c.Quality.FullDistance,
			MaxFullAvatars: c.Quality.MaxFullAvatars,
			SkinningSteps:  c.Quality.SkinningSteps,
		},
	}
	if c.Cache.ReclaimCapacity != nil {
		opts.Cache.ReclaimCapacity = *c.Cache.ReclaimCapacity
	}
	return opts
}

// RealmFilters returns the per realm log levels of the logging rules.
func (c *Config) RealmFilters() (map[string]slog.Level, error) {
	return log.RealmFilters(c.Logging.Rules)
}

// BuildCatalog loads every configured source document and routes ids to them in
// order, followed by the given fallback routes. The result is cached unless the
// cache is disabled.
func (c *Config) BuildCatalog(fallback ...catalog.Route) (catalog.Catalog, error) {
	routes := make([]catalog.Route, 0, len(c.Catalog.Sources)+len(fallback))
	for _, src := range c.Catalog.Sources {
		doc, err := catalog.LoadDocument(src.Path)
		if err != nil {
			return nil, fmt.Errorf("catalog source %q: %w", src.Pattern, err)
		}
		routes = append(routes, catalog.Route{Pattern: src.Pattern, Catalog: doc.Catalog()})
	}
	routes = append(routes, fallback...)
	if len(routes) == 0 {
		return nil, fmt.Errorf("no catalog sources configured")
	}

	router, err := catalog.NewRouter(routes...)
	if err != nil {
		return nil, err
	}
	if c.Catalog.CacheSize < 0 {
		return router, nil
	}
	return catalog.NewCached(router, c.Catalog.CacheSize, c.Catalog.CacheTTL.Duration), nil
}
