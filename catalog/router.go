package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gobwas/glob"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/jeremaih2/avatarsystem/wearable"
)

// Route binds a glob pattern over wearable ids to a catalog.
// Patterns use ':' as separator, so "*" matches a single urn segment and "**" any number of them.
type Route struct {
	Pattern string
	Catalog Catalog
}

type route struct {
	pattern string
	glob    glob.Glob
	catalog Catalog
}

// Router dispatches lookups to the catalogs whose pattern matches the id, in route order.
// A catalog answering ErrNotFound passes the lookup on to the next matching route.
type Router struct {
	routes []route
}

var _ Catalog = (*Router)(nil)

func NewRouter(routes ...Route) (*Router, error) {
	r := &Router{routes: make([]route, 0, len(routes))}
	for _, rt := range routes {
		if rt.Catalog == nil {
			return nil, fmt.Errorf("route %q has no catalog", rt.Pattern)
		}
		g, err := glob.Compile(rt.Pattern, ':')
		if err != nil {
			return nil, fmt.Errorf("invalid route pattern %q: %w", rt.Pattern, err)
		}
		r.routes = append(r.routes, route{pattern: rt.Pattern, glob: g, catalog: rt.Catalog})
	}
	return r, nil
}

func (r *Router) GetDescriptor(ctx context.Context, id string) (*wearable.Descriptor, error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "catalog"))
	for _, rt := range r.routes {
		if !rt.glob.Match(id) {
			continue
		}
		RouteCounterTotal.WithLabelValues(rt.pattern).Inc()
		d, err := rt.catalog.GetDescriptor(ctx, id)
		if errors.Is(err, ErrNotFound) {
			logger.Log(ctx, slog.LevelDebug, "route did not know wearable", slog.String("id", id), slog.String("pattern", rt.pattern))
			continue
		}
		return d, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
