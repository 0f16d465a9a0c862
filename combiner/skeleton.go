package combiner

import (
	"errors"
	"fmt"

	"ocm.software/open-component-model/bindings/go/dag"

	"github.com/jeremaih2/avatarsystem/asset"
)

// ValidateSkeleton checks that bone names are unique, that every parent exists and that the
// hierarchy is acyclic.
func ValidateSkeleton(s *asset.Skeleton) error {
	if s == nil || len(s.Bones) == 0 {
		return fmt.Errorf("%w: no bones", ErrInvalidSkeleton)
	}
	g := dag.NewDirectedAcyclicGraph[string]()
	for _, b := range s.Bones {
		if b.Name == "" {
			return fmt.Errorf("%w: unnamed bone", ErrInvalidSkeleton)
		}
		if err := g.AddVertex(b.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSkeleton, err)
		}
	}
	var errs []error
	for _, b := range s.Bones {
		if b.Parent == "" {
			continue
		}
		if !g.Contains(b.Parent) {
			errs = append(errs, fmt.Errorf("bone %s has unknown parent %s", b.Name, b.Parent))
			continue
		}
		if err := g.AddEdge(b.Parent, b.Name); err != nil {
			errs = append(errs, fmt.Errorf("bone %s: %w", b.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSkeleton, err)
	}
	if _, err := g.TopologicalSort(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSkeleton, err)
	}
	return nil
}
