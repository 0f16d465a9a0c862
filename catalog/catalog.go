// Package catalog provides read-only lookup of wearable descriptors by id.
//
// Implementations:
//   - Memory: a fixed in-process set of descriptors.
//   - Document: a versioned YAML or JSON file validated against a JSON schema, loaded into a Memory.
//   - Cached: an expiring LRU in front of another catalog, deduplicating concurrent fetches.
//   - Router: dispatches ids to catalogs by glob pattern.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jeremaih2/avatarsystem/wearable"
)

// ErrNotFound is returned when a catalog does not know a wearable id.
var ErrNotFound = errors.New("wearable not found in catalog")

// Catalog looks up wearable descriptors.
// Returned descriptors are shared and must be treated as immutable.
type Catalog interface {
	GetDescriptor(ctx context.Context, id string) (*wearable.Descriptor, error)
}

// Func adapts a function to the Catalog interface.
type Func func(ctx context.Context, id string) (*wearable.Descriptor, error)

func (f Func) GetDescriptor(ctx context.Context, id string) (*wearable.Descriptor, error) {
	return f(ctx, id)
}

// Memory is a Catalog backed by a map.
type Memory struct {
	mu          sync.RWMutex
	descriptors map[string]*wearable.Descriptor
}

var _ Catalog = (*Memory)(nil)

func NewMemory(descriptors ...*wearable.Descriptor) *Memory {
	m := &Memory{descriptors: make(map[string]*wearable.Descriptor, len(descriptors))}
	for _, d := range descriptors {
		m.descriptors[d.ID] = d
	}
	return m
}

// Add stores d, replacing any descriptor with the same id.
func (m *Memory) Add(d *wearable.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[d.ID] = d
}

func (m *Memory) GetDescriptor(ctx context.Context, id string) (*wearable.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// IDs returns the known ids in sorted order.
func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.descriptors))
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.descriptors)
}
