package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"

	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"
	"sigs.k8s.io/yaml"
)

// Importer turns the file behind a content key into a renderable graph.
type Importer interface {
	Import(ctx context.Context, key ContentKey) (*Graph, error)
}

// Unloader is implemented by importers that hold native resources for a graph.
// It is called once when the last reference to an imported graph is destroyed.
type Unloader interface {
	Unload(key ContentKey, graph *Graph)
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(ctx context.Context, key ContentKey) (*Graph, error)

func (f ImporterFunc) Import(ctx context.Context, key ContentKey) (*Graph, error) {
	return f(ctx, key)
}

var (
	ErrContentNotFound = errors.New("asset content not found")
	ErrDigestMismatch  = errors.New("asset content does not match its digest")
)

// FileImporter reads asset manifests from a content addressed directory.
//
// Files of digest keys are stored as <algorithm>/<encoded> (the OCI blob layout), all other keys
// are stored under their plain hash. A manifest is the YAML or JSON encoding of a Graph.
// Digest keys are verified before decoding.
type FileImporter struct {
	fsys fs.FS
}

var _ Importer = (*FileImporter)(nil)

func NewFileImporter(fsys fs.FS) *FileImporter {
	return &FileImporter{fsys: fsys}
}

func (i *FileImporter) Import(ctx context.Context, key ContentKey) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "importer"))

	name := key.Hash
	d, isDigest := key.Digest()
	if isDigest {
		name = path.Join(d.Algorithm().String(), d.Encoded())
	}
	data, err := fs.ReadFile(i.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", key, err)
	}
	if isDigest {
		if err := verify(d, data); err != nil {
			return nil, fmt.Errorf("asset %s: %w", key, err)
		}
	}

	graph := &Graph{}
	if err := yaml.UnmarshalStrict(data, graph); err != nil {
		return nil, fmt.Errorf("failed to decode asset manifest %s: %w", key, err)
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid asset manifest %s: %w", key, err)
	}
	logger.Log(ctx, slog.LevelDebug, "imported asset",
		slog.String("key", key.String()),
		slog.Int("meshes", len(graph.Meshes)),
		slog.Int("vertices", graph.VertexCount()),
	)
	return graph, nil
}

func verify(d digest.Digest, data []byte) error {
	if err := d.Validate(); err != nil {
		return err
	}
	verifier := d.Verifier()
	if _, err := io.Copy(verifier, bytes.NewReader(data)); err != nil {
		return err
	}
	if !verifier.Verified() {
		return ErrDigestMismatch
	}
	return nil
}
