package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrBlobNotFound is returned when a storage path points at nothing.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore reads file bytes by storage path. Paths carry a scheme
// ("file://", "github://"); a bare path is treated as file://.
type BlobStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// FileStore reads blobs from local disk, rooted at Root when set.
type FileStore struct {
	Root string
}

func (f FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := filepath.FromSlash(strings.TrimPrefix(path, "file://"))
	if f.Root != "" && !filepath.IsAbs(p) {
		p = filepath.Join(f.Root, p)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Mux routes reads to a BlobStore by scheme.
type Mux struct {
	stores   map[string]BlobStore
	fallback BlobStore
}

// NewMux returns a mux whose scheme-less paths go to fallback.
func NewMux(fallback BlobStore) *Mux {
	return &Mux{stores: make(map[string]BlobStore), fallback: fallback}
}

// Handle registers store for scheme (without "://").
func (m *Mux) Handle(scheme string, store BlobStore) {
	m.stores[strings.ToLower(scheme)] = store
}

func (m *Mux) Read(ctx context.Context, path string) ([]byte, error) {
	scheme, _, ok := strings.Cut(path, "://")
	if !ok {
		if m.fallback == nil {
			return nil, fmt.Errorf("no blob store for %q", path)
		}
		return m.fallback.Read(ctx, path)
	}
	store, found := m.stores[strings.ToLower(scheme)]
	if !found {
		return nil, fmt.Errorf("no blob store for scheme %q", scheme)
	}
	return store.Read(ctx, path)
}
