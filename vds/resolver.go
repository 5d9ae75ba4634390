package vds

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/qri-io/zarr-vds"
)

// SelfPath is the source path naming the container that holds the virtual
// dataset itself.
const SelfPath = "."

// SourceResolver opens the container a mapping's source path names. If the
// returned store implements io.Closer it is closed once the read of that
// source finishes.
type SourceResolver interface {
	OpenSource(ctx context.Context, path string) (zarr.Store, error)
}

// ResolverFunc adapts a function to SourceResolver.
type ResolverFunc func(ctx context.Context, path string) (zarr.Store, error)

func (f ResolverFunc) OpenSource(ctx context.Context, path string) (zarr.Store, error) {
	return f(ctx, path)
}

// LocalResolver opens sources as LocalStore directories. Relative paths are
// taken relative to Dir.
type LocalResolver struct {
	Dir string
}

func (r LocalResolver) OpenSource(_ context.Context, path string) (zarr.Store, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}
	return zarr.OpenLocalStore(path)
}

// StoreMap resolves source paths from a fixed set of stores.
type StoreMap map[string]zarr.Store

func (m StoreMap) OpenSource(_ context.Context, path string) (zarr.Store, error) {
	s, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%w: source container %q", zarr.ErrNotfound, path)
	}
	return s, nil
}

func defaultResolver(store zarr.Store) SourceResolver {
	if ls, ok := store.(*zarr.LocalStore); ok {
		return LocalResolver{Dir: filepath.Dir(ls.Base())}
	}
	return StoreMap(nil)
}

// releaseStore closes a resolved store if it holds resources.
func releaseStore(s zarr.Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
