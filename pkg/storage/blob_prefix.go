package storage

import (
	"context"
	"path"
)

// PrefixedBlobStore namespaces every key under a fixed prefix. The local
// backend gets a per-site base directory instead, but shared backends like
// GCS need the site key folded into the object name to keep the fixed key
// scheme (raw_html/<id>.html, metadata/<id>.json) collision-free across
// sites.
type PrefixedBlobStore struct {
	inner  BlobStore
	prefix string
}

// WithPrefix wraps store so all keys live under prefix. An empty prefix
// returns the store unchanged.
func WithPrefix(store BlobStore, prefix string) BlobStore {
	if prefix == "" {
		return store
	}
	return &PrefixedBlobStore{inner: store, prefix: prefix}
}

func (s *PrefixedBlobStore) Put(ctx context.Context, p string, contentType string, data []byte) (string, error) {
	return s.inner.Put(ctx, path.Join(s.prefix, p), contentType, data)
}

func (s *PrefixedBlobStore) Get(ctx context.Context, p string) ([]byte, error) {
	return s.inner.Get(ctx, path.Join(s.prefix, p))
}
