package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/qri-io/zarr-vds"
	"github.com/qri-io/zarr-vds/vds"
)

// StoreType is reported by Store.Type.
const StoreType = "MinioStore"

// Store implements zarr.Store on a MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	ctx    context.Context
}

var _ zarr.Store = (*Store)(nil)

// NewStore creates a store whose keys live below rootPrefix in bucket.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
		ctx:    context.Background(),
	}
}

// WithContext returns a copy of the store whose requests use ctx.
func (s *Store) WithContext(ctx context.Context) *Store {
	cp := *s
	cp.ctx = ctx
	return &cp
}

func (s *Store) Type() string { return StoreType }

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func notFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Get fetches the object under key. Missing objects are reported as
// zarr.ErrNotfound.
func (s *Store) Get(key string) (io.ReadCloser, error) {
	k := s.key(key)
	// GetObject is lazy; stat first so a missing key fails here
	if _, err := s.client.StatObject(s.ctx, s.bucket, k, minio.StatObjectOptions{}); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", zarr.ErrNotfound, key)
		}
		return nil, err
	}
	obj, err := s.client.GetObject(s.ctx, s.bucket, k, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Put uploads val as a single object, which S3 makes visible atomically.
func (s *Store) Put(key string, val io.Reader) error {
	data, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(s.ctx, s.bucket, s.key(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *Store) Delete(key string) error {
	err := s.client.RemoveObject(s.ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil && !notFound(err) {
		return err
	}
	return nil
}

// Resolver resolves virtual dataset source paths to stores in the bucket of
// s. Relative paths are taken from the directory holding s's prefix, so a
// dataset in "scans/eiger.zarr" finds "raw.zarr" at "scans/raw.zarr";
// absolute paths start at the bucket root.
func Resolver(s *Store) vds.SourceResolver {
	base := path.Dir(path.Clean(s.prefix))
	return vds.ResolverFunc(func(ctx context.Context, p string) (zarr.Store, error) {
		if path.IsAbs(p) {
			p = strings.TrimPrefix(p, "/")
		} else {
			p = path.Join(base, p)
		}
		return NewStore(s.client, s.bucket, p).WithContext(ctx), nil
	})
}
