package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/qri-io/zarr-vds"
	"github.com/qri-io/zarr-vds/vds"
)

// StoreType is reported by Store.Type.
const StoreType = "S3Store"

// Client is the subset of the S3 API the store uses. *s3.Client
// implements it.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ Client = (*s3.Client)(nil)

// Store implements zarr.Store for S3.
type Store struct {
	client Client
	bucket string
	prefix string
	ctx    context.Context
}

var _ zarr.Store = (*Store)(nil)

// NewStore creates a store whose keys live below rootPrefix in bucket.
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
		ctx:    context.Background(),
	}
}

// Option configures New.
type Option func(*options)

type options struct {
	prefix string
	region string
}

// WithPrefix roots every key below prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion overrides the region found in the environment.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// New creates a store on bucket using the default AWS credential chain.
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var cfgOpts []func(*config.LoadOptions) error
	if o.region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, o.prefix).WithContext(ctx), nil
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
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// Get fetches the object under key. Missing objects are reported as
// zarr.ErrNotfound.
func (s *Store) Get(key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", zarr.ErrNotfound, key)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (s *Store) Put(key string, val io.Reader) error {
	data, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

// Delete removes the object under key. S3 deletes are idempotent, so a
// missing key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.client.DeleteObject(s.ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil && !notFound(err) {
		return err
	}
	return nil
}

// Resolver resolves virtual dataset source paths to stores in the same
// bucket as s. Paths are taken relative to the directory holding s's
// prefix, so sibling containers resolve by name; SelfPath is handled by vds.
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
