package vds

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/qri-io/zarr-vds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeArray creates an array under key and sets every element to value(idx).
func writeArray(t *testing.T, store zarr.Store, key string, dt zarr.Dtype, shape, maxShape []int, value func(idx []int) float64) *zarr.Array {
	t.Helper()
	arr, err := zarr.Create(store, key, &zarr.ArrayMeta{
		Shape:    shape,
		MaxShape: maxShape,
		Dtype:    zarr.StructuredType{Dtype: dt},
	}, zarr.ModeWrite)
	require.NoError(t, err)

	buf := zarr.NewBuffer(dt, shape)
	idx := make([]int, len(shape))
	for i := 0; i < buf.Len(); i++ {
		rem := i
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d] = rem % shape[d]
			rem /= shape[d]
		}
		buf.Set(value(idx), idx...)
	}
	require.NoError(t, arr.Write(zarr.SelectAll(len(shape)), buf))
	return arr
}

func constant(v float64) func([]int) float64 {
	return func([]int) float64 { return v }
}

func newLocalStore(t *testing.T, dir string) *zarr.LocalStore {
	t.Helper()
	s, err := zarr.NewLocalStore(dir)
	require.NoError(t, err)
	return s
}

// halves builds a 4x3 virtual dataset whose top rows come from "top" and
// bottom rows from "bottom", both held in the dataset's own container.
func halves(t *testing.T, store zarr.Store) []Mapping {
	t.Helper()
	writeArray(t, store, "top", zarr.Float64, []int{2, 3}, nil, constant(1))
	writeArray(t, store, "bottom", zarr.Int16, []int{2, 3}, nil, constant(2))

	tgt, err := NewTarget("data", []int{4, 3})
	require.NoError(t, err)
	var maps []Mapping
	for i, key := range []string{"top", "bottom"} {
		src, err := NewSource(SelfPath, key, []int{2, 3})
		require.NoError(t, err)
		region, err := tgt.Select(zarr.Range(2*i, 2*i+2), zarr.All())
		require.NoError(t, err)
		m, err := Map(src, region, zarr.Float64)
		require.NoError(t, err)
		maps = append(maps, m)
	}
	return maps
}

func TestCreateOpen(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	maps := halves(t, store)

	ds, err := Create(ctx, store, maps, -1)
	require.NoError(t, err)
	assert.Equal(t, zarr.Float64, ds.Dtype())
	assert.Equal(t, -1.0, ds.FillValue())
	assert.Equal(t, []string{SelfPath}, ds.Sources())

	ok, err := IsVirtual(store, "data")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = IsVirtual(store, "top")
	require.NoError(t, err)
	assert.False(t, ok)

	opened, err := Open(ctx, store, "data")
	require.NoError(t, err)
	want, got := ds.Descriptor(), opened.Descriptor()
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Shape, got.Shape)
	assert.Equal(t, want.Dtype, got.Dtype)
	assert.Equal(t, want.Fill, got.Fill)
	require.Len(t, got.Entries, 2)
	for i := range want.Entries {
		assert.Equal(t, want.Entries[i].String(), got.Entries[i].String())
	}

	a, err := ds.Read(ctx, nil)
	require.NoError(t, err)
	b, err := opened.Read(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2}, a.Float64s())
	assert.Equal(t, a, b)
}

func TestDescriptorIsACopy(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	ds, err := Create(ctx, store, halves(t, store), 0)
	require.NoError(t, err)

	desc := ds.Descriptor()
	desc.Shape[0] = 100
	desc.Entries = desc.Entries[:1]
	assert.Equal(t, []int{4, 3}, ds.Descriptor().Shape)
	assert.Len(t, ds.Descriptor().Entries, 2)
}

func TestCreateErrors(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	maps := halves(t, store)

	_, err := Create(ctx, store, nil, 0)
	assert.ErrorIs(t, err, ErrNoEntries)

	other, err := NewTarget("other", []int{4, 3})
	require.NoError(t, err)
	region, err := other.Select()
	require.NoError(t, err)
	src, err := NewSource(SelfPath, "top", []int{4, 3})
	require.NoError(t, err)
	stray, err := Map(src, region, zarr.Float64)
	require.NoError(t, err)
	_, err = Create(ctx, store, append(maps, stray), 0)
	assert.ErrorIs(t, err, ErrTargetConflict)

	_, err = Create(ctx, store, maps, 0, WithDtype(zarr.MustParseDtype("|S4")))
	assert.ErrorIs(t, err, zarr.ErrUnsupportedDtype)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Create(canceled, store, maps, 0)
	assert.ErrorIs(t, err, context.Canceled)

	// nothing was persisted by the failed attempts
	ok, err := IsVirtual(store, "data")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateExisting(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	maps := halves(t, store)

	_, err := Create(ctx, store, maps, 0)
	require.NoError(t, err)
	_, err = Create(ctx, store, maps, 0)
	assert.ErrorIs(t, err, zarr.ErrExists)

	ds, err := Create(ctx, store, maps[:1], 7, WithOverwrite())
	require.NoError(t, err)
	reopened, err := Open(ctx, store, "data")
	require.NoError(t, err)
	assert.Len(t, reopened.Descriptor().Entries, 1)
	assert.Equal(t, 7.0, reopened.FillValue())
	assert.Equal(t, ds.Descriptor().Fill, reopened.Descriptor().Fill)

	// an ordinary array at the key blocks creation unless overwritten
	writeArray(t, store, "plain", zarr.Float64, []int{4, 3}, nil, constant(9))
	tgt, err := NewTarget("plain", []int{4, 3})
	require.NoError(t, err)
	src, err := NewSource(SelfPath, "top", []int{2, 3})
	require.NoError(t, err)
	top, err := tgt.Select(zarr.Range(0, 2), zarr.All())
	require.NoError(t, err)
	m, err := Map(src, top, zarr.Float64)
	require.NoError(t, err)

	_, err = Create(ctx, store, []Mapping{m}, 0)
	assert.ErrorIs(t, err, zarr.ErrExists)
	_, err = Create(ctx, store, []Mapping{m}, 0, WithOverwrite())
	require.NoError(t, err)
	_, err = zarr.Open(store, "plain", zarr.ModeRead)
	assert.ErrorIs(t, err, zarr.ErrNotfound)
}

func TestCreateDtype(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	ds, err := Create(ctx, store, halves(t, store), 0.5, WithDtype(zarr.Float32))
	require.NoError(t, err)
	assert.Equal(t, zarr.Float32, ds.Dtype())

	b, err := ds.Read(ctx, zarr.Selection{zarr.Index(3), zarr.Index(0)})
	require.NoError(t, err)
	assert.Equal(t, zarr.Float32, b.Dtype)
	assert.Equal(t, []float64{2}, b.Float64s())
}

func TestCreateFillValue(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	writeArray(t, store, "raw", zarr.Uint16, []int{2}, nil, constant(7))
	tgt, err := NewTarget("data", []int{4})
	require.NoError(t, err)
	src, err := NewSource(SelfPath, "raw", []int{2})
	require.NoError(t, err)
	region, err := tgt.Select(zarr.Range(0, 2))
	require.NoError(t, err)
	m, err := Map(src, region, zarr.Uint16)
	require.NoError(t, err)

	for _, fill := range []float64{-5, 1.5, 65536} {
		_, err = Create(ctx, store, []Mapping{m}, fill)
		assert.ErrorIs(t, err, ErrInvalidFill, "fill %v", fill)
	}
	_, err = Create(ctx, store, []Mapping{m}, 200, WithDtype(zarr.Int8))
	assert.ErrorIs(t, err, ErrInvalidFill)
	ok, err := IsVirtual(store, "data")
	require.NoError(t, err)
	assert.False(t, ok)

	ds, err := Create(ctx, store, []Mapping{m}, 65535)
	require.NoError(t, err)
	b, err := ds.Read(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 65535, 65535}, b.Float64s())
}

// unreachableStore fails every Get the way a store with a network outage
// would.
type unreachableStore struct {
	*zarr.MemoryStore
	err error
}

func (s unreachableStore) Get(key string) (io.ReadCloser, error) {
	return nil, s.err
}

func TestOpenStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()
	_, err := Create(ctx, store, halves(t, store), 0)
	require.NoError(t, err)

	outage := errors.New("connection reset by peer")
	_, err = Open(ctx, unreachableStore{MemoryStore: store, err: outage}, "data")
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, ErrCorruptMetadata)
	assert.NotErrorIs(t, err, zarr.ErrNotfound)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	store := zarr.NewMemoryStore()

	_, err := Open(ctx, store, "data")
	assert.ErrorIs(t, err, zarr.ErrNotfound)

	require.NoError(t, store.Put("garbage/.zvmaps", bytes.NewReader([]byte("{not json"))))
	_, err = Open(ctx, store, "garbage")
	assert.ErrorIs(t, err, ErrCorruptMetadata)

	_, err = Create(ctx, store, halves(t, store), 0)
	require.NoError(t, err)
	meta := &zarr.VirtualMeta{}
	require.NoError(t, zarr.GetMeta(store, "data", zarr.MTVirtual, meta))

	tampered := *meta
	tampered.Mappings = append([]zarr.MappingRecord(nil), meta.Mappings...)
	tampered.Mappings[0].SourceKey = "bottom"
	require.NoError(t, zarr.PutMeta(store, "data", &tampered))
	_, err = Open(ctx, store, "data")
	assert.ErrorIs(t, err, ErrCorruptMetadata)

	future := *meta
	future.VirtualFormat = zarr.VirtualFormat + 1
	require.NoError(t, zarr.PutMeta(store, "data", &future))
	_, err = Open(ctx, store, "data")
	assert.ErrorIs(t, err, ErrCorruptMetadata)

	// records that no longer describe a valid mapping are rejected even with a
	// matching checksum
	bad := *meta
	bad.Mappings = append([]zarr.MappingRecord(nil), meta.Mappings...)
	bad.Mappings[1].TargetSelection = zarr.Selection{zarr.Range(0, 3), zarr.All()}
	require.NoError(t, bad.Seal())
	require.NoError(t, zarr.PutMeta(store, "data", &bad))
	_, err = Open(ctx, store, "data")
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestDefaultResolverLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeArray(t, newLocalStore(t, filepath.Join(dir, "raw.zarr")), "data", zarr.Uint8, []int{3}, nil, func(idx []int) float64 {
		return float64(idx[0] + 10)
	})

	tgt, err := NewTarget("data", []int{3})
	require.NoError(t, err)
	region, err := tgt.Select()
	require.NoError(t, err)
	src, err := NewSource("raw.zarr", "data", []int{3})
	require.NoError(t, err)
	m, err := Map(src, region, zarr.Uint8)
	require.NoError(t, err)

	container := newLocalStore(t, filepath.Join(dir, "virtual.zarr"))
	_, err = Create(ctx, container, []Mapping{m}, 0)
	require.NoError(t, err)

	// reopen through a fresh store handle, as another process would
	reopened, err := zarr.OpenLocalStore(filepath.Join(dir, "virtual.zarr"))
	require.NoError(t, err)
	ds, err := Open(ctx, reopened, "data")
	require.NoError(t, err)
	b, err := ds.Read(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, b.Float64s())

	// an in-memory container resolves nothing by default
	mem := zarr.NewMemoryStore()
	_, err = Create(ctx, mem, []Mapping{m}, 5)
	require.NoError(t, err)
	memDS, err := Open(ctx, mem, "data", WithMissingPolicy(FailMissing))
	require.NoError(t, err)
	_, err = memDS.Read(ctx, nil)
	assert.ErrorIs(t, err, ErrMissingSource)
	assert.ErrorIs(t, err, zarr.ErrNotfound)

	// unless given a resolver
	memDS, err = Open(ctx, mem, "data", WithResolver(LocalResolver{Dir: dir}))
	require.NoError(t, err)
	b, err = memDS.Read(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, b.Float64s())
}
