package vds

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/qri-io/zarr-vds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Detector layouts from the HDF Group's VDS use cases. Eiger and Percival
// run at full frame size; Excalibur stripes keep their 256 rows but are
// narrowed to 16 columns.

func TestEigerFrames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	frames := []int{20, 20, 20, 18}

	tgt, err := NewTarget("data", []int{78, 200, 200})
	require.NoError(t, err)
	var maps []Mapping
	offset := 0
	for k, n := range frames {
		name := fmt.Sprintf("raw_file_%d.zarr", k+1)
		writeArray(t, newLocalStore(t, filepath.Join(dir, name)), "data", zarr.Float64, []int{n, 200, 200}, nil, constant(float64(k)))

		src, err := NewSource(name, "data", []int{n, 200, 200})
		require.NoError(t, err)
		region, err := tgt.Select(zarr.Range(offset, offset+n), zarr.All(), zarr.All())
		require.NoError(t, err)
		m, err := Map(src, region, zarr.Float64)
		require.NoError(t, err)
		maps = append(maps, m)
		offset += n
	}

	container := newLocalStore(t, filepath.Join(dir, "eiger.zarr"))
	_, err = Create(ctx, container, maps, 45)
	require.NoError(t, err)

	ds, err := Open(ctx, container, "data")
	require.NoError(t, err)
	cases := []struct {
		idx  []int
		want float64
	}{
		{[]int{10, 100, 10}, 0},
		{[]int{30, 100, 100}, 1},
		{[]int{50, 100, 100}, 2},
		{[]int{70, 100, 100}, 3},
		{[]int{0, 0, 0}, 0},
		{[]int{19, 199, 199}, 0},
		{[]int{20, 0, 0}, 1},
		{[]int{77, 199, 199}, 3},
	}
	for _, c := range cases {
		v, err := ds.At(ctx, c.idx...)
		require.NoError(t, err)
		assert.Equal(t, c.want, v, "element %v", c.idx)
	}

	_, err = ds.At(ctx, 78, 0, 0)
	assert.ErrorIs(t, err, zarr.ErrOutOfBounds)
}

func TestExcaliburStripes(t *testing.T) {
	const (
		nfiles      = 6
		nframes     = 5
		stripeRows  = 256
		stripeCols  = 16
		verticalGap = 10
	)
	ctx := context.Background()
	dir := t.TempDir()

	inShape := []int{nframes, stripeRows, stripeCols}
	height := stripeRows*nfiles + verticalGap*(nfiles-1)
	tgt, err := NewTarget("data", []int{nframes, height, stripeCols})
	require.NoError(t, err)

	var maps []Mapping
	offset := 0
	for i := 0; i < nfiles; i++ {
		name := fmt.Sprintf("stripe_%d.zarr", i+1)
		scale := float64(i)
		writeArray(t, newLocalStore(t, filepath.Join(dir, name)), "data", zarr.Uint16, inShape, inShape, func(idx []int) float64 {
			return float64(idx[0]) * scale
		})

		src, err := NewSource(name, "data", inShape)
		require.NoError(t, err)
		region, err := tgt.Select(zarr.All(), zarr.Range(offset, offset+stripeRows), zarr.All())
		require.NoError(t, err)
		m, err := Map(src, region, zarr.Uint16)
		require.NoError(t, err)
		maps = append(maps, m)
		offset += stripeRows + verticalGap
	}

	container := newLocalStore(t, filepath.Join(dir, "excalibur.zarr"))
	_, err = Create(ctx, container, maps, 0x1)
	require.NoError(t, err)

	ds, err := Open(ctx, container, "data", WithConcurrency(3))
	require.NoError(t, err)
	assert.Equal(t, zarr.Uint16, ds.Dtype())
	for row, want := range map[int]float64{
		100:  0,
		260:  1,
		350:  3,
		650:  6,
		900:  9,
		1150: 12,
		1450: 15,
	} {
		v, err := ds.At(ctx, 3, row, 0)
		require.NoError(t, err)
		assert.Equal(t, want, v, "row %d", row)
	}

	column, err := ds.Read(ctx, zarr.Selection{zarr.Index(4), zarr.All(), zarr.Index(7)})
	require.NoError(t, err)
	got := column.Float64s()
	require.Len(t, got, height)
	for row, v := range got {
		stripe, within := row/(stripeRows+verticalGap), row%(stripeRows+verticalGap)
		want := float64(4 * stripe)
		if within >= stripeRows {
			want = 1
		}
		require.Equal(t, want, v, "row %d", row)
	}
}

func TestPercivalInterleaved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	frames := []int{20, 20, 20, 19}

	tgt, err := NewTarget("data", []int{79, 200, 200}, WithMaxShape(Unlimited, 200, 200))
	require.NoError(t, err)
	var maps []Mapping
	for k, n := range frames {
		name := fmt.Sprintf("raw_file_%d.zarr", k+1)
		writeArray(t, newLocalStore(t, filepath.Join(dir, name)), "data", zarr.Float64, []int{n, 200, 200}, []int{Unlimited, 200, 200}, constant(float64(k)))

		// every source is declared with 20 frames; the fourth only has 19
		src, err := NewSource(name, "data", []int{20, 200, 200}, WithMaxShape(Unlimited, 200, 200))
		require.NoError(t, err)
		region, err := tgt.Select(zarr.StepRange(k, 79, 4), zarr.All(), zarr.All())
		require.NoError(t, err)
		m, err := Map(src, region, zarr.Float64)
		require.NoError(t, err)
		maps = append(maps, m)
	}

	container := newLocalStore(t, filepath.Join(dir, "percival.zarr"))
	_, err = Create(ctx, container, maps, -5)
	require.NoError(t, err)

	ds, err := Open(ctx, container, "data")
	require.NoError(t, err)
	shape, err := ds.Shape(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{79, 200, 200}, shape)

	line, err := ds.Read(ctx, zarr.Selection{zarr.Range(0, 8), zarr.Index(100), zarr.Index(100)})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 0, 1, 2, 3}, line.Float64s())

	column, err := ds.Read(ctx, zarr.Selection{zarr.All(), zarr.Index(199), zarr.Index(0)})
	require.NoError(t, err)
	got := column.Float64s()
	require.Len(t, got, 79)
	for frame, v := range got {
		require.Equal(t, float64(frame%4), v, "frame %d", frame)
	}
}
