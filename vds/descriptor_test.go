package vds

import (
	"testing"

	"github.com/qri-io/zarr-vds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource(t *testing.T) {
	src, err := NewSource("raw_file_1.zarr", "data", []int{20, 200, 200})
	require.NoError(t, err)
	assert.Equal(t, "raw_file_1.zarr", src.Path())
	assert.Equal(t, "data", src.Key())
	assert.Equal(t, []int{20, 200, 200}, src.Shape())
	assert.Equal(t, zarr.Selection{{0, 20, 1}, {0, 200, 1}, {0, 200, 1}}, src.Selection())
	assert.Equal(t, "raw_file_1.zarr:data[0:20, 0:200, 0:200]", src.String())

	grow, err := NewSource("raw.zarr", "data", []int{20, 4}, WithMaxShape(Unlimited, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{Unlimited, 4}, grow.MaxShape())
	// unlimited dimensions stay open until read
	assert.Equal(t, zarr.Selection{zarr.All(), {0, 4, 1}}, grow.Selection())
}

func TestNewSourceInvalid(t *testing.T) {
	cases := []struct {
		description string
		shape       []int
		opts        []DescriptorOption
	}{
		{"empty shape", nil, nil},
		{"negative extent", []int{4, -1}, nil},
		{"max shape rank", []int{4, 4}, []DescriptorOption{WithMaxShape(8)}},
		{"max shape below shape", []int{4, 4}, []DescriptorOption{WithMaxShape(4, 2)}},
	}
	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			_, err := NewSource("raw.zarr", "data", c.shape, c.opts...)
			assert.ErrorIs(t, err, ErrInvalidShape)
			var ise *InvalidShapeError
			require.ErrorAs(t, err, &ise)
			assert.Equal(t, c.shape, ise.Shape)
		})
	}
}

func TestSourceSelect(t *testing.T) {
	src, err := NewSource("raw.zarr", "data", []int{10, 6})
	require.NoError(t, err)

	sub, err := src.Select(zarr.StepRange(1, 10, 3), zarr.Index(5))
	require.NoError(t, err)
	assert.Equal(t, zarr.Selection{{1, 8, 3}, {5, 6, 1}}, sub.Selection())
	// the receiver is unchanged
	assert.Equal(t, zarr.Selection{{0, 10, 1}, {0, 6, 1}}, src.Selection())

	// stops past the extent clamp
	sub, err = src.Select(zarr.Range(8, 100), zarr.All())
	require.NoError(t, err)
	assert.Equal(t, zarr.Selection{{8, 10, 1}, {0, 6, 1}}, sub.Selection())

	_, err = src.Select(zarr.All())
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = src.Select(zarr.StepRange(0, 4, 0), zarr.All())
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = src.Select(zarr.Range(11, 12), zarr.All())
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestNewTarget(t *testing.T) {
	tgt, err := NewTarget("data", []int{79, 200, 200}, WithMaxShape(Unlimited, 200, 200))
	require.NoError(t, err)
	assert.Equal(t, "data", tgt.Key())
	assert.Equal(t, []int{79, 200, 200}, tgt.Shape())
	assert.Equal(t, []int{Unlimited, 200, 200}, tgt.MaxShape())

	_, err = NewTarget("data", []int{79, 200}, WithMaxShape(79, Unlimited))
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewTarget("data", []int{})
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewTarget("../data", []int{4})
	assert.Error(t, err)
}

func TestTargetSelect(t *testing.T) {
	tgt, err := NewTarget("data", []int{79, 4}, WithMaxShape(Unlimited, 4))
	require.NoError(t, err)

	// strided selections on the unlimited dimension keep their stop
	r, err := tgt.Select(zarr.StepRange(3, 79, 4), zarr.All())
	require.NoError(t, err)
	assert.Equal(t, zarr.Selection{{3, 79, 4}, {0, 4, 1}}, r.Selection())
	assert.Equal(t, "data[3:79:4, 0:4]", r.String())
	assert.Equal(t, tgt, r.Target())

	// and may reach beyond the current extent
	r, err = tgt.Select(zarr.Range(100, 120), zarr.All())
	require.NoError(t, err)
	assert.Equal(t, 20, r.Selection()[0].Len())

	all, err := tgt.Select()
	require.NoError(t, err)
	assert.Equal(t, zarr.Selection{zarr.All(), {0, 4, 1}}, all.Selection())

	_, err = tgt.Select(zarr.All(), zarr.Range(5, 6))
	assert.ErrorIs(t, err, ErrInvalidShape)
}
