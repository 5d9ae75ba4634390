package zarr

import (
	"fmt"
)

// Buffer is a dense, C-ordered block of elements of a single dtype. It is
// the unit of exchange for array reads and writes.
type Buffer struct {
	Dtype Dtype
	Shape []int
	Data  []byte
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(dt Dtype, shape []int) *Buffer {
	return &Buffer{
		Dtype: dt,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, product(shape)*dt.ItemSize()),
	}
}

// Len is the number of elements in the buffer.
func (b *Buffer) Len() int { return product(b.Shape) }

func (b *Buffer) offset(idx []int) int {
	off := 0
	for d, i := range idx {
		off = off*b.Shape[d] + i
	}
	return off * b.Dtype.ItemSize()
}

// At returns the element at idx converted to float64.
func (b *Buffer) At(idx ...int) float64 {
	return b.Dtype.Decode(b.Data[b.offset(idx):])
}

// Set stores v at idx.
func (b *Buffer) Set(v float64, idx ...int) {
	b.Dtype.Encode(b.Data[b.offset(idx):], v)
}

// Fill sets every element to v.
func (b *Buffer) Fill(v float64) {
	size := b.Dtype.ItemSize()
	if len(b.Data) == 0 {
		return
	}
	b.Dtype.Encode(b.Data[:size], v)
	for filled := size; filled < len(b.Data); filled *= 2 {
		copy(b.Data[filled:], b.Data[:filled])
	}
}

// Float64s returns every element in C order.
func (b *Buffer) Float64s() []float64 {
	size := b.Dtype.ItemSize()
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = b.Dtype.Decode(b.Data[i*size:])
	}
	return out
}

// Convert returns the buffer's elements as dt. The receiver is returned
// unchanged when it already has that dtype.
func (b *Buffer) Convert(dt Dtype) (*Buffer, error) {
	if b.Dtype == dt {
		return b, nil
	}
	if !Coercible(b.Dtype, dt) {
		return nil, fmt.Errorf("%w: cannot convert %s to %s", ErrUnsupportedDtype, b.Dtype, dt)
	}
	out := NewBuffer(dt, b.Shape)
	from, to := b.Dtype.ItemSize(), dt.ItemSize()
	for i, n := 0, b.Len(); i < n; i++ {
		dt.Encode(out.Data[i*to:], b.Dtype.Decode(b.Data[i*from:]))
	}
	return out, nil
}

// Paste writes src into the positions of b addressed by the resolved
// selection sel, converting element types when they differ. src must have
// the shape of sel.
func (b *Buffer) Paste(sel Selection, src *Buffer) error {
	if len(sel) != len(b.Shape) {
		return fmt.Errorf("%w: selection rank %d does not match buffer rank %d", ErrOutOfBounds, len(sel), len(b.Shape))
	}
	shape := sel.Shape()
	if !equalInts(shape, src.Shape) {
		return fmt.Errorf("%w: selection shape %v does not match source shape %v", ErrOutOfBounds, shape, src.Shape)
	}
	for d, s := range sel {
		if s.Len() > 0 && (s.Start < 0 || s.Last() >= b.Shape[d]) {
			return fmt.Errorf("%w: %s in dimension %d of extent %d", ErrOutOfBounds, s, d, b.Shape[d])
		}
	}
	src, err := src.Convert(b.Dtype)
	if err != nil {
		return err
	}

	size := b.Dtype.ItemSize()
	st := strides(b.Shape)
	srcOff := 0
	return forEachIndex(shape, func(idx []int) error {
		off := 0
		for d, i := range idx {
			off += sel[d].At(i) * st[d]
		}
		copy(b.Data[off*size:(off+1)*size], src.Data[srcOff:srcOff+size])
		srcOff += size
		return nil
	})
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
