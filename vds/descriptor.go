package vds

import (
	"fmt"

	"github.com/qri-io/zarr-vds"
)

// Unlimited marks a maximum-shape dimension that may grow without bound.
const Unlimited = zarr.Unlimited

// DescriptorOption configures a Source or Target under construction.
type DescriptorOption func(*descriptorOptions)

type descriptorOptions struct {
	maxShape []int
}

// WithMaxShape declares the largest extent each dimension may reach. Use
// Unlimited for a dimension whose extent is only known when the data is
// read.
func WithMaxShape(dims ...int) DescriptorOption {
	return func(o *descriptorOptions) {
		o.maxShape = append([]int(nil), dims...)
	}
}

func buildOptions(opts []DescriptorOption) descriptorOptions {
	var o descriptorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkShape validates shape against maxShape. unlimitedOK reports whether
// dimension d may be declared Unlimited.
func checkShape(shape, maxShape []int, unlimitedOK func(d int) bool) error {
	invalid := func(reason string, args ...interface{}) error {
		return &InvalidShapeError{Shape: shape, MaxShape: maxShape, Reason: fmt.Sprintf(reason, args...)}
	}
	if len(shape) == 0 {
		return invalid("shape must have at least one dimension")
	}
	for d, n := range shape {
		if n < 0 {
			return invalid("negative extent in dimension %d", d)
		}
	}
	if maxShape == nil {
		return nil
	}
	if len(maxShape) != len(shape) {
		return invalid("max shape has rank %d, shape has rank %d", len(maxShape), len(shape))
	}
	for d, m := range maxShape {
		switch {
		case m == Unlimited:
			if !unlimitedOK(d) {
				return invalid("dimension %d cannot be unlimited", d)
			}
		case m < shape[d]:
			return invalid("max extent %d is smaller than extent %d in dimension %d", m, shape[d], d)
		}
	}
	return nil
}

// unlimited reports whether dimension d of maxShape is unbounded.
func unlimited(maxShape []int, d int) bool {
	return maxShape != nil && maxShape[d] == Unlimited
}

// selectRegion validates sel against shape and normalizes it: slices on
// bounded dimensions are resolved, open slices on unlimited dimensions stay
// open so that they track the extent found at read time.
func selectRegion(shape, maxShape []int, sel []zarr.Slice) (zarr.Selection, error) {
	invalid := func(reason string, args ...interface{}) error {
		return &InvalidShapeError{Shape: shape, MaxShape: maxShape, Reason: fmt.Sprintf(reason, args...)}
	}
	if len(sel) == 0 {
		sel = openAll(shape, maxShape)
	}
	if len(sel) != len(shape) {
		return nil, invalid("selection has rank %d", len(sel))
	}
	out := make(zarr.Selection, len(sel))
	for d, s := range sel {
		if err := s.Validate(); err != nil {
			return nil, invalid("dimension %d: %v", d, err)
		}
		if unlimited(maxShape, d) {
			if !s.Open() && s.Stop < s.Start {
				s.Stop = s.Start
			}
			out[d] = s
			continue
		}
		if s.Start > shape[d] {
			return nil, invalid("selection %s starts past extent %d in dimension %d", s, shape[d], d)
		}
		out[d] = s.Resolve(shape[d])
	}
	return out, nil
}

// Source names a region of an array held in another container. It records
// the container by path only: nothing is opened until a read needs it.
type Source struct {
	path     string
	key      string
	shape    []int
	maxShape []int
	sel      zarr.Selection
}

// NewSource describes the array stored under key in the container at path.
// path may be absolute or relative to the virtual dataset's container; "."
// refers to that container itself. The source initially selects the whole
// array.
func NewSource(path, key string, shape []int, opts ...DescriptorOption) (Source, error) {
	o := buildOptions(opts)
	if err := checkShape(shape, o.maxShape, func(int) bool { return true }); err != nil {
		return Source{}, err
	}
	src := Source{
		path:     path,
		key:      key,
		shape:    append([]int(nil), shape...),
		maxShape: o.maxShape,
	}
	sel, err := selectRegion(src.shape, src.maxShape, openAll(src.shape, src.maxShape))
	if err != nil {
		return Source{}, err
	}
	src.sel = sel
	return src, nil
}

// openAll selects every element, leaving unlimited dimensions open.
func openAll(shape, maxShape []int) []zarr.Slice {
	sel := zarr.SelectAll(len(shape))
	for d := range sel {
		if !unlimited(maxShape, d) {
			sel[d] = sel[d].Resolve(shape[d])
		}
	}
	return sel
}

// Select returns a copy of the source restricted to sel.
func (s Source) Select(sel ...zarr.Slice) (Source, error) {
	out, err := selectRegion(s.shape, s.maxShape, sel)
	if err != nil {
		return Source{}, err
	}
	s.sel = out
	return s, nil
}

func (s Source) Path() string { return s.path }
func (s Source) Key() string { return s.key }
func (s Source) Shape() []int { return append([]int(nil), s.shape...) }
func (s Source) MaxShape() []int { return append([]int(nil), s.maxShape...) }
func (s Source) Selection() zarr.Selection { return append(zarr.Selection(nil), s.sel...) }

func (s Source) String() string {
	return fmt.Sprintf("%s:%s%s", s.path, s.key, s.sel)
}

// Target describes the address space of a virtual dataset. Only the leading
// dimension may be unlimited.
type Target struct {
	key      string
	shape    []int
	maxShape []int
}

// NewTarget describes the virtual dataset stored under key with the given
// current shape.
func NewTarget(key string, shape []int, opts ...DescriptorOption) (Target, error) {
	o := buildOptions(opts)
	if err := checkShape(shape, o.maxShape, func(d int) bool { return d == 0 }); err != nil {
		return Target{}, err
	}
	if _, err := zarr.NewPath(key); err != nil {
		return Target{}, err
	}
	return Target{
		key:      key,
		shape:    append([]int(nil), shape...),
		maxShape: o.maxShape,
	}, nil
}

func (t Target) Key() string { return t.key }
func (t Target) Shape() []int { return append([]int(nil), t.shape...) }
func (t Target) MaxShape() []int { return append([]int(nil), t.maxShape...) }

// Select names the region of the target that one mapping fills.
func (t Target) Select(sel ...zarr.Slice) (Region, error) {
	out, err := selectRegion(t.shape, t.maxShape, sel)
	if err != nil {
		return Region{}, err
	}
	return Region{target: t, sel: out}, nil
}

func (t Target) equal(o Target) bool {
	return t.key == o.key && equalInts(t.shape, o.shape) && equalInts(t.maxShape, o.maxShape)
}

// Region is a selection within a Target.
type Region struct {
	target Target
	sel    zarr.Selection
}

func (r Region) Target() Target { return r.target }
func (r Region) Selection() zarr.Selection { return append(zarr.Selection(nil), r.sel...) }

func (r Region) String() string {
	return fmt.Sprintf("%s%s", r.target.key, r.sel)
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
