package vds

import (
	"fmt"

	"github.com/qri-io/zarr-vds"
)

// Mapping pairs a source region with the target region it fills. The
// selections on both sides are kept symbolically and only resolved against
// real extents when the virtual dataset is read.
type Mapping struct {
	src   Source
	dst   Region
	dtype zarr.Dtype
}

// Map pairs src with dst. Both must have the same rank and select the same
// number of elements along every dimension. A dimension whose count is only
// known at read time, because it is an open selection on an unlimited
// dimension, is exempt from the check; at read time it pairs as many
// elements as both sides supply.
func Map(src Source, dst Region, dtype zarr.Dtype) (Mapping, error) {
	if src.sel == nil || dst.sel == nil {
		return Mapping{}, &InvalidShapeError{Shape: src.shape, Reason: "uninitialized descriptor"}
	}
	if !dtype.Numeric() {
		return Mapping{}, fmt.Errorf("%w: %s", zarr.ErrUnsupportedDtype, dtype)
	}
	if len(src.sel) != len(dst.sel) {
		return Mapping{}, &ShapeMismatchError{Dim: -1, Source: len(src.sel), Target: len(dst.sel)}
	}
	m := Mapping{src: src, dst: dst, dtype: dtype}
	for d := range src.sel {
		if m.deferred(d) {
			continue
		}
		if sc, tc := src.sel[d].Len(), dst.sel[d].Len(); sc != tc {
			return Mapping{}, &ShapeMismatchError{Dim: d, Source: sc, Target: tc}
		}
	}
	return m, nil
}

func (m Mapping) Source() Source { return m.src }
func (m Mapping) Target() Region { return m.dst }
func (m Mapping) Dtype() zarr.Dtype { return m.dtype }

func (m Mapping) String() string {
	return fmt.Sprintf("%s -> %s", m.src, m.dst)
}

// deferred reports whether the element count along d depends on an extent
// that is only known at read time.
func (m Mapping) deferred(d int) bool {
	return m.sourceOpen(d) || m.targetOpen(d)
}

func (m Mapping) sourceOpen(d int) bool {
	return unlimited(m.src.maxShape, d) && m.src.sel[d].Open()
}

func (m Mapping) targetOpen(d int) bool {
	return unlimited(m.dst.target.maxShape, d) && m.dst.sel[d].Open()
}

func (m Mapping) record() zarr.MappingRecord {
	return zarr.MappingRecord{
		SourcePath:      m.src.path,
		SourceKey:       m.src.key,
		SourceShape:     m.src.Shape(),
		SourceMaxShape:  m.src.maxShape,
		SourceSelection: m.src.Selection(),
		TargetSelection: m.dst.Selection(),
		Dtype:           m.dtype,
	}
}

// mappingFromRecord rebuilds a mapping from its persisted form, applying the
// same validation as construction.
func mappingFromRecord(rec zarr.MappingRecord, tgt Target) (Mapping, error) {
	var opts []DescriptorOption
	if rec.SourceMaxShape != nil {
		opts = append(opts, WithMaxShape(rec.SourceMaxShape...))
	}
	src, err := NewSource(rec.SourcePath, rec.SourceKey, rec.SourceShape, opts...)
	if err != nil {
		return Mapping{}, err
	}
	if src, err = src.Select(rec.SourceSelection...); err != nil {
		return Mapping{}, err
	}
	dst, err := tgt.Select(rec.TargetSelection...)
	if err != nil {
		return Mapping{}, err
	}
	return Map(src, dst, rec.Dtype)
}
