package vds

import (
	"context"
	"errors"
	"fmt"

	"github.com/qri-io/zarr-vds"
)

// Descriptor is the frozen description of a virtual dataset.
type Descriptor struct {
	Key      string
	Shape    []int
	MaxShape []int
	Dtype    zarr.Dtype
	Fill     float64
	Entries  []Mapping
}

// Dataset is a virtual dataset bound to the container it is persisted in.
type Dataset struct {
	store  zarr.Store
	target Target
	desc   Descriptor
	opts   *options
}

// Create commits a virtual dataset built from entries to store, under the
// key of the entries' common target. Elements no entry covers read as fill.
//
// The whole descriptor is written as one document in a single Store.Put, so
// a failed Create leaves no partial metadata behind.
func Create(ctx context.Context, store zarr.Store, entries []Mapping, fill float64, opts ...Option) (*Dataset, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	tgt := entries[0].dst.target
	dtype := entries[0].dtype
	if o.dtype != nil {
		dtype = *o.dtype
	}
	if !dtype.Numeric() {
		return nil, fmt.Errorf("%w: %s", zarr.ErrUnsupportedDtype, dtype)
	}
	if !dtype.Representable(fill) {
		return nil, fmt.Errorf("%w: %v as %s", ErrInvalidFill, fill, dtype)
	}
	records := make([]zarr.MappingRecord, len(entries))
	for i, m := range entries {
		if !m.dst.target.equal(tgt) {
			return nil, fmt.Errorf("%w: mapping %d targets %s%v, mapping 0 targets %s%v",
				ErrTargetConflict, i, m.dst.target.key, m.dst.target.shape, tgt.key, tgt.shape)
		}
		if m.dtype != dtype && !zarr.Coercible(m.dtype, dtype) {
			return nil, fmt.Errorf("%w: mapping %d has %s, dataset has %s", ErrDtypeMismatch, i, m.dtype, dtype)
		}
		records[i] = m.record()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkVacant(store, tgt.key, o.overwrite); err != nil {
		return nil, err
	}

	meta := &zarr.VirtualMeta{
		VirtualFormat: zarr.VirtualFormat,
		Shape:         tgt.Shape(),
		MaxShape:      tgt.maxShape,
		Dtype:         dtype,
		FillValue:     zarr.EncodeFillValue(fill),
		Mappings:      records,
	}
	if err := meta.Seal(); err != nil {
		return nil, err
	}
	if err := zarr.PutMeta(store, tgt.key, meta); err != nil {
		return nil, fmt.Errorf("writing virtual dataset %q: %w", tgt.key, err)
	}
	if o.overwrite {
		// an ordinary array previously at this key is superseded
		if err := zarr.Remove(store, tgt.key); err != nil {
			return nil, err
		}
	}
	o.logger.InfoContext(ctx, "created virtual dataset",
		"key", tgt.key,
		"shape", tgt.shape,
		"mappings", len(entries),
	)

	return &Dataset{
		store:  store,
		target: tgt,
		desc: Descriptor{
			Key:      tgt.key,
			Shape:    tgt.Shape(),
			MaxShape: tgt.MaxShape(),
			Dtype:    dtype,
			Fill:     fill,
			Entries:  append([]Mapping(nil), entries...),
		},
		opts: o,
	}, nil
}

// checkVacant fails with zarr.ErrExists if key already holds an array or a
// virtual dataset and overwrite is not set.
func checkVacant(store zarr.Store, key string, overwrite bool) error {
	if overwrite {
		return nil
	}
	p, err := zarr.NewPath(key)
	if err != nil {
		return err
	}
	for _, mt := range []zarr.MetaType{zarr.MTVirtual, zarr.MTArray} {
		ok, err := zarr.Exists(store, p.Join(string(mt)).String())
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: dataset %q", zarr.ErrExists, key)
		}
	}
	return nil
}

// IsVirtual reports whether key in store holds a virtual dataset.
func IsVirtual(store zarr.Store, key string) (bool, error) {
	p, err := zarr.NewPath(key)
	if err != nil {
		return false, err
	}
	return zarr.Exists(store, p.Join(string(zarr.MTVirtual)).String())
}

// Open loads the virtual dataset persisted under key. A key holding no
// virtual dataset is reported as zarr.ErrNotfound.
func Open(ctx context.Context, store zarr.Store, key string, opts ...Option) (*Dataset, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := &zarr.VirtualMeta{}
	if err := zarr.GetMeta(store, key, zarr.MTVirtual, meta); err != nil {
		if errors.Is(err, zarr.ErrMalformedMeta) {
			return nil, fmt.Errorf("%w: %q: %v", ErrCorruptMetadata, key, err)
		}
		return nil, fmt.Errorf("opening virtual dataset %q: %w", key, err)
	}
	desc, tgt, err := decodeMeta(key, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCorruptMetadata, key, err)
	}
	return &Dataset{store: store, target: tgt, desc: desc, opts: o}, nil
}

func decodeMeta(key string, meta *zarr.VirtualMeta) (Descriptor, Target, error) {
	if meta.VirtualFormat != zarr.VirtualFormat {
		return Descriptor{}, Target{}, fmt.Errorf("unsupported virtual format %d", meta.VirtualFormat)
	}
	if err := meta.Verify(); err != nil {
		return Descriptor{}, Target{}, err
	}
	if len(meta.Mappings) == 0 {
		return Descriptor{}, Target{}, ErrNoEntries
	}
	if !meta.Dtype.Numeric() {
		return Descriptor{}, Target{}, fmt.Errorf("%w: %s", zarr.ErrUnsupportedDtype, meta.Dtype)
	}
	fill, err := zarr.ParseFillValue(meta.FillValue)
	if err != nil {
		return Descriptor{}, Target{}, err
	}
	var opts []DescriptorOption
	if meta.MaxShape != nil {
		opts = append(opts, WithMaxShape(meta.MaxShape...))
	}
	tgt, err := NewTarget(key, meta.Shape, opts...)
	if err != nil {
		return Descriptor{}, Target{}, err
	}
	entries := make([]Mapping, len(meta.Mappings))
	for i, rec := range meta.Mappings {
		if entries[i], err = mappingFromRecord(rec, tgt); err != nil {
			return Descriptor{}, Target{}, fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	return Descriptor{
		Key:      key,
		Shape:    tgt.Shape(),
		MaxShape: tgt.MaxShape(),
		Dtype:    meta.Dtype,
		Fill:     fill,
		Entries:  entries,
	}, tgt, nil
}

// Descriptor returns the dataset's frozen description.
func (d *Dataset) Descriptor() Descriptor {
	desc := d.desc
	desc.Shape = append([]int(nil), d.desc.Shape...)
	desc.MaxShape = append([]int(nil), d.desc.MaxShape...)
	desc.Entries = append([]Mapping(nil), d.desc.Entries...)
	return desc
}

// Dtype returns the element type reads produce.
func (d *Dataset) Dtype() zarr.Dtype { return d.desc.Dtype }

// FillValue returns the value of elements no mapping supplies.
func (d *Dataset) FillValue() float64 { return d.desc.Fill }

// Sources lists the distinct source paths in mapping order.
func (d *Dataset) Sources() []string {
	seen := map[string]bool{}
	var paths []string
	for _, m := range d.desc.Entries {
		if !seen[m.src.path] {
			seen[m.src.path] = true
			paths = append(paths, m.src.path)
		}
	}
	return paths
}
