package vds

import (
	"context"
	"fmt"

	"github.com/qri-io/zarr-vds"
	"golang.org/x/sync/errgroup"
)

// piece is one mapping's contribution to a read: source elements and the
// positions in the result buffer they belong at.
type piece struct {
	out  zarr.Selection
	data *zarr.Buffer
}

// Shape returns the realized extent of the dataset. An unlimited leading
// dimension extends to cover every open-ended mapping, given the current
// extent of its source.
func (d *Dataset) Shape(ctx context.Context) ([]int, error) {
	shape := d.target.Shape()
	if !unlimited(d.target.maxShape, 0) {
		return shape, nil
	}
	for i, m := range d.desc.Entries {
		if !m.targetOpen(0) {
			continue
		}
		n := m.src.sel[0].Len()
		if m.sourceOpen(0) {
			var err error
			if n, err = d.sourceExtent(ctx, m); err != nil {
				if _, err := d.absent(ctx, i, m, err); err != nil {
					return nil, err
				}
				continue
			}
		}
		if n > 0 {
			if ext := m.dst.sel[0].At(n-1) + 1; ext > shape[0] {
				shape[0] = ext
			}
		}
	}
	return shape, nil
}

// sourceExtent counts the positions an open source selection covers along
// the leading dimension.
func (d *Dataset) sourceExtent(ctx context.Context, m Mapping) (int, error) {
	store, release, err := d.openSource(ctx, m.src.path)
	if err != nil {
		return 0, err
	}
	defer release()
	arr, err := zarr.Open(store, m.src.key, zarr.ModeRead)
	if err != nil {
		return 0, err
	}
	return m.src.sel[0].Resolve(arr.Shape()[0]).Len(), nil
}

// Read returns the elements of the virtual dataset addressed by sel, a
// selection against the realized shape. A nil selection reads everything.
//
// The result starts as the fill value. Each mapping that intersects sel is
// then read from its source and pasted over the result in mapping order, so
// where mappings overlap the later one wins.
func (d *Dataset) Read(ctx context.Context, sel zarr.Selection) (*zarr.Buffer, error) {
	shape, err := d.Shape(ctx)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		sel = zarr.SelectAll(len(shape))
	}
	req, err := sel.Resolve(shape)
	if err != nil {
		return nil, err
	}

	out := zarr.NewBuffer(d.desc.Dtype, req.Shape())
	out.Fill(d.desc.Fill)
	if out.Len() == 0 {
		return out, nil
	}

	pieces := make([]*piece, len(d.desc.Entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.concurrency)
	for i := range d.desc.Entries {
		g.Go(func() error {
			p, err := d.fetch(gctx, i, shape, req)
			if err != nil {
				return err
			}
			pieces[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, p := range pieces {
		if p == nil {
			continue
		}
		if err := out.Paste(p.out, p.data); err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	return out, nil
}

// At reads the single element at idx.
func (d *Dataset) At(ctx context.Context, idx ...int) (float64, error) {
	sel := make(zarr.Selection, len(idx))
	for i, x := range idx {
		sel[i] = zarr.Index(x)
	}
	b, err := d.Read(ctx, sel)
	if err != nil {
		return 0, err
	}
	return b.Float64s()[0], nil
}

// fetch reads mapping i's contribution to the resolved request req. It
// returns nil when the mapping does not intersect req, or when its source is
// unavailable and the policy is FillMissing.
func (d *Dataset) fetch(ctx context.Context, i int, vshape []int, req zarr.Selection) (*piece, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := d.desc.Entries[i]
	rank := len(vshape)

	tgt := make(zarr.Selection, rank)
	for dim := range tgt {
		tgt[dim] = m.dst.sel[dim].Resolve(vshape[dim])
		// the full target slice bounds every pairing, so a miss here means
		// the source need not be opened
		if _, ok := zarr.Project(req[dim], tgt[dim], tgt[dim].Len()); !ok {
			return nil, nil
		}
	}

	store, release, err := d.openSource(ctx, m.src.path)
	if err != nil {
		return d.absent(ctx, i, m, err)
	}
	defer release()
	arr, err := zarr.Open(store, m.src.key, zarr.ModeRead)
	if err != nil {
		return d.absent(ctx, i, m, err)
	}
	ashape := arr.Shape()
	if len(ashape) != rank {
		return d.absent(ctx, i, m, &ShapeMismatchError{Dim: -1, Source: len(ashape), Target: rank})
	}
	if !zarr.Coercible(arr.Dtype(), d.desc.Dtype) {
		return d.absent(ctx, i, m, fmt.Errorf("%w: source has %s, dataset has %s", ErrDtypeMismatch, arr.Dtype(), d.desc.Dtype))
	}

	outSel := make(zarr.Selection, rank)
	srcSel := make(zarr.Selection, rank)
	for dim := 0; dim < rank; dim++ {
		s := m.src.sel[dim]
		if m.sourceOpen(dim) {
			s = s.Resolve(ashape[dim])
		}
		n := tgt[dim].Len()
		if m.deferred(dim) && s.Len() < n {
			n = s.Len()
		}
		p, ok := zarr.Project(req[dim], tgt[dim], n)
		if !ok {
			return nil, nil
		}
		sub := s.Compose(p.Pair)
		if last := sub.Last(); last >= ashape[dim] {
			return d.absent(ctx, i, m, fmt.Errorf("%w: source position %d in dimension %d, extent %d",
				zarr.ErrOutOfBounds, last, dim, ashape[dim]))
		}
		outSel[dim], srcSel[dim] = p.Out, sub
	}

	data, err := arr.Read(srcSel)
	if err != nil {
		return d.absent(ctx, i, m, err)
	}
	d.opts.logger.DebugContext(ctx, "resolved mapping",
		"dataset", d.desc.Key,
		"entry", i,
		"source", m.src.path,
		"source_selection", srcSel.String(),
		"elements", data.Len(),
	)
	return &piece{out: outSel, data: data}, nil
}

// absent applies the missing-source policy to mapping i.
func (d *Dataset) absent(ctx context.Context, i int, m Mapping, cause error) (*piece, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := &MissingSourceError{Entry: i, Path: m.src.path, Key: m.src.key, cause: cause}
	if d.opts.policy == FailMissing {
		return nil, err
	}
	d.opts.logger.WarnContext(ctx, "virtual source unavailable, using fill value",
		"dataset", d.desc.Key,
		"entry", i,
		"source", m.src.path,
		"key", m.src.key,
		"error", cause,
	)
	return nil, nil
}

// openSource resolves path to a store and returns a function releasing it.
func (d *Dataset) openSource(ctx context.Context, path string) (zarr.Store, func(), error) {
	if path == SelfPath {
		return d.store, func() {}, nil
	}
	r := d.opts.resolver
	if r == nil {
		r = defaultResolver(d.store)
	}
	store, err := r.OpenSource(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := releaseStore(store); err != nil {
			d.opts.logger.DebugContext(ctx, "closing source", "source", path, "error", err)
		}
	}, nil
}
