// Package vds composes virtual datasets: logical arrays whose elements are
// assembled at read time from regions of arrays held in other containers.
//
// Building a virtual dataset is pure metadata work. Sources and targets are
// described with NewSource and NewTarget, paired region by region with Map,
// and committed to a container with Create:
//
//	tgt, _ := vds.NewTarget("data", []int{78, 200, 200})
//	var maps []vds.Mapping
//	offset := 0
//	for _, raw := range files {
//		src, _ := vds.NewSource(raw.path, "data", raw.shape)
//		region, _ := tgt.Select(zarr.Range(offset, offset+raw.shape[0]), zarr.All(), zarr.All())
//		m, _ := vds.Map(src, region, zarr.Float64)
//		maps = append(maps, m)
//		offset += raw.shape[0]
//	}
//	ds, err := vds.Create(ctx, store, maps, 45)
//
// No source container is touched until a read. Dataset.Read starts from a
// buffer of fill values and folds each mapping over it in order, so later
// mappings shadow earlier ones wherever both supply data. A mapping whose
// source cannot be opened contributes nothing under FillMissing (the
// default) or fails the read under FailMissing.
package vds
