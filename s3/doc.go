// Package s3 provides a zarr.Store backed by Amazon S3.
//
// # Usage
//
//	store, err := s3.New(ctx, "detector",
//	    s3.WithPrefix("scans/percival.zarr"),
//	    s3.WithRegion("eu-west-1"),
//	)
//
//	ds, err := vds.Open(ctx, store, "data", vds.WithResolver(s3.Resolver(store)))
//
// Each store key becomes one object, written with a single PutObject so
// metadata documents are never visible half-written.
package s3
