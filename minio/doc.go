// Package minio provides a zarr.Store backed by MinIO or any S3-compatible
// object storage.
//
// Each store key becomes an object below a root prefix in one bucket, so a
// virtual dataset and the containers it draws on can live side by side in
// object storage. Resolver finds source containers next to the dataset's
// own, here "scans/raw_file_1.zarr" for a source named "raw_file_1.zarr":
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := miniostore.NewStore(client, "detector", "scans/eiger.zarr")
//	ds, err := vds.Open(ctx, store, "data", vds.WithResolver(miniostore.Resolver(store)))
package minio
