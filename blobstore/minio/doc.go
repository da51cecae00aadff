// Package minio implements blobstore.BlobStore for MinIO and other
// S3-compatible object storage.
//
// The store issues ranged GETs for partial reads and streams Create
// uploads through a pipe, so archived segments never have to be buffered
// in memory. Sizes are taken from object stat calls.
//
// Example:
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//		Creds: credentials.NewStaticV4(accessKey, secretKey, ""),
//	})
//	if err != nil {
//		return err
//	}
//	store := minio.NewStore(client, "skim-archive", "segments/")
package minio
