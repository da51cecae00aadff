// Package s3 implements blobstore.BlobStore for Amazon S3.
//
// Reads use ranged GETs so the block cache can pull individual blocks of
// archived segments without downloading whole objects. Create streams
// through the SDK upload manager, which switches to multipart uploads for
// large segments. Put attaches a CRC32C checksum that S3 verifies on
// receipt.
//
// DDBCommitStore layers DynamoDB conditional writes on top of a Store so
// that concurrent archivers can commit the catalog CURRENT pointer with
// compare-and-swap semantics, which plain S3 does not offer.
package s3
