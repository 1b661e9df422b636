// Package blobstore abstracts the object storage that backups are written to.
//
// Names are slash-separated keys. Blobs are written whole with Put and never
// modified afterwards, except for the small pointer objects a backup rewrites.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: a local directory, written with atomic renames
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 through aws-sdk-go-v2, with s3.DDBCommitStore for
//     conditional pointer updates through DynamoDB
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
