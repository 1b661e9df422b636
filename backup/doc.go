// Package backup copies committed snapshots of a manifest chain to a
// blobstore.BlobStore and restores them.
//
// An export uploads the segments a snapshot references, its manifest, a
// catalog with BLAKE3 checksums, and last the remote current.json pointer.
// A reader that follows the pointer therefore always finds a complete
// snapshot. Segments are compressed with zstd (default) or LZ4 and skipped
// when the remote store already has them.
//
//	exp := backup.NewExporter(store, remote, backup.WithCodec(backup.CodecLZ4))
//	res, err := exp.Export(ctx, 0) // current snapshot
//
//	restored, _, err := backup.Restore(ctx, remote, "/var/lib/graph.restore", 0)
//
// Transfers run concurrently and can be throttled with WithLimits.
package backup
