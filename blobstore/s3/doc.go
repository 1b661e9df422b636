// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, s3.Config{
//	    Bucket: "my-bucket",
//	    Prefix: "graphs/main/",
//	    Region: "us-east-1",
//	})
//
//	exp := backup.NewExporter(manifests, store)
//	_, err = exp.Export(ctx, 0)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads for large segments
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Optional DynamoDB arbitration of the version pointer
package s3
