package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/hupe1980/graphstore/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresEndpointAndBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(context.Background(), Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("GRAPHSTORE_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	ctx := context.Background()
	store, err := New(ctx, Config{
		Endpoint:     endpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "test-graphstore",
		Prefix:       "test-prefix/",
		CreateBucket: true,
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "manifests/1.json", data))

	blob, err := store.Open(ctx, "manifests/1.json")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, len(data))
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)

	rc, err := blob.ReadRange(ctx, 6, 5)
	require.NoError(t, err)
	part, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, rc.Close())
	require.NoError(t, blob.Close())

	names, err := store.List(ctx, "manifests/")
	require.NoError(t, err)
	assert.Contains(t, names, "manifests/1.json")

	require.NoError(t, store.Delete(ctx, "manifests/1.json"))
	_, err = store.Open(ctx, "manifests/1.json")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx, "manifests/1.json"))
}
