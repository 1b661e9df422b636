package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"

	"github.com/hupe1980/graphstore/blobstore"
	"github.com/hupe1980/graphstore/internal/fs"
	"github.com/hupe1980/graphstore/internal/resource"
	"github.com/hupe1980/graphstore/manifest"
	"golang.org/x/sync/errgroup"
)

// ReadCatalog fetches the catalog of version (0 selects the remote current
// pointer).
func ReadCatalog(ctx context.Context, src blobstore.BlobStore, version uint64) (*Catalog, error) {
	if version == 0 {
		v, err := RemoteVersion(ctx, src)
		if err != nil {
			return nil, err
		}
		version = v
	}
	data, err := blobstore.Get(ctx, src, CatalogName(version))
	if err != nil {
		return nil, fmt.Errorf("read catalog %d: %w", version, err)
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalog %d: %w", version, err)
	}
	return &cat, nil
}

// Restore rebuilds snapshot version (0 selects the remote current pointer)
// from src into dir, which must not hold a chain. Every body is verified
// against its catalog checksum before it is written. The returned store has
// the restored snapshot as its only, current version.
func Restore(ctx context.Context, src blobstore.BlobStore, dir string, version uint64, opts ...Option) (*manifest.Store, *Result, error) {
	o := applyOptions(opts)
	store, res, err := restore(ctx, src, dir, version, o)
	segments, bytes := 0, int64(0)
	if res != nil {
		segments, bytes = res.Transferred, res.Bytes
		version = res.Catalog.Version
	}
	o.logger.LogBackup(ctx, "restore", version, segments, bytes, err)
	return store, res, err
}

func restore(ctx context.Context, src blobstore.BlobStore, dir string, version uint64, o options) (*manifest.Store, *Result, error) {
	ptr := filepath.Join(dir, manifest.CurrentFileName)
	exists, err := fs.Exists(o.fs, ptr)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, &manifest.Error{Kind: manifest.ErrAlreadyExists, Op: "restore", Path: dir}
	}

	cat, err := ReadCatalog(ctx, src, version)
	if err != nil {
		return nil, nil, err
	}
	ctrl := o.controller()

	body, err := fetch(ctx, src, cat.Manifest, ctrl)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: %w", err)
	}
	m, err := manifest.DecodeManifest(body)
	if err != nil {
		return nil, nil, err
	}
	if err := cat.check(m); err != nil {
		return nil, nil, err
	}

	byID := make(map[uint64]Object, len(cat.Segments))
	for _, obj := range cat.Segments {
		byID[obj.SegmentID] = obj
	}

	var bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range m.Segments() {
		obj := byID[d.SegmentID]
		if err := ctrl.AcquireTransfer(gctx); err != nil {
			break
		}
		g.Go(func() error {
			defer ctrl.ReleaseTransfer()
			reserved, err := ctrl.AcquireBuffer(gctx, obj.Size)
			if err != nil {
				return err
			}
			defer ctrl.ReleaseBuffer(reserved)

			raw, err := fetch(gctx, src, obj, ctrl)
			if err != nil {
				return fmt.Errorf("segment %d: %w", d.SegmentID, err)
			}
			path := d.FilePath(dir)
			if err := o.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := fs.WriteFileAtomic(o.fs, path, raw, syncMode(o.durability)); err != nil {
				return fmt.Errorf("segment %d: %w", d.SegmentID, err)
			}
			bytes.Add(obj.StoredSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	store, err := manifest.Import(dir, m,
		manifest.WithDurability(o.durability),
		manifest.WithFileSystem(o.fs),
		manifest.WithLogger(o.logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return store, &Result{
		Catalog:     cat,
		Transferred: len(cat.Segments),
		Bytes:       bytes.Load(),
	}, nil
}

// fetch downloads obj through the rate limiter, decompresses it and checks
// its checksum.
func fetch(ctx context.Context, src blobstore.BlobStore, obj Object, ctrl *resource.Controller) ([]byte, error) {
	blob, err := src.Open(ctx, obj.Name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = blob.Close() }()

	if blob.Size() != obj.StoredSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, catalog says %d", ErrChecksumMismatch, obj.Name, blob.Size(), obj.StoredSize)
	}
	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	stored, err := io.ReadAll(resource.NewRateLimitedReader(ctx, rc, ctrl))
	if err != nil {
		return nil, err
	}
	raw, err := decompress(stored, obj.Codec, obj.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChecksumMismatch, obj.Name, err)
	}
	if checksumOf(raw) != obj.Checksum {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, obj.Name)
	}
	return raw, nil
}

func syncMode(d manifest.Durability) fs.SyncMode {
	if d == manifest.DurabilityRelaxed {
		return fs.NoSync
	}
	return fs.SyncFile
}
