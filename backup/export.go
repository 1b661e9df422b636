package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/graphstore/blobstore"
	"github.com/hupe1980/graphstore/internal/fs"
	"github.com/hupe1980/graphstore/internal/resource"
	"github.com/hupe1980/graphstore/manifest"
	"golang.org/x/sync/errgroup"
)

// Result summarizes one export or restore.
type Result struct {
	Catalog *Catalog
	// Transferred counts segments uploaded or downloaded.
	Transferred int
	// Skipped counts segments already present remotely.
	Skipped int
	// Bytes is the stored (compressed) size moved over the wire.
	Bytes int64
}

// Exporter copies committed snapshots of a manifest store to a blob store.
type Exporter struct {
	store *manifest.Store
	dst   blobstore.BlobStore
	opts  options
	ctrl  *resource.Controller
}

// NewExporter creates an exporter from store to dst.
func NewExporter(store *manifest.Store, dst blobstore.BlobStore, opts ...Option) *Exporter {
	o := applyOptions(opts)
	return &Exporter{
		store: store,
		dst:   dst,
		opts:  o,
		ctrl:  o.controller(),
	}
}

// Export uploads snapshot version (0 selects the current one): every
// referenced segment not yet present remotely, the manifest, the catalog
// and finally the remote current pointer. The pointer only moves forward, so
// exporting an older snapshot leaves it alone.
//
// Segments are immutable and named by id, so an interrupted export is
// resumed by running it again.
func (e *Exporter) Export(ctx context.Context, version uint64) (*Result, error) {
	res, err := e.export(ctx, version)
	segments, bytes := 0, int64(0)
	if res != nil {
		segments, bytes = res.Transferred, res.Bytes
		version = res.Catalog.Version
	}
	e.opts.logger.LogBackup(ctx, "export", version, segments, bytes, err)
	return res, err
}

func (e *Exporter) export(ctx context.Context, version uint64) (*Result, error) {
	if e.store.IsEphemeral() {
		return nil, ErrEphemeral
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if version == 0 {
		version = e.store.Current().Version
	}
	m, err := e.store.LoadManifest(version)
	if err != nil {
		return nil, err
	}

	segs := m.Segments()
	cat := &Catalog{
		Version:    m.Version,
		ExportedAt: e.opts.now().Unix(),
		Segments:   make([]Object, len(segs)),
	}
	res := &Result{Catalog: cat}

	var (
		uploaded atomic.Int64
		skipped  atomic.Int64
		bytes    atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range segs {
		if err := e.ctrl.AcquireTransfer(gctx); err != nil {
			break
		}
		g.Go(func() error {
			defer e.ctrl.ReleaseTransfer()
			obj, sent, err := e.exportSegment(gctx, d)
			if err != nil {
				return fmt.Errorf("segment %d: %w", d.SegmentID, err)
			}
			cat.Segments[i] = obj
			if sent {
				uploaded.Add(1)
				bytes.Add(obj.StoredSize)
			} else {
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// AcquireTransfer only fails on a canceled context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := manifest.EncodeManifest(m)
	if err != nil {
		return nil, err
	}
	cat.Manifest = Object{
		Name:       manifestName(m.Version),
		Size:       int64(len(body)),
		StoredSize: int64(len(body)),
		Codec:      CodecNone,
		Checksum:   checksumOf(body),
	}
	if err := e.dst.Put(ctx, cat.Manifest.Name, body); err != nil {
		return nil, fmt.Errorf("put manifest: %w", err)
	}

	catBody, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := e.dst.Put(ctx, CatalogName(m.Version), catBody); err != nil {
		return nil, fmt.Errorf("put catalog: %w", err)
	}

	if err := e.advancePointer(ctx, m.Version); err != nil {
		return nil, err
	}

	res.Transferred = int(uploaded.Load())
	res.Skipped = int(skipped.Load())
	res.Bytes = bytes.Load()
	return res, nil
}

// exportSegment uploads one segment unless an object with the same name
// already exists. It reports whether anything was sent.
func (e *Exporter) exportSegment(ctx context.Context, d manifest.SegmentDescriptor) (Object, bool, error) {
	path := e.store.SegmentPath(d)
	info, err := e.opts.fs.Stat(path)
	if err != nil {
		return Object{}, false, err
	}
	reserved, err := e.ctrl.AcquireBuffer(ctx, info.Size())
	if err != nil {
		return Object{}, false, err
	}
	defer e.ctrl.ReleaseBuffer(reserved)

	raw, err := fs.ReadFile(e.opts.fs, path)
	if err != nil {
		return Object{}, false, err
	}
	body, codec, err := compress(raw, e.opts.codec)
	if err != nil {
		return Object{}, false, err
	}
	obj := Object{
		Name:       segmentName(d, codec),
		SegmentID:  d.SegmentID,
		Size:       int64(len(raw)),
		StoredSize: int64(len(body)),
		Codec:      codec,
		Checksum:   checksumOf(raw),
	}

	exists, err := blobstore.Exists(ctx, e.dst, obj.Name)
	if err != nil {
		return Object{}, false, err
	}
	if exists {
		return obj, false, nil
	}

	if err := e.ctrl.WaitIO(ctx, len(body)); err != nil {
		return Object{}, false, err
	}
	start := time.Now()
	if err := e.dst.Put(ctx, obj.Name, body); err != nil {
		return Object{}, false, err
	}
	e.opts.logger.Debug("uploaded segment",
		"segment_id", d.SegmentID,
		"name", obj.Name,
		"codec", codec.String(),
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return obj, true, nil
}

func (e *Exporter) advancePointer(ctx context.Context, version uint64) error {
	remote, err := RemoteVersion(ctx, e.dst)
	if err != nil && !errors.Is(err, ErrNoBackup) {
		return err
	}
	if remote >= version {
		return nil
	}
	body, err := json.MarshalIndent(pointer{Version: version}, "", "  ")
	if err != nil {
		return err
	}
	if err := e.dst.Put(ctx, pointerName, body); err != nil {
		return fmt.Errorf("put pointer: %w", err)
	}
	return nil
}

type pointer struct {
	Version uint64 `json:"version"`
}

// RemoteVersion returns the version named by the remote current pointer, or
// ErrNoBackup if there is none.
func RemoteVersion(ctx context.Context, src blobstore.BlobStore) (uint64, error) {
	data, err := blobstore.Get(ctx, src, pointerName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, ErrNoBackup
		}
		return 0, err
	}
	var p pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("decode remote pointer: %w", err)
	}
	if p.Version == 0 {
		return 0, fmt.Errorf("decode remote pointer: version 0")
	}
	return p.Version, nil
}

// ListCatalogs returns the versions that have a catalog in src, ascending.
func ListCatalogs(ctx context.Context, src blobstore.BlobStore) ([]uint64, error) {
	names, err := src.List(ctx, catalogPrefix)
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, name := range names {
		var v uint64
		if _, err := fmt.Sscanf(name, catalogPrefix+"%d.json", &v); err == nil && v > 0 {
			versions = append(versions, v)
		}
	}
	return versions, nil
}
