package backup

import (
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"

	"github.com/hupe1980/graphstore/manifest"
	"github.com/zeebo/blake3"
)

// Remote layout, relative to the blob store root:
//
//	current.json             {"version": N}, written last
//	catalog/{v:06}.json      Catalog of version v
//	manifests/{v:06}.json    manifest of version v
//	segments/...             segment bodies, same sharding as on disk,
//	                         suffixed with the codec extension
const (
	catalogPrefix  = "catalog/"
	manifestPrefix = "manifests/"
	pointerName    = manifest.CurrentFileName
)

// Checksum is the BLAKE3-256 digest of an uncompressed body.
type Checksum [32]byte

func checksumOf(data []byte) Checksum {
	return blake3.Sum256(data)
}

func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

func (c Checksum) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Checksum) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(c) {
		return fmt.Errorf("backup: checksum has %d hex digits, want %d", len(text), 2*len(c))
	}
	_, err := hex.Decode(c[:], text)
	return err
}

// Object describes one stored body.
type Object struct {
	Name       string   `json:"name"`
	SegmentID  uint64   `json:"segment_id,omitempty"`
	Size       int64    `json:"size"`
	StoredSize int64    `json:"stored_size"`
	Codec      Codec    `json:"codec"`
	Checksum   Checksum `json:"checksum"`
}

// Catalog lists everything needed to restore one snapshot version.
type Catalog struct {
	Version    uint64   `json:"version"`
	ExportedAt int64    `json:"exported_at"` // unix seconds
	Manifest   Object   `json:"manifest"`
	Segments   []Object `json:"segments"`
}

// Bytes returns the uncompressed size of all segments.
func (c *Catalog) Bytes() int64 {
	var n int64
	for _, s := range c.Segments {
		n += s.Size
	}
	return n
}

// check verifies the catalog covers exactly the segments of m.
func (c *Catalog) check(m *manifest.Manifest) error {
	if c.Version != m.Version {
		return fmt.Errorf("%w: catalog version %d, manifest version %d", ErrCatalogMismatch, c.Version, m.Version)
	}
	byID := make(map[uint64]struct{}, len(c.Segments))
	for _, s := range c.Segments {
		byID[s.SegmentID] = struct{}{}
	}
	segs := m.Segments()
	if len(segs) != len(byID) || len(c.Segments) != len(byID) {
		return fmt.Errorf("%w: catalog has %d segments, manifest %d", ErrCatalogMismatch, len(c.Segments), len(segs))
	}
	for _, d := range segs {
		if _, ok := byID[d.SegmentID]; !ok {
			return fmt.Errorf("%w: segment %d missing from catalog", ErrCatalogMismatch, d.SegmentID)
		}
	}
	return nil
}

// CatalogName returns the remote name of version's catalog.
func CatalogName(version uint64) string {
	return catalogPrefix + manifest.ManifestFileName(version)
}

func manifestName(version uint64) string {
	return manifestPrefix + manifest.ManifestFileName(version)
}

func segmentName(d manifest.SegmentDescriptor, c Codec) string {
	return path.Clean(filepath.ToSlash(d.RelPath())) + c.extension()
}
