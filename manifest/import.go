package manifest

import (
	"context"
	"time"
)

// EncodeManifest returns m in its on-disk JSON form.
func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := encodeManifest(m)
	if err != nil {
		return nil, serializationError("encode manifest", "", err)
	}
	return data, nil
}

// DecodeManifest parses and validates a manifest in its on-disk JSON form.
func DecodeManifest(data []byte) (*Manifest, error) {
	return decodeManifest("", data)
}

// Import starts a new chain in dir whose first snapshot is m, keeping m's
// version. Restoring a backup uses it. The segment files m references must
// already be in place; ParentVersion is kept even though the parent is absent.
func Import(dir string, m *Manifest, opts ...Option) (*Store, error) {
	if m == nil {
		return nil, &Error{Kind: ErrInvalidArgument, Op: "import", Path: dir}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	o := applyOptions(opts)
	s := newStore(dir, o)

	m = m.Clone()
	idx := NewIndex()
	idx.AddSnapshot(m)
	idx.NextSegmentID = 1
	if maxID, ok := idx.ReferencedSegments.Max(); ok {
		idx.NextSegmentID = maxID + 1
	}

	if err := s.initChain("import", m, idx); err != nil {
		o.metrics.RecordOpen(time.Since(start), err)
		return nil, err
	}
	s.install(m, idx)
	o.metrics.RecordOpen(time.Since(start), nil)
	s.log.LogOpen(context.Background(), m.Version, idx.Len(), nil)
	return s, nil
}
