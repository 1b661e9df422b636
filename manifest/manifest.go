package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
)

const (
	// ManifestsDir holds one immutable manifest file per committed version.
	ManifestsDir = "manifests"
	// CurrentFileName is the atomically swapped pointer to the active version.
	CurrentFileName = "current.json"
	// IndexFileName is the persisted ManifestIndex.
	IndexFileName = "manifest_index.json"
)

// Stats are totals over a manifest's segment lists, computed once when the
// manifest is created.
type Stats struct {
	TotalNodes       uint64 `json:"total_nodes"`
	TotalEdges       uint64 `json:"total_edges"`
	NodeSegmentCount uint64 `json:"node_segment_count"`
	EdgeSegmentCount uint64 `json:"edge_segment_count"`
}

// ComputeStats sums record counts over both segment lists.
func ComputeStats(nodeSegments, edgeSegments []SegmentDescriptor) Stats {
	st := Stats{
		NodeSegmentCount: uint64(len(nodeSegments)),
		EdgeSegmentCount: uint64(len(edgeSegments)),
	}
	for _, s := range nodeSegments {
		st.TotalNodes += s.RecordCount
	}
	for _, s := range edgeSegments {
		st.TotalEdges += s.RecordCount
	}
	return st
}

// Manifest is an immutable snapshot of the active segment set.
//
// Everything except Tags is fixed once the manifest file is first written.
// Tags may be replaced later through Store.TagSnapshot, which rewrites the
// same version's file atomically.
type Manifest struct {
	Version       uint64              `json:"version"`
	CreatedAt     int64               `json:"created_at"` // Unix seconds
	NodeSegments  []SegmentDescriptor `json:"node_segments"`
	EdgeSegments  []SegmentDescriptor `json:"edge_segments"`
	Tags          map[string]string   `json:"tags"`
	Stats         Stats               `json:"stats"`
	ParentVersion *uint64             `json:"parent_version"`
}

// ManifestFileName formats {version:06}.json.
func ManifestFileName(version uint64) string {
	return fmt.Sprintf("%06d.json", version)
}

// ManifestPath returns the path of a version's manifest under dbRoot.
func ManifestPath(dbRoot string, version uint64) string {
	return filepath.Join(dbRoot, ManifestsDir, ManifestFileName(version))
}

// SegmentIDs returns the ids of every node and edge segment.
func (m *Manifest) SegmentIDs() SegmentSet {
	ids := make([]uint64, 0, len(m.NodeSegments)+len(m.EdgeSegments))
	for _, s := range m.NodeSegments {
		ids = append(ids, s.SegmentID)
	}
	for _, s := range m.EdgeSegments {
		ids = append(ids, s.SegmentID)
	}
	return NewSegmentSet(ids...)
}

// Segments returns node segments followed by edge segments.
func (m *Manifest) Segments() []SegmentDescriptor {
	out := make([]SegmentDescriptor, 0, len(m.NodeSegments)+len(m.EdgeSegments))
	out = append(out, m.NodeSegments...)
	return append(out, m.EdgeSegments...)
}

// Validate checks the invariants a decoded manifest must satisfy.
func (m *Manifest) Validate() error {
	if m.Version == 0 {
		return invalidFormat("validate", "version must be positive")
	}
	if m.ParentVersion != nil && *m.ParentVersion >= m.Version {
		return invalidFormat("validate", "parent version %d is not older than version %d", *m.ParentVersion, m.Version)
	}
	seen := make(map[uint64]struct{}, len(m.NodeSegments)+len(m.EdgeSegments))
	check := func(list []SegmentDescriptor, want SegmentType) error {
		for _, s := range list {
			if s.SegmentType != want {
				return invalidFormat("validate", "segment %d has type %s in %s list", s.SegmentID, s.SegmentType, want)
			}
			if _, dup := seen[s.SegmentID]; dup {
				return invalidFormat("validate", "duplicate segment id %d in version %d", s.SegmentID, m.Version)
			}
			seen[s.SegmentID] = struct{}{}
		}
		return nil
	}
	if err := check(m.NodeSegments, SegmentNodes); err != nil {
		return err
	}
	if err := check(m.EdgeSegments, SegmentEdges); err != nil {
		return err
	}
	for k := range m.Tags {
		if k == "" {
			return invalidFormat("validate", "empty tag key in version %d", m.Version)
		}
	}
	if want := ComputeStats(m.NodeSegments, m.EdgeSegments); want != m.Stats {
		return invalidFormat("validate", "stats of version %d do not match its segments", m.Version)
	}
	return nil
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.NodeSegments = cloneDescriptors(m.NodeSegments)
	out.EdgeSegments = cloneDescriptors(m.EdgeSegments)
	out.Tags = maps.Clone(m.Tags)
	if m.ParentVersion != nil {
		p := *m.ParentVersion
		out.ParentVersion = &p
	}
	return &out
}

func cloneDescriptors(in []SegmentDescriptor) []SegmentDescriptor {
	if in == nil {
		return nil
	}
	out := make([]SegmentDescriptor, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}

// encodeManifest pretty-prints m. Empty lists and maps are written as [] and {}
// rather than null to keep files readable.
func encodeManifest(m *Manifest) ([]byte, error) {
	out := *m
	if out.NodeSegments == nil {
		out.NodeSegments = []SegmentDescriptor{}
	}
	if out.EdgeSegments == nil {
		out.EdgeSegments = []SegmentDescriptor{}
	}
	if out.Tags == nil {
		out.Tags = map[string]string{}
	}
	return json.MarshalIndent(&out, "", "  ")
}

// decodeManifest parses and validates a manifest file body.
func decodeManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, serializationError("decode manifest", path, err)
	}
	normalizeManifest(&m)
	if err := m.Validate(); err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Path = path
		}
		return nil, err
	}
	return &m, nil
}

// normalizeManifest maps empty collections to nil so decoded and constructed
// manifests compare equal.
func normalizeManifest(m *Manifest) {
	if len(m.NodeSegments) == 0 {
		m.NodeSegments = nil
	}
	if len(m.EdgeSegments) == 0 {
		m.EdgeSegments = nil
	}
	if len(m.Tags) == 0 {
		m.Tags = nil
	}
}
