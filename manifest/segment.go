package manifest

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// SegmentsDir holds the immutable segment files.
	SegmentsDir = "segments"
	// GCDir holds quarantined segment files pending purge.
	GCDir = "gc"

	segmentFilePrefix = "seg_"
	segmentFileExt    = ".seg"
)

// SegmentType is the kind of records a segment holds.
type SegmentType uint8

const (
	SegmentNodes SegmentType = iota
	SegmentEdges
)

func (t SegmentType) String() string {
	switch t {
	case SegmentNodes:
		return "nodes"
	case SegmentEdges:
		return "edges"
	default:
		return fmt.Sprintf("SegmentType(%d)", uint8(t))
	}
}

// ParseSegmentType parses "nodes" or "edges".
func ParseSegmentType(s string) (SegmentType, error) {
	switch s {
	case "nodes":
		return SegmentNodes, nil
	case "edges":
		return SegmentEdges, nil
	default:
		return 0, fmt.Errorf("unknown segment type %q", s)
	}
}

func (t SegmentType) MarshalText() ([]byte, error) {
	if t != SegmentNodes && t != SegmentEdges {
		return nil, fmt.Errorf("unknown segment type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *SegmentType) UnmarshalText(text []byte) error {
	v, err := ParseSegmentType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// SegmentSummary is what the segment writer reports for a finished segment.
type SegmentSummary struct {
	RecordCount uint64
	ByteSize    uint64
	NodeTypes   []string
	FilePaths   []string
	EdgeTypes   []string
}

// SegmentDescriptor identifies one on-disk segment and carries its zone-map
// summary. The file path is never stored; see FilePath.
type SegmentDescriptor struct {
	SegmentID   uint64      `json:"segment_id"`
	ShardID     *uint16     `json:"shard_id"`
	SegmentType SegmentType `json:"segment_type"`
	RecordCount uint64      `json:"record_count"`
	ByteSize    uint64      `json:"byte_size"`
	NodeTypes   StringSet   `json:"node_types"`
	FilePaths   StringSet   `json:"file_paths"`
	EdgeTypes   StringSet   `json:"edge_types"`
}

// FromSegmentSummary converts a segment writer's summary into a descriptor.
// Node segments never carry edge types and edge segments never carry node
// types or file paths.
func FromSegmentSummary(id uint64, shard *uint16, typ SegmentType, summary SegmentSummary) SegmentDescriptor {
	d := SegmentDescriptor{
		SegmentID:   id,
		SegmentType: typ,
		RecordCount: summary.RecordCount,
		ByteSize:    summary.ByteSize,
	}
	if shard != nil {
		s := *shard
		d.ShardID = &s
	}
	switch typ {
	case SegmentNodes:
		d.NodeTypes = NewStringSet(summary.NodeTypes...)
		d.FilePaths = NewStringSet(summary.FilePaths...)
	case SegmentEdges:
		d.EdgeTypes = NewStringSet(summary.EdgeTypes...)
	}
	return d
}

// FileName returns the segment's file name without directories.
func (d SegmentDescriptor) FileName() string {
	return SegmentFileName(d.SegmentID, d.SegmentType)
}

// RelPath returns the path relative to the database root. This and FilePath
// are the only places the segment layout is encoded.
func (d SegmentDescriptor) RelPath() string {
	if d.ShardID == nil {
		return filepath.Join(SegmentsDir, d.FileName())
	}
	return filepath.Join(SegmentsDir, fmt.Sprintf("%02d", *d.ShardID), d.FileName())
}

// FilePath derives the physical path of the segment under dbRoot.
func (d SegmentDescriptor) FilePath(dbRoot string) string {
	return filepath.Join(dbRoot, d.RelPath())
}

// MayContainFile reports whether the segment can hold records for path.
// An empty zone map means "unknown" and never prunes.
func (d SegmentDescriptor) MayContainFile(path string) bool {
	return d.FilePaths.Len() == 0 || d.FilePaths.Contains(path)
}

// MayContainNodeType reports whether the segment can hold nodes of nodeType.
func (d SegmentDescriptor) MayContainNodeType(nodeType string) bool {
	if d.SegmentType != SegmentNodes {
		return false
	}
	return d.NodeTypes.Len() == 0 || d.NodeTypes.Contains(nodeType)
}

// MayContainEdgeType reports whether the segment can hold edges of edgeType.
func (d SegmentDescriptor) MayContainEdgeType(edgeType string) bool {
	if d.SegmentType != SegmentEdges {
		return false
	}
	return d.EdgeTypes.Len() == 0 || d.EdgeTypes.Contains(edgeType)
}

// Clone returns a deep copy.
func (d SegmentDescriptor) Clone() SegmentDescriptor {
	out := d
	if d.ShardID != nil {
		s := *d.ShardID
		out.ShardID = &s
	}
	out.NodeTypes = d.NodeTypes.Clone()
	out.FilePaths = d.FilePaths.Clone()
	out.EdgeTypes = d.EdgeTypes.Clone()
	return out
}

// SegmentFileName formats seg_{id:06}_{type}.seg.
func SegmentFileName(id uint64, typ SegmentType) string {
	return fmt.Sprintf("%s%06d_%s%s", segmentFilePrefix, id, typ, segmentFileExt)
}

// ParseSegmentFileName is the inverse of SegmentFileName. ok is false for any
// name that is not a segment file (temp files, foreign files).
func ParseSegmentFileName(name string) (id uint64, typ SegmentType, ok bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, segmentFileExt) {
		return 0, 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), segmentFileExt)
	idPart, typePart, found := strings.Cut(body, "_")
	if !found || idPart == "" {
		return 0, 0, false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	typ, err = ParseSegmentType(typePart)
	if err != nil {
		return 0, 0, false
	}
	return id, typ, true
}
