package manifest

// SnapshotDiff describes how the segment sets of two versions differ.
// Computed on demand and never persisted.
type SnapshotDiff struct {
	FromVersion         uint64   `json:"from_version"`
	ToVersion           uint64   `json:"to_version"`
	AddedNodeSegments   []uint64 `json:"added_node_segments"`
	RemovedNodeSegments []uint64 `json:"removed_node_segments"`
	AddedEdgeSegments   []uint64 `json:"added_edge_segments"`
	RemovedEdgeSegments []uint64 `json:"removed_edge_segments"`
	StatsFrom           Stats    `json:"stats_from"`
	StatsTo             Stats    `json:"stats_to"`

	unchangedNodes []uint64
	unchangedEdges []uint64
}

// UnchangedNodeSegments returns node segment ids present in both versions.
func (d *SnapshotDiff) UnchangedNodeSegments() []uint64 { return d.unchangedNodes }

// UnchangedEdgeSegments returns edge segment ids present in both versions.
func (d *SnapshotDiff) UnchangedEdgeSegments() []uint64 { return d.unchangedEdges }

// Empty reports whether both versions reference the same segments.
func (d *SnapshotDiff) Empty() bool {
	return len(d.AddedNodeSegments) == 0 && len(d.RemovedNodeSegments) == 0 &&
		len(d.AddedEdgeSegments) == 0 && len(d.RemovedEdgeSegments) == 0
}

// DiffManifests compares two manifests. Node and edge segments are compared
// independently; every id lands in exactly one of added, removed or unchanged.
func DiffManifests(from, to *Manifest) *SnapshotDiff {
	fromNodes, toNodes := idSet(from.NodeSegments), idSet(to.NodeSegments)
	fromEdges, toEdges := idSet(from.EdgeSegments), idSet(to.EdgeSegments)

	return &SnapshotDiff{
		FromVersion:         from.Version,
		ToVersion:           to.Version,
		AddedNodeSegments:   toNodes.Difference(fromNodes).Slice(),
		RemovedNodeSegments: fromNodes.Difference(toNodes).Slice(),
		AddedEdgeSegments:   toEdges.Difference(fromEdges).Slice(),
		RemovedEdgeSegments: fromEdges.Difference(toEdges).Slice(),
		StatsFrom:           from.Stats,
		StatsTo:             to.Stats,
		unchangedNodes:      fromNodes.Intersection(toNodes).Slice(),
		unchangedEdges:      fromEdges.Intersection(toEdges).Slice(),
	}
}

// DiffSnapshots loads both versions and compares them.
func (s *Store) DiffSnapshots(from, to uint64) (*SnapshotDiff, error) {
	a, err := s.LoadManifest(from)
	if err != nil {
		return nil, err
	}
	b, err := s.LoadManifest(to)
	if err != nil {
		return nil, err
	}
	return DiffManifests(a, b), nil
}

func idSet(list []SegmentDescriptor) SegmentSet {
	set := NewSegmentSet()
	for _, d := range list {
		set.Add(d.SegmentID)
	}
	return set
}
