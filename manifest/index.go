package manifest

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"sort"
)

// SnapshotInfo is the lightweight per-version summary kept in the index so
// listing snapshots never touches manifest files.
type SnapshotInfo struct {
	Version   uint64            `json:"version"`
	CreatedAt int64             `json:"created_at"`
	Tags      map[string]string `json:"tags"`
	Stats     Stats             `json:"stats"`
}

// Index caches everything the read path needs: snapshot summaries, a tag
// lookup table and the set of segment ids referenced by any tracked snapshot.
//
// Index methods perform no I/O and cannot fail. Index is not safe for
// concurrent mutation; Store only mutates clones and swaps them in.
type Index struct {
	LatestVersion uint64 `json:"latest_version"`
	// NextSegmentID is the allocator high-water mark at the last commit.
	NextSegmentID      uint64                       `json:"next_segment_id"`
	Snapshots          []SnapshotInfo               `json:"snapshots"`
	TagIndex           map[string]map[string]uint64 `json:"tag_index"`
	ReferencedSegments SegmentSet                   `json:"referenced_segments"`
	// TagsDirty is set while a tag rewrite is in flight. Open rebuilds an
	// index that carries it.
	TagsDirty bool `json:"tags_dirty,omitempty"`

	pos map[uint64]int // version -> position in Snapshots
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		TagIndex:           make(map[string]map[string]uint64),
		ReferencedSegments: NewSegmentSet(),
		pos:                make(map[uint64]int),
	}
}

// AddSnapshot records m. Called exactly once per successful commit; calling it
// again for the same version replaces the previous entry.
//
// Tags are merged into the tag index last-write-wins per (key, value) pair and
// m's segment ids are unioned into ReferencedSegments.
func (idx *Index) AddSnapshot(m *Manifest) {
	info := SnapshotInfo{
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		Tags:      cloneTags(m.Tags),
		Stats:     m.Stats,
	}

	if i, ok := idx.pos[m.Version]; ok {
		old := idx.Snapshots[i].Tags
		idx.Snapshots[i] = info
		idx.pruneTags(m.Version, old)
	} else {
		n := len(idx.Snapshots)
		if n == 0 || idx.Snapshots[n-1].Version < m.Version {
			idx.Snapshots = append(idx.Snapshots, info)
			idx.pos[m.Version] = n
		} else {
			at := sort.Search(n, func(i int) bool { return idx.Snapshots[i].Version > m.Version })
			idx.Snapshots = slices.Insert(idx.Snapshots, at, info)
			idx.reindex()
		}
	}

	for k, v := range m.Tags {
		idx.setTag(k, v, m.Version)
	}

	segs := m.SegmentIDs()
	idx.ReferencedSegments.Union(segs)
	if maxID, ok := segs.Max(); ok && maxID+1 > idx.NextSegmentID {
		idx.NextSegmentID = maxID + 1
	}
	if m.Version > idx.LatestVersion {
		idx.LatestVersion = m.Version
	}
}

// RemoveSnapshot drops the entry for version and any tag index entries that
// point to it. It deliberately leaves ReferencedSegments untouched: segment
// liveness is only ever re-derived from the manifests that still exist.
func (idx *Index) RemoveSnapshot(version uint64) bool {
	i, ok := idx.pos[version]
	if !ok {
		return false
	}
	tags := idx.Snapshots[i].Tags
	idx.Snapshots = slices.Delete(idx.Snapshots, i, i+1)
	idx.reindex()
	idx.pruneTags(version, tags)
	return true
}

// SetTags replaces the tags of a tracked snapshot. Returns false if version is
// not in the index.
func (idx *Index) SetTags(version uint64, tags map[string]string) bool {
	i, ok := idx.pos[version]
	if !ok {
		return false
	}
	old := idx.Snapshots[i].Tags
	idx.Snapshots[i].Tags = cloneTags(tags)
	idx.pruneTags(version, old)
	for k, v := range tags {
		idx.setTag(k, v, version)
	}
	return true
}

// FindByTag returns the version recorded for (key, value).
func (idx *Index) FindByTag(key, value string) (uint64, bool) {
	v, ok := idx.TagIndex[key][value]
	return v, ok
}

// Snapshot returns the summary for version.
func (idx *Index) Snapshot(version uint64) (SnapshotInfo, bool) {
	i, ok := idx.pos[version]
	if !ok {
		return SnapshotInfo{}, false
	}
	return cloneInfo(idx.Snapshots[i]), true
}

// ListSnapshots returns the summaries in version order. A non-empty filterTag
// keeps only snapshots carrying that tag key. Served from memory only.
func (idx *Index) ListSnapshots(filterTag string) []SnapshotInfo {
	out := make([]SnapshotInfo, 0, len(idx.Snapshots))
	for _, s := range idx.Snapshots {
		if filterTag != "" {
			if _, ok := s.Tags[filterTag]; !ok {
				continue
			}
		}
		out = append(out, cloneInfo(s))
	}
	return out
}

// Len returns the number of tracked snapshots.
func (idx *Index) Len() int { return len(idx.Snapshots) }

// Versions returns the tracked versions in ascending order.
func (idx *Index) Versions() []uint64 {
	out := make([]uint64, len(idx.Snapshots))
	for i, s := range idx.Snapshots {
		out[i] = s.Version
	}
	return out
}

// Clone returns a deep copy.
func (idx *Index) Clone() *Index {
	out := &Index{
		LatestVersion:      idx.LatestVersion,
		NextSegmentID:      idx.NextSegmentID,
		Snapshots:          make([]SnapshotInfo, len(idx.Snapshots)),
		TagIndex:           make(map[string]map[string]uint64, len(idx.TagIndex)),
		ReferencedSegments: idx.ReferencedSegments.Clone(),
		TagsDirty:          idx.TagsDirty,
	}
	for i, s := range idx.Snapshots {
		out.Snapshots[i] = cloneInfo(s)
	}
	for k, values := range idx.TagIndex {
		out.TagIndex[k] = maps.Clone(values)
	}
	out.reindex()
	return out
}

// Equal reports structural equality.
func (idx *Index) Equal(other *Index) bool {
	if idx.LatestVersion != other.LatestVersion || idx.NextSegmentID != other.NextSegmentID || idx.TagsDirty != other.TagsDirty {
		return false
	}
	if len(idx.Snapshots) != len(other.Snapshots) {
		return false
	}
	for i := range idx.Snapshots {
		a, b := idx.Snapshots[i], other.Snapshots[i]
		if a.Version != b.Version || a.CreatedAt != b.CreatedAt || a.Stats != b.Stats || !maps.Equal(a.Tags, b.Tags) {
			return false
		}
	}
	if len(idx.TagIndex) != len(other.TagIndex) {
		return false
	}
	for k, values := range idx.TagIndex {
		if !reflect.DeepEqual(values, other.TagIndex[k]) {
			return false
		}
	}
	return idx.ReferencedSegments.Equal(other.ReferencedSegments)
}

func (idx *Index) setTag(key, value string, version uint64) {
	values, ok := idx.TagIndex[key]
	if !ok {
		values = make(map[string]uint64)
		idx.TagIndex[key] = values
	}
	values[value] = version
}

// pruneTags removes (k, v) entries that point to version. If another tracked
// snapshot still carries the same pair, the newest such snapshot takes over.
func (idx *Index) pruneTags(version uint64, tags map[string]string) {
	for k, v := range tags {
		values := idx.TagIndex[k]
		if values[v] != version {
			continue
		}
		delete(values, v)
		for i := len(idx.Snapshots) - 1; i >= 0; i-- {
			s := idx.Snapshots[i]
			if s.Version != version && s.Tags[k] == v {
				if _, has := s.Tags[k]; has {
					values[v] = s.Version
					break
				}
			}
		}
		if len(values) == 0 {
			delete(idx.TagIndex, k)
		}
	}
}

func (idx *Index) reindex() {
	idx.pos = make(map[uint64]int, len(idx.Snapshots))
	for i, s := range idx.Snapshots {
		idx.pos[s.Version] = i
	}
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	return maps.Clone(tags)
}

func cloneInfo(s SnapshotInfo) SnapshotInfo {
	s.Tags = cloneTags(s.Tags)
	return s
}

func encodeIndex(idx *Index) ([]byte, error) {
	out := *idx
	if out.Snapshots == nil {
		out.Snapshots = []SnapshotInfo{}
	}
	if out.TagIndex == nil {
		out.TagIndex = map[string]map[string]uint64{}
	}
	return json.MarshalIndent(&out, "", "  ")
}

func decodeIndex(path string, data []byte) (*Index, error) {
	idx := NewIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, serializationError("decode index", path, err)
	}
	if idx.TagIndex == nil {
		idx.TagIndex = make(map[string]map[string]uint64)
	}
	for i := range idx.Snapshots {
		idx.Snapshots[i].Tags = cloneTags(idx.Snapshots[i].Tags)
	}
	sort.Slice(idx.Snapshots, func(i, j int) bool { return idx.Snapshots[i].Version < idx.Snapshots[j].Version })
	idx.reindex()
	return idx, nil
}
