package manifest

import (
	"encoding/json"
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// SegmentSet is a set of segment ids backed by a 64-bit Roaring bitmap.
// Segment ids are dense and monotonic, which is the case Roaring compresses best.
//
// The zero value is an empty set ready to use.
type SegmentSet struct {
	rb *roaring64.Bitmap
}

// NewSegmentSet builds a set from ids.
func NewSegmentSet(ids ...uint64) SegmentSet {
	s := SegmentSet{rb: roaring64.New()}
	s.rb.AddMany(ids)
	return s
}

func (s *SegmentSet) bitmap() *roaring64.Bitmap {
	if s.rb == nil {
		s.rb = roaring64.New()
	}
	return s.rb
}

// Add inserts id.
func (s *SegmentSet) Add(id uint64) { s.bitmap().Add(id) }

// Contains reports whether id is in the set.
func (s SegmentSet) Contains(id uint64) bool {
	return s.rb != nil && s.rb.Contains(id)
}

// Len returns the number of ids.
func (s SegmentSet) Len() int {
	if s.rb == nil {
		return 0
	}
	return int(s.rb.GetCardinality())
}

// Max returns the largest id; ok is false for an empty set.
func (s SegmentSet) Max() (uint64, bool) {
	if s.rb == nil || s.rb.IsEmpty() {
		return 0, false
	}
	return s.rb.Maximum(), true
}

// Union adds every id of other into s.
func (s *SegmentSet) Union(other SegmentSet) {
	if other.rb == nil {
		return
	}
	s.bitmap().Or(other.rb)
}

// Difference returns the ids in s that are not in other.
func (s SegmentSet) Difference(other SegmentSet) SegmentSet {
	if s.rb == nil {
		return SegmentSet{}
	}
	if other.rb == nil {
		return s.Clone()
	}
	return SegmentSet{rb: roaring64.AndNot(s.rb, other.rb)}
}

// Intersection returns the ids present in both sets.
func (s SegmentSet) Intersection(other SegmentSet) SegmentSet {
	if s.rb == nil || other.rb == nil {
		return SegmentSet{}
	}
	return SegmentSet{rb: roaring64.And(s.rb, other.rb)}
}

// All iterates ids in ascending order.
func (s SegmentSet) All() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if s.rb == nil {
			return
		}
		it := s.rb.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// Slice returns the ids in ascending order. It never returns nil.
func (s SegmentSet) Slice() []uint64 {
	if s.rb == nil {
		return []uint64{}
	}
	return s.rb.ToArray()
}

// Clone returns an independent copy.
func (s SegmentSet) Clone() SegmentSet {
	if s.rb == nil {
		return SegmentSet{}
	}
	return SegmentSet{rb: s.rb.Clone()}
}

// Equal reports whether both sets hold the same ids.
func (s SegmentSet) Equal(other SegmentSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s.Len() == 0 {
		return true
	}
	return s.rb.Equals(other.rb)
}

func (s SegmentSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *SegmentSet) UnmarshalJSON(data []byte) error {
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSegmentSet(ids...)
	return nil
}
