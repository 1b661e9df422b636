package manifest

import (
	"encoding/json"
	"slices"
)

// StringSet is a set of distinct strings. It is encoded in JSON as a sorted
// array; an empty array decodes to a nil set so round-trips stay equal.
type StringSet map[string]struct{}

// NewStringSet builds a set from values. It returns nil when values is empty.
func NewStringSet(values ...string) StringSet {
	if len(values) == 0 {
		return nil
	}
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports whether v is in the set.
func (s StringSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of values in the set.
func (s StringSet) Len() int { return len(s) }

// Sorted returns the values in ascending order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s StringSet) Clone() StringSet {
	if len(s) == 0 {
		return nil
	}
	out := make(StringSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}
