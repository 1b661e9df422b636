package manifest

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRandomHistory drives a random sequence of commits, tags, deletes and
// GC passes, then checks the index and GC properties against the manifests
// that are actually loadable.
func TestRandomHistory(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run("seed="+strconv.FormatInt(seed, 10), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			dir := t.TempDir()
			s, err := Create(dir, WithDurability(DurabilityRelaxed))
			require.NoError(t, err)

			var live []SegmentDescriptor
			for step := 0; step < 60; step++ {
				switch op := rng.Intn(10); {
				case op < 6:
					// Keep a random subset and add fresh segments.
					var next []SegmentDescriptor
					for _, d := range live {
						if rng.Intn(3) > 0 {
							next = append(next, d)
						}
					}
					for i := rng.Intn(3); i >= 0; i-- {
						d := nodeSeg(s.NextSegmentID(), uint64(rng.Intn(100)))
						touchSegments(t, dir, d)
						next = append(next, d)
					}
					var tags map[string]string
					if rng.Intn(2) == 0 {
						tags = map[string]string{"build": strconv.Itoa(rng.Intn(5))}
					}
					commit(t, s, next, nil, tags)
					live = next
				case op < 7:
					versions := s.Index().Versions()
					v := versions[rng.Intn(len(versions))]
					require.NoError(t, s.TagSnapshot(v, map[string]string{"env": strconv.Itoa(rng.Intn(3))}))
				case op < 9:
					versions := s.Index().Versions()
					if v := versions[rng.Intn(len(versions))]; v != s.Current().Version {
						require.NoError(t, s.DeleteSnapshot(v))
					}
				default:
					_, err := s.GCCollect()
					require.NoError(t, err)
				}
			}

			reopened, err := Open(dir, WithDurability(DurabilityRelaxed))
			require.NoError(t, err)
			for _, store := range []*Store{s, reopened} {
				checkIndexAgainstManifests(t, store)
			}

			_, err = s.GCCollect()
			require.NoError(t, err)
			missing, err := s.VerifySegments()
			require.NoError(t, err)
			assert.Empty(t, missing, "GC never moves a referenced segment")

			remaining, err := s.segmentFiles(SegmentsDir)
			require.NoError(t, err)
			referenced := s.Index().ReferencedSegments
			for _, f := range remaining {
				assert.True(t, referenced.Contains(f.id), "unreferenced segment %d survived collect", f.id)
			}
		})
	}
}

func checkIndexAgainstManifests(t *testing.T, s *Store) {
	t.Helper()
	idx := s.Index()

	union := NewSegmentSet()
	pairs := make(map[[2]string]bool)
	for _, v := range idx.Versions() {
		require.LessOrEqual(t, v, idx.LatestVersion)
		m, err := s.LoadManifest(v)
		require.NoError(t, err)
		union.Union(m.SegmentIDs())
		for k, val := range m.Tags {
			pairs[[2]string{k, val}] = true
			found, ok := s.FindSnapshot(k, val)
			require.True(t, ok, "tag %s=%s of version %d", k, val, v)
			fm, err := s.LoadManifest(found)
			require.NoError(t, err)
			assert.Equal(t, val, fm.Tags[k])
		}
	}
	assert.True(t, union.Equal(idx.ReferencedSegments))

	for k, values := range idx.TagIndex {
		for val := range values {
			assert.True(t, pairs[[2]string{k, val}], "tag index holds %s=%s that no manifest carries", k, val)
		}
	}
}
