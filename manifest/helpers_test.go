package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func nodeSeg(id, records uint64, files ...string) SegmentDescriptor {
	return FromSegmentSummary(id, nil, SegmentNodes, SegmentSummary{
		RecordCount: records,
		ByteSize:    records * 64,
		NodeTypes:   []string{"function"},
		FilePaths:   files,
	})
}

func edgeSeg(id, records uint64) SegmentDescriptor {
	return FromSegmentSummary(id, nil, SegmentEdges, SegmentSummary{
		RecordCount: records,
		ByteSize:    records * 32,
		EdgeTypes:   []string{"calls"},
	})
}

func fixedClock() func() time.Time {
	ts := time.Unix(1_700_000_000, 0)
	return func() time.Time { return ts }
}

// touchSegments creates empty segment files for descriptors.
func touchSegments(t *testing.T, dir string, descs ...SegmentDescriptor) {
	t.Helper()
	for _, d := range descs {
		p := d.FilePath(dir)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("seg"), 0o644))
	}
}

func commit(t *testing.T, s *Store, nodes, edges []SegmentDescriptor, tags map[string]string) *Manifest {
	t.Helper()
	m := s.CreateManifest(nodes, edges, tags)
	require.NoError(t, s.Commit(m))
	return m
}
