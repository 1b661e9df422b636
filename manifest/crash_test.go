package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/graphstore"
	"github.com/hupe1980/graphstore/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedChain creates a database at version 2 tagged stage=base and returns its
// directory.
func seedChain(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	commit(t, s, []SegmentDescriptor{nodeSeg(1, 5)}, nil, map[string]string{"stage": "base"})
	return dir
}

// assertPrePostState reopens dir from disk and checks it is exactly at
// version 2 or exactly at version 3 with consistent index lookups.
func assertPrePostState(t *testing.T, dir string) uint64 {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)

	cur := s.Current().Version
	require.Contains(t, []uint64{2, 3}, cur)

	_, err = s.LoadManifest(cur)
	require.NoError(t, err)

	v, ok := s.FindSnapshot("stage", "next")
	if cur == 3 {
		require.True(t, ok)
		assert.Equal(t, uint64(3), v)
		assert.True(t, s.Index().ReferencedSegments.Contains(2))
	} else {
		assert.False(t, ok, "an uncommitted version must not be found by tag")
		assert.False(t, s.Index().ReferencedSegments.Contains(2))
	}
	assert.Equal(t, cur, s.Index().LatestVersion)
	assert.Len(t, s.ListSnapshots(""), int(cur))
	return cur
}

func TestCommitFaultAtEachStep(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		fault   fs.Fault
		want    uint64
	}{
		{"manifest open", ManifestFileName(3), fs.Fault{FailOnOpen: true}, 2},
		{"manifest torn write", ManifestFileName(3), fs.Fault{FailAfterBytes: 16, TornWrite: true}, 2},
		{"manifest sync", ManifestFileName(3), fs.Fault{FailOnSync: true}, 2},
		{"manifest rename", ManifestFileName(3), fs.Fault{FailOnRename: true}, 2},
		{"index write", IndexFileName, fs.Fault{FailAfterBytes: 8, TornWrite: true}, 2},
		{"index close", IndexFileName, fs.Fault{FailOnClose: true}, 2},
		{"index rename", IndexFileName, fs.Fault{FailOnRename: true}, 2},
		{"current temp write", CurrentFileName, fs.Fault{FailAfterBytes: 1, TornWrite: true}, 2},
		{"current sync", CurrentFileName, fs.Fault{FailOnSync: true}, 2},
		{"current rename", CurrentFileName, fs.Fault{FailOnRename: true}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := seedChain(t)
			ffs := fs.NewFaultyFS(nil)

			s, err := Open(dir, WithFileSystem(ffs))
			require.NoError(t, err)
			ffs.AddRule(tt.pattern, tt.fault)

			m := s.CreateManifest([]SegmentDescriptor{nodeSeg(1, 5), nodeSeg(2, 7)}, nil, map[string]string{"stage": "next"})
			err = s.Commit(m)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIO)
			assert.ErrorIs(t, err, fs.ErrInjected)

			// In-memory state is untouched and the store is still usable.
			assert.Equal(t, uint64(2), s.Current().Version)
			_, ok := s.FindSnapshot("stage", "next")
			assert.False(t, ok)

			assert.Equal(t, tt.want, assertPrePostState(t, dir))

			ffs.ClearRules()
			require.NoError(t, s.Commit(m), "retrying the same version succeeds")
			assert.Equal(t, uint64(3), assertPrePostState(t, dir))
		})
	}
}

func TestCommitCrashAtByteBoundaries(t *testing.T) {
	// Measure how many bytes a full commit writes.
	probeDir := seedChain(t)
	probe := fs.NewFaultyFS(nil)
	ps, err := Open(probeDir, WithFileSystem(probe))
	require.NoError(t, err)
	require.NoError(t, ps.Commit(ps.CreateManifest([]SegmentDescriptor{nodeSeg(1, 5), nodeSeg(2, 7)}, nil, map[string]string{"stage": "next"})))
	total := probe.GetWritten()
	require.Positive(t, total)

	step := max(total/25, 1)
	for limit := int64(0); limit <= total; limit += step {
		dir := seedChain(t)
		ffs := fs.NewFaultyFS(nil)
		s, err := Open(dir, WithFileSystem(ffs))
		require.NoError(t, err)
		ffs.SetLimit(limit)

		err = s.Commit(s.CreateManifest([]SegmentDescriptor{nodeSeg(1, 5), nodeSeg(2, 7)}, nil, map[string]string{"stage": "next"}))
		got := assertPrePostState(t, dir)
		if err != nil {
			assert.Equal(t, uint64(2), got, "limit %d", limit)
		} else {
			assert.Equal(t, uint64(3), got, "limit %d", limit)
		}
	}
}

func TestOpenRepairsIndexBehindPointer(t *testing.T) {
	dir := seedChain(t)
	s, err := Open(dir)
	require.NoError(t, err)

	// Put the version-2 index back after committing version 3. A crash under
	// relaxed durability can leave this state when writes reach disk out of order.
	oldIndex, err := os.ReadFile(filepath.Join(dir, IndexFileName))
	require.NoError(t, err)
	commit(t, s, []SegmentDescriptor{nodeSeg(1, 5), nodeSeg(2, 7)}, nil, map[string]string{"stage": "next"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), oldIndex, 0o644))

	mc := &graphstore.BasicMetricsCollector{}
	reopened, err := Open(dir, WithMetricsCollector(mc))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.Current().Version)
	v, ok := reopened.FindSnapshot("stage", "next")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
	assert.Equal(t, int64(1), mc.GetStats().RepairCount)

	// The repaired index was persisted.
	again, err := Open(dir, WithMetricsCollector(mc))
	require.NoError(t, err)
	assert.True(t, again.Index().Equal(reopened.Index()))
	assert.Equal(t, int64(1), mc.GetStats().RepairCount)
}

func TestOpenRepairsIndexAheadOfPointer(t *testing.T) {
	dir := seedChain(t)
	s, err := Open(dir)
	require.NoError(t, err)
	commit(t, s, []SegmentDescriptor{nodeSeg(1, 5), nodeSeg(2, 7)}, nil, map[string]string{"stage": "next"})

	// Pointer swap lost: current.json still names version 2.
	require.NoError(t, s.writeCurrent("test", 2))

	assert.Equal(t, uint64(2), assertPrePostState(t, dir))
	assert.FileExists(t, ManifestPath(dir, 3), "orphan manifest stays on disk")
}

func TestOpenRebuildsMissingIndex(t *testing.T) {
	dir := seedChain(t)
	require.NoError(t, os.Remove(filepath.Join(dir, IndexFileName)))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Len(t, s.ListSnapshots(""), 2)
	assert.FileExists(t, filepath.Join(dir, IndexFileName))
	assert.Equal(t, uint64(2), s.NextSegmentID())
}

func TestOpenRepairsStaleTags(t *testing.T) {
	dir := seedChain(t)
	s, err := Open(dir)
	require.NoError(t, err)

	// Tag rewrite reached the manifest but not the index.
	m := s.Current().Clone()
	m.Tags = map[string]string{"stage": "base", "build": "late"}
	require.NoError(t, s.writeManifest("test", m, false))

	reopened, err := Open(dir)
	require.NoError(t, err)
	v, ok := reopened.FindSnapshot("build", "late")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
}

// assertTagConsistent reopens dir and checks that the tag index agrees with
// the tags stored in the version-1 manifest.
func assertTagConsistent(t *testing.T, dir string) bool {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	assert.False(t, s.Index().TagsDirty)

	m, err := s.LoadManifest(1)
	require.NoError(t, err)
	tagged := m.Tags["build"] == "abc"

	v, ok := s.FindSnapshot("build", "abc")
	assert.Equal(t, tagged, ok, "index disagrees with manifest tags")
	if ok {
		assert.Equal(t, uint64(1), v)
	}
	info, err := s.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, m.Tags, info.Tags)
	return tagged
}

func TestTagSnapshotFaultAtEachStep(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		fault   fs.Fault
	}{
		{"index rename", IndexFileName, fs.Fault{FailOnRename: true}},
		{"index sync", IndexFileName, fs.Fault{FailOnSync: true}},
		{"manifest rename", ManifestFileName(1), fs.Fault{FailOnRename: true}},
		{"manifest torn write", ManifestFileName(1), fs.Fault{FailAfterBytes: 4, TornWrite: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := seedChain(t)
			ffs := fs.NewFaultyFS(nil)
			s, err := Open(dir, WithFileSystem(ffs))
			require.NoError(t, err)
			ffs.AddRule(tt.pattern, tt.fault)

			err = s.TagSnapshot(1, map[string]string{"build": "abc"})
			assert.ErrorIs(t, err, ErrIO)
			_, ok := s.FindSnapshot("build", "abc")
			assert.False(t, ok)

			assert.False(t, assertTagConsistent(t, dir))

			ffs.ClearRules()
			require.NoError(t, s.TagSnapshot(1, map[string]string{"build": "abc"}))
			assert.False(t, s.Index().TagsDirty)
			assert.True(t, assertTagConsistent(t, dir))
		})
	}
}

func TestTagSnapshotCrashAtByteBoundaries(t *testing.T) {
	measureDir := seedChain(t)
	measure := fs.NewFaultyFS(nil)
	ms, err := Open(measureDir, WithFileSystem(measure))
	require.NoError(t, err)
	require.NoError(t, ms.TagSnapshot(1, map[string]string{"build": "abc"}))
	total := measure.GetWritten()
	require.Positive(t, total)

	step := max(total/25, 1)
	for limit := int64(0); limit <= total; limit += step {
		dir := seedChain(t)
		ffs := fs.NewFaultyFS(nil)
		s, err := Open(dir, WithFileSystem(ffs))
		require.NoError(t, err)
		ffs.SetLimit(limit)

		err = s.TagSnapshot(1, map[string]string{"build": "abc"})
		tagged := assertTagConsistent(t, dir)
		if err == nil {
			assert.True(t, tagged, "limit %d", limit)
		}
	}
}

func TestOpenRebuildsIndexMarkedDirty(t *testing.T) {
	dir := seedChain(t)
	s, err := Open(dir)
	require.NoError(t, err)

	// A tag rewrite of an older version reached the manifest; the index only
	// carries the in-flight marker.
	m, err := s.LoadManifest(1)
	require.NoError(t, err)
	m.Tags = map[string]string{"build": "abc"}
	require.NoError(t, s.writeManifest("test", m, false))
	marked := s.Index()
	marked.TagsDirty = true
	require.NoError(t, s.writeIndex("test", marked, false))

	mc := &graphstore.BasicMetricsCollector{}
	reopened, err := Open(dir, WithMetricsCollector(mc))
	require.NoError(t, err)
	assert.Equal(t, int64(1), mc.GetStats().RepairCount)
	assert.True(t, assertTagConsistent(t, dir))
	v, ok := reopened.FindSnapshot("stage", "base")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)
}

func TestCreateRetriesAfterInterruptedInit(t *testing.T) {
	for _, pattern := range []string{ManifestFileName(1), IndexFileName, CurrentFileName} {
		t.Run(pattern, func(t *testing.T) {
			dir := t.TempDir()
			ffs := fs.NewFaultyFS(nil)
			ffs.AddRule(pattern, fs.Fault{FailOnRename: true})

			_, err := Create(dir, WithFileSystem(ffs))
			assert.ErrorIs(t, err, ErrIO)
			_, err = Open(dir)
			assert.ErrorIs(t, err, ErrNotFound)

			s, err := Create(dir)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), s.Current().Version)

			reopened, err := Open(dir)
			require.NoError(t, err)
			assert.Equal(t, []uint64{1}, reopened.Index().Versions())
		})
	}
}

func TestOpenIgnoresLeftoverTempFiles(t *testing.T) {
	dir := seedChain(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, CurrentFileName+fs.TempSuffix), []byte(`{"vers`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName+fs.TempSuffix), []byte(`garbage`), 0o644))
	require.NoError(t, os.WriteFile(ManifestPath(dir, 3)+fs.TempSuffix, []byte(`{`), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Current().Version)
	require.NoError(t, s.RebuildIndex())
	assert.Len(t, s.ListSnapshots(""), 2)
}

func TestOpenCorrupt(t *testing.T) {
	t.Run("pointer names missing manifest", func(t *testing.T) {
		dir := seedChain(t)
		require.NoError(t, os.Remove(ManifestPath(dir, 2)))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unparsable pointer", func(t *testing.T) {
		dir := seedChain(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, CurrentFileName), []byte("{"), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unparsable current manifest", func(t *testing.T) {
		dir := seedChain(t)
		require.NoError(t, os.WriteFile(ManifestPath(dir, 2), []byte("{"), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupt)
		assert.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("repair hits unreadable manifest", func(t *testing.T) {
		dir := seedChain(t)
		require.NoError(t, os.Remove(filepath.Join(dir, IndexFileName)))
		require.NoError(t, os.WriteFile(ManifestPath(dir, 1), []byte("not json"), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("malformed index", func(t *testing.T) {
		dir := seedChain(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), []byte("[1,2"), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrSerialization)
	})
}
