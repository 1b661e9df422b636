package manifest

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagSnapshotSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	commit(t, s, nil, nil, nil)
	commit(t, s, nil, nil, nil)
	require.Equal(t, uint64(3), s.Current().Version)

	require.NoError(t, s.TagSnapshot(3, map[string]string{"build": "abc123"}))
	v, ok := s.FindSnapshot("build", "abc123")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
	assert.Equal(t, "abc123", s.Current().Tags["build"])

	reopened, err := Open(dir)
	require.NoError(t, err)
	v, ok = reopened.FindSnapshot("build", "abc123")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
}

func TestTagSnapshotMergesAndRewritesOlderVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	commit(t, s, []SegmentDescriptor{nodeSeg(1, 1)}, nil, map[string]string{"env": "dev"})
	commit(t, s, nil, nil, nil)

	require.NoError(t, s.TagSnapshot(2, map[string]string{"release": "v1"}))

	m, err := s.LoadManifest(2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "dev", "release": "v1"}, m.Tags)
	assert.Len(t, m.NodeSegments, 1, "segments are untouched by tagging")

	require.NoError(t, s.TagSnapshot(2, map[string]string{"env": "prod"}))
	_, ok := s.FindSnapshot("env", "dev")
	assert.False(t, ok)
	v, ok := s.FindSnapshot("env", "prod")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)

	info, err := s.Snapshot(2)
	require.NoError(t, err)
	assert.Equal(t, "prod", info.Tags["env"])
}

func TestTagSnapshotErrors(t *testing.T) {
	s, err := Create(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, s.TagSnapshot(7, map[string]string{"a": "b"}), ErrNotFound)
	assert.ErrorIs(t, s.TagSnapshot(1, map[string]string{"": "b"}), ErrInvalidArgument)

	_, err = s.Snapshot(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshotsFilter(t *testing.T) {
	s, err := Create(t.TempDir())
	require.NoError(t, err)
	commit(t, s, nil, nil, map[string]string{"build": "1"})
	commit(t, s, nil, nil, nil)
	commit(t, s, nil, nil, map[string]string{"build": "2"})

	assert.Len(t, s.ListSnapshots(""), 4)
	tagged := s.ListSnapshots("build")
	require.Len(t, tagged, 2)
	assert.Equal(t, uint64(2), tagged[0].Version)
	assert.Equal(t, uint64(4), tagged[1].Version)
	assert.Empty(t, s.ListSnapshots("missing"))
}

func TestListSnapshotsDoesNotReadManifests(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	commit(t, s, nil, nil, map[string]string{"k": "v"})

	require.NoError(t, os.RemoveAll(ManifestPath(dir, 1)))
	assert.Len(t, s.ListSnapshots(""), 2)
	_, ok := s.FindSnapshot("k", "v")
	assert.True(t, ok)
}

func TestDeleteSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir)
	require.NoError(t, err)
	commit(t, s, []SegmentDescriptor{nodeSeg(1, 1)}, nil, map[string]string{"k": "old"})
	commit(t, s, []SegmentDescriptor{nodeSeg(2, 1)}, nil, nil)

	assert.ErrorIs(t, s.DeleteSnapshot(3), ErrInvalidArgument)
	assert.ErrorIs(t, s.DeleteSnapshot(99), ErrNotFound)

	require.NoError(t, s.DeleteSnapshot(2))
	assert.NoFileExists(t, ManifestPath(dir, 2))
	_, ok := s.FindSnapshot("k", "old")
	assert.False(t, ok)
	assert.False(t, s.Index().ReferencedSegments.Contains(1), "referenced set is re-derived from remaining manifests")
	assert.True(t, s.Index().ReferencedSegments.Contains(2))

	_, err = s.LoadManifest(2)
	assert.ErrorIs(t, err, ErrNotFound)

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, reopened.Index().Versions())
	assert.False(t, reopened.Index().ReferencedSegments.Contains(1))
}

func TestDeleteSnapshotEphemeral(t *testing.T) {
	s := Ephemeral()
	commit(t, s, []SegmentDescriptor{nodeSeg(1, 1)}, nil, nil)
	commit(t, s, nil, nil, nil)

	require.NoError(t, s.DeleteSnapshot(2))
	_, err := s.LoadManifest(2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Index().ReferencedSegments.Len())
}
