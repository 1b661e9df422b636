package manifest

import (
	"testing"

	"github.com/hupe1980/graphstore/internal/fs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeManifest(t *testing.T) {
	src := Ephemeral(WithClock(fixedClock()))
	m := commit(t, src, []SegmentDescriptor{nodeSeg(1, 3, "a.go")}, []SegmentDescriptor{edgeSeg(2, 1)}, map[string]string{"build": "x"})

	data, err := EncodeManifest(m)
	require.NoError(t, err)
	got, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = DecodeManifest([]byte("{"))
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestImport(t *testing.T) {
	src := Ephemeral(WithClock(fixedClock()))
	commit(t, src, []SegmentDescriptor{nodeSeg(1, 3)}, nil, nil)
	m := commit(t, src, []SegmentDescriptor{nodeSeg(1, 3), nodeSeg(7, 2)}, []SegmentDescriptor{edgeSeg(9, 1)}, map[string]string{"release": "v1"})
	require.Equal(t, uint64(3), m.Version)

	dir := t.TempDir()
	s, err := Import(dir, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Current().Version)
	assert.Equal(t, uint64(10), s.NextSegmentID())

	v, ok := s.FindSnapshot("release", "v1")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)

	// The imported chain behaves like any other.
	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.Current().Version)
	next := commit(t, reopened, []SegmentDescriptor{nodeSeg(reopened.NextSegmentID(), 1)}, nil, nil)
	assert.Equal(t, uint64(4), next.Version)
	assert.Equal(t, []uint64{3, 4}, reopened.Index().Versions())

	_, err = Import(dir, m)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestImportRejectsInvalid(t *testing.T) {
	_, err := Import(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	bad := &Manifest{Version: 2, NodeSegments: []SegmentDescriptor{nodeSeg(1, 1), nodeSeg(1, 1)}}
	_, err = Import(t.TempDir(), bad)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestImportReplacesLeftoversOfInterruptedCreate(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(CurrentFileName, fs.Fault{FailOnRename: true})
	_, err := Create(dir, WithFileSystem(ffs))
	require.ErrorIs(t, err, ErrIO)
	require.FileExists(t, ManifestPath(dir, 1))

	src := Ephemeral(WithClock(fixedClock()))
	commit(t, src, []SegmentDescriptor{nodeSeg(1, 3)}, nil, nil)
	m := commit(t, src, []SegmentDescriptor{nodeSeg(1, 3), nodeSeg(2, 1)}, nil, nil)

	s, err := Import(dir, m)
	require.NoError(t, err)
	assert.NoFileExists(t, ManifestPath(dir, 1))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{m.Version}, reopened.Index().Versions())
	assert.Equal(t, s.Current().Version, reopened.Current().Version)
}
