package manifest

import (
	"context"
	"encoding/json"
	"errors"
	iofs "io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/graphstore"
	"github.com/hupe1980/graphstore/internal/fs"
)

// currentPointer is the body of current.json.
type currentPointer struct {
	Version uint64 `json:"version"`
}

// Store owns the manifest chain of one database directory.
//
// Reads are served from the in-memory current manifest and index. A single
// writer is assumed; Store serializes its own mutations but does not
// coordinate multiple processes.
type Store struct {
	dir  string // empty for ephemeral stores
	opts options
	log  *graphstore.Logger

	mu      sync.RWMutex
	current *Manifest
	index   *Index

	// ephemeral stores keep every committed manifest here instead of on disk
	manifests map[uint64]*Manifest

	nextSegmentID atomic.Uint64
}

// Create initializes a new chain in dir: manifest v1 with no segments, the
// index and the current pointer, in that order. It fails with
// ErrAlreadyExists if dir already holds a chain.
func Create(dir string, opts ...Option) (*Store, error) {
	o := applyOptions(opts)
	s := newStore(dir, o)

	m := s.rootManifest()
	idx := NewIndex()
	idx.AddSnapshot(m)
	idx.NextSegmentID = 1

	if err := s.initChain("create", m, idx); err != nil {
		return nil, err
	}

	s.install(m, idx)
	s.log.Info("created manifest chain", "version", m.Version, "durability", o.durability.String())
	return s, nil
}

// Open opens an existing chain with the configured durability (strict by
// default).
//
// If the persisted index disagrees with the current pointer, which is the
// state left by a crash between the index write and the pointer swap, the
// index is rebuilt from the manifests directory before Open returns. Open
// fails with ErrCorrupt if the manifest named by current.json is missing or
// unreadable.
func Open(dir string, opts ...Option) (*Store, error) {
	start := time.Now()
	o := applyOptions(opts)
	s := newStore(dir, o)

	err := s.load()
	o.metrics.RecordOpen(time.Since(start), err)
	if err != nil {
		s.log.LogOpen(context.Background(), 0, 0, err)
		return nil, err
	}
	s.log.LogOpen(context.Background(), s.current.Version, s.index.Len(), nil)
	return s, nil
}

// OpenWithConfig is Open with an explicit durability policy.
func OpenWithConfig(dir string, durability Durability, opts ...Option) (*Store, error) {
	return Open(dir, append(opts, WithDurability(durability))...)
}

// Ephemeral returns a store without a directory. Commits only update memory
// and nothing is ever read from or written to a filesystem.
func Ephemeral(opts ...Option) *Store {
	o := applyOptions(opts)
	s := newStore("", o)
	s.manifests = make(map[uint64]*Manifest)

	m := s.rootManifest()
	idx := NewIndex()
	idx.AddSnapshot(m)
	idx.NextSegmentID = 1
	s.manifests[m.Version] = m
	s.install(m, idx)
	return s
}

// initChain writes the first manifest, the index and the pointer of a new
// chain. It refuses a directory with a current pointer and replaces files
// left behind by an earlier attempt that never wrote one.
func (s *Store) initChain(op string, m *Manifest, idx *Index) error {
	exists, err := s.hasChain(op)
	if err != nil {
		return err
	}
	if exists {
		return &Error{Kind: ErrAlreadyExists, Op: op, Path: s.dir}
	}

	for _, sub := range []string{ManifestsDir, SegmentsDir, GCDir} {
		p := filepath.Join(s.dir, sub)
		if err := s.opts.fs.MkdirAll(p, 0o755); err != nil {
			return ioError(op, p, err)
		}
	}
	if err := s.removeOrphanManifests(op, m.Version); err != nil {
		return err
	}

	if err := s.writeManifest(op, m, false); err != nil {
		return err
	}
	if err := s.writeIndex(op, idx, false); err != nil {
		return err
	}
	return s.writeCurrent(op, m.Version)
}

func newStore(dir string, o options) *Store {
	return &Store{
		dir:  dir,
		opts: o,
		log:  o.logger.WithDB(dir),
	}
}

func (s *Store) rootManifest() *Manifest {
	return &Manifest{
		Version:   1,
		CreatedAt: s.opts.now().Unix(),
	}
}

// install swaps in a new current manifest and index and raises the allocator
// to the index high-water mark.
func (s *Store) install(m *Manifest, idx *Index) {
	s.current = m
	s.index = idx

	seed := max(idx.NextSegmentID, 1)
	if maxID, ok := idx.ReferencedSegments.Max(); ok {
		seed = max(seed, maxID+1)
	}
	for {
		cur := s.nextSegmentID.Load()
		if cur >= seed || s.nextSegmentID.CompareAndSwap(cur, seed) {
			return
		}
	}
}

// Dir returns the database root, or "" for ephemeral stores.
func (s *Store) Dir() string { return s.dir }

// Durability returns the commit durability policy.
func (s *Store) Durability() Durability { return s.opts.durability }

// IsEphemeral reports whether the store lives only in memory.
func (s *Store) IsEphemeral() bool { return s.manifests != nil }

// SegmentPath returns the physical path of d under the database root.
func (s *Store) SegmentPath(d SegmentDescriptor) string { return d.FilePath(s.dir) }

// Current returns the active manifest. The returned value is shared and must
// not be modified; a later commit installs a new manifest rather than
// changing this one.
func (s *Store) Current() *Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Index returns a copy of the in-memory index.
func (s *Store) Index() *Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Clone()
}

// NextSegmentID allocates a fresh segment id. Safe for concurrent use.
func (s *Store) NextSegmentID() uint64 {
	return s.nextSegmentID.Add(1) - 1
}

// CreateManifest builds the successor of the current manifest. It performs no
// I/O and does not change the store; the result becomes durable only through
// Commit.
func (s *Store) CreateManifest(nodeSegments, edgeSegments []SegmentDescriptor, tags map[string]string) *Manifest {
	s.mu.RLock()
	parent := s.current.Version
	s.mu.RUnlock()

	m := &Manifest{
		Version:       parent + 1,
		CreatedAt:     s.opts.now().Unix(),
		NodeSegments:  cloneDescriptors(nodeSegments),
		EdgeSegments:  cloneDescriptors(edgeSegments),
		Tags:          cloneTags(tags),
		Stats:         ComputeStats(nodeSegments, edgeSegments),
		ParentVersion: &parent,
	}
	normalizeManifest(m)
	return m
}

// Commit makes m the current manifest. The manifest file is written first,
// then the index, then the current pointer. If any step fails the store stays
// at its previous version and the error is returned; files left behind by the
// failed attempt are never referenced and a retry may overwrite them.
func (s *Store) Commit(m *Manifest) error {
	if m == nil {
		return &Error{Kind: ErrInvalidArgument, Op: "commit", Err: errors.New("nil manifest")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.commitLocked(m.Clone())
	s.opts.metrics.RecordCommit(time.Since(start), err)
	s.log.LogCommit(context.Background(), m.Version, len(m.NodeSegments), len(m.EdgeSegments), time.Since(start), err)
	return err
}

func (s *Store) commitLocked(m *Manifest) error {
	normalizeManifest(m)
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Version <= s.current.Version {
		return invalidFormat("commit", "version %d is not newer than current version %d", m.Version, s.current.Version)
	}
	if m.ParentVersion == nil || *m.ParentVersion != s.current.Version {
		return invalidFormat("commit", "version %d does not descend from current version %d", m.Version, s.current.Version)
	}

	idx := s.index.Clone()
	idx.AddSnapshot(m)
	idx.NextSegmentID = max(idx.NextSegmentID, s.nextSegmentID.Load())

	if s.IsEphemeral() {
		s.manifests[m.Version] = m
		s.install(m, idx)
		return nil
	}

	if err := s.writeManifest("commit", m, false); err != nil {
		return err
	}
	if err := s.writeIndex("commit", idx, false); err != nil {
		return err
	}
	if err := s.writeCurrent("commit", m.Version); err != nil {
		return err
	}
	s.install(m, idx)
	return nil
}

// LoadManifest returns the manifest of a committed version. Versions newer
// than the current pointer are never returned, even if a file for them exists
// from an interrupted commit.
func (s *Store) LoadManifest(version uint64) (*Manifest, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if version == cur.Version {
		return cur, nil
	}
	if version == 0 || version > cur.Version {
		return nil, notFound("load manifest", "version %d", version)
	}
	if s.IsEphemeral() {
		s.mu.RLock()
		m, ok := s.manifests[version]
		s.mu.RUnlock()
		if !ok {
			return nil, notFound("load manifest", "version %d", version)
		}
		return m, nil
	}
	return s.readManifest("load manifest", version)
}

func (s *Store) readManifest(op string, version uint64) (*Manifest, error) {
	path := ManifestPath(s.dir, version)
	data, err := fs.ReadFile(s.opts.fs, path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, &Error{Kind: ErrNotFound, Op: op, Path: path, Err: err}
		}
		return nil, ioError(op, path, err)
	}
	m, err := decodeManifest(path, data)
	if err != nil {
		return nil, err
	}
	if m.Version != version {
		return nil, &Error{Kind: ErrInvalidFormat, Op: op, Path: path,
			Err: errors.New("file holds version " + strconv.FormatUint(m.Version, 10))}
	}
	return m, nil
}

// RebuildIndex rescans the manifests directory, replaces the index with one
// derived from every manifest up to the current version and persists it.
func (s *Store) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsEphemeral() {
		idx := NewIndex()
		for _, v := range slices.Sorted(maps.Keys(s.manifests)) {
			idx.AddSnapshot(s.manifests[v])
		}
		idx.NextSegmentID = max(s.index.NextSegmentID, s.nextSegmentID.Load())
		s.index = idx
		return nil
	}

	idx, err := s.rebuildIndex(s.current, s.index.LatestVersion)
	if err != nil {
		return err
	}
	idx.NextSegmentID = max(idx.NextSegmentID, s.nextSegmentID.Load())
	if err := s.writeIndex("rebuild index", idx, true); err != nil {
		return err
	}
	s.install(s.current, idx)
	return nil
}

// load reads current.json, its manifest and the index, repairing the index
// when it is missing or out of step with the pointer.
func (s *Store) load() error {
	ptrPath := filepath.Join(s.dir, CurrentFileName)
	data, err := fs.ReadFile(s.opts.fs, ptrPath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return &Error{Kind: ErrNotFound, Op: "open", Path: ptrPath, Err: err}
		}
		return ioError("open", ptrPath, err)
	}
	var ptr currentPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return corrupt("open", ptrPath, serializationError("decode current pointer", ptrPath, err))
	}
	if ptr.Version == 0 {
		return corrupt("open", ptrPath, errors.New("current pointer names version 0"))
	}

	cur, err := s.readManifest("open", ptr.Version)
	if err != nil {
		return corrupt("open", ManifestPath(s.dir, ptr.Version), err)
	}

	idxPath := filepath.Join(s.dir, IndexFileName)
	var idx *Index
	data, err = fs.ReadFile(s.opts.fs, idxPath)
	switch {
	case err == nil:
		if idx, err = decodeIndex(idxPath, data); err != nil {
			return err
		}
	case errors.Is(err, iofs.ErrNotExist):
	default:
		return ioError("open", idxPath, err)
	}

	if stale, indexVersion := indexStale(idx, cur); stale {
		start := time.Now()
		prevNext := uint64(0)
		if idx != nil {
			prevNext = idx.NextSegmentID
		}
		idx, err = s.rebuildIndex(cur, indexVersion)
		if err == nil {
			idx.NextSegmentID = max(idx.NextSegmentID, prevNext)
			err = s.writeIndex("repair index", idx, true)
		}
		s.log.LogRepair(context.Background(), indexVersion, cur.Version, idxLen(idx), err)
		if err != nil {
			return err
		}
		s.opts.metrics.RecordRepair(idx.Len())
		s.log.Debug("index repaired", "duration", time.Since(start))
	}

	s.install(cur, idx)
	return nil
}

// indexStale reports whether idx must be rebuilt before it can serve cur.
func indexStale(idx *Index, cur *Manifest) (bool, uint64) {
	if idx == nil {
		return true, 0
	}
	if idx.TagsDirty || idx.LatestVersion != cur.Version {
		return true, idx.LatestVersion
	}
	info, ok := idx.Snapshot(cur.Version)
	if !ok || !maps.Equal(info.Tags, cur.Tags) {
		return true, idx.LatestVersion
	}
	return false, idx.LatestVersion
}

func idxLen(idx *Index) int {
	if idx == nil {
		return 0
	}
	return idx.Len()
}

// rebuildIndex applies AddSnapshot to every manifest file with a version up
// to cur.Version. Newer files are orphans of interrupted commits and ignored.
func (s *Store) rebuildIndex(cur *Manifest, indexVersion uint64) (*Index, error) {
	dir := filepath.Join(s.dir, ManifestsDir)
	entries, err := s.opts.fs.ReadDir(dir)
	if err != nil {
		return nil, corrupt("rebuild index", dir, err)
	}

	var versions []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, ok := parseManifestFileName(e.Name())
		if !ok {
			continue
		}
		if v > cur.Version {
			s.log.Debug("ignoring uncommitted manifest", "file", e.Name(), "current", cur.Version)
			continue
		}
		versions = append(versions, v)
	}
	slices.Sort(versions)

	idx := NewIndex()
	for _, v := range versions {
		if v == cur.Version {
			idx.AddSnapshot(cur)
			continue
		}
		m, err := s.readManifest("rebuild index", v)
		if err != nil {
			return nil, corrupt("rebuild index", ManifestPath(s.dir, v), err)
		}
		idx.AddSnapshot(m)
	}
	if _, ok := idx.Snapshot(cur.Version); !ok {
		idx.AddSnapshot(cur)
	}
	s.log.Info("rebuilt manifest index", "from_version", indexVersion, "snapshots", idx.Len())
	return idx, nil
}

func parseManifestFileName(name string) (uint64, bool) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok || base == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(base, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// hasChain reports whether dir holds a current pointer. Manifest or index
// files without one are leftovers of an interrupted Create or Import.
func (s *Store) hasChain(op string) (bool, error) {
	ptr := filepath.Join(s.dir, CurrentFileName)
	ok, err := fs.Exists(s.opts.fs, ptr)
	if err != nil {
		return false, ioError(op, ptr, err)
	}
	return ok, nil
}

// removeOrphanManifests deletes manifest files other than keep. Only called
// before a chain exists, when no such file can be committed.
func (s *Store) removeOrphanManifests(op string, keep uint64) error {
	dir := filepath.Join(s.dir, ManifestsDir)
	entries, err := s.opts.fs.ReadDir(dir)
	if err != nil {
		return ioError(op, dir, err)
	}
	for _, e := range entries {
		v, ok := parseManifestFileName(e.Name())
		if !ok || v == keep || e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := s.opts.fs.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return ioError(op, p, err)
		}
		s.log.Debug("removed orphan manifest", "op", op, "path", p)
	}
	return nil
}

func (s *Store) writeManifest(op string, m *Manifest, final bool) error {
	path := ManifestPath(s.dir, m.Version)
	data, err := encodeManifest(m)
	if err != nil {
		return serializationError(op, path, err)
	}
	return s.writeFile(op, path, data, final)
}

func (s *Store) writeIndex(op string, idx *Index, final bool) error {
	path := filepath.Join(s.dir, IndexFileName)
	data, err := encodeIndex(idx)
	if err != nil {
		return serializationError(op, path, err)
	}
	return s.writeFile(op, path, data, final)
}

func (s *Store) writeCurrent(op string, version uint64) error {
	path := filepath.Join(s.dir, CurrentFileName)
	data, err := json.MarshalIndent(currentPointer{Version: version}, "", "  ")
	if err != nil {
		return serializationError(op, path, err)
	}
	return s.writeFile(op, path, data, true)
}

func (s *Store) writeFile(op, path string, data []byte, final bool) error {
	if err := fs.WriteFileAtomic(s.opts.fs, path, data, s.opts.durability.syncMode(final)); err != nil {
		return ioError(op, path, err)
	}
	s.log.Debug("wrote file", "op", op, "path", path, "bytes", len(data))
	return nil
}
