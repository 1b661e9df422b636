package manifest

import (
	"context"
	"errors"
	iofs "io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/graphstore/internal/fs"
)

// GCCollect moves every segment file whose id no indexed snapshot references
// from segments/ into gc/, keeping its relative path. It returns the new
// paths of the moved files. Nothing is deleted; GCRestore undoes a collect.
//
// GC must not run concurrently with a writer that has produced segment files
// it has not committed yet.
func (s *Store) GCCollect() ([]string, error) {
	if s.IsEphemeral() {
		return nil, nil
	}

	s.mu.RLock()
	referenced := s.index.ReferencedSegments.Clone()
	s.mu.RUnlock()

	start := time.Now()
	moved, err := s.gcCollect(referenced)
	s.opts.metrics.RecordGCCollect(len(moved), time.Since(start), err)
	s.log.LogGC(context.Background(), "collect", len(moved), err)
	return moved, err
}

func (s *Store) gcCollect(referenced SegmentSet) ([]string, error) {
	files, err := s.segmentFiles(SegmentsDir)
	if err != nil {
		return nil, err
	}

	var moved []string
	for _, f := range files {
		if referenced.Contains(f.id) {
			continue
		}
		src := filepath.Join(s.dir, SegmentsDir, f.rel)
		dst := filepath.Join(s.dir, GCDir, f.rel)
		if err := s.moveFile(src, dst); err != nil {
			return moved, ioError("gc collect", src, err)
		}
		s.log.Debug("quarantined segment", "segment_id", f.id, "path", dst)
		moved = append(moved, dst)
	}
	return moved, nil
}

// GCPurge deletes every file under gc/ and returns how many were removed.
func (s *Store) GCPurge() (int, error) {
	if s.IsEphemeral() {
		return 0, nil
	}

	start := time.Now()
	n, err := s.gcPurge()
	s.opts.metrics.RecordGCPurge(n, time.Since(start), err)
	s.log.LogGC(context.Background(), "purge", n, err)
	return n, err
}

func (s *Store) gcPurge() (int, error) {
	root := filepath.Join(s.dir, GCDir)
	entries, err := s.opts.fs.ReadDir(root)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return 0, nil
		}
		return 0, ioError("gc purge", root, err)
	}

	deleted := 0
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if !e.IsDir() {
			if err := s.opts.fs.Remove(p); err != nil {
				return deleted, ioError("gc purge", p, err)
			}
			deleted++
			continue
		}
		sub, err := s.opts.fs.ReadDir(p)
		if err != nil {
			return deleted, ioError("gc purge", p, err)
		}
		nested := 0
		for _, se := range sub {
			if se.IsDir() {
				nested++
				continue
			}
			sp := filepath.Join(p, se.Name())
			if err := s.opts.fs.Remove(sp); err != nil {
				return deleted, ioError("gc purge", sp, err)
			}
			deleted++
		}
		if nested > 0 {
			s.log.Debug("keeping gc directory with subdirectories", "path", p, "subdirs", nested)
			continue
		}
		if err := s.opts.fs.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return deleted, ioError("gc purge", p, err)
		}
	}
	return deleted, nil
}

// GCRestore moves quarantined files whose id is referenced again back into
// segments/. It returns the restored paths.
func (s *Store) GCRestore() ([]string, error) {
	if s.IsEphemeral() {
		return nil, nil
	}

	s.mu.RLock()
	referenced := s.index.ReferencedSegments.Clone()
	s.mu.RUnlock()

	files, err := s.segmentFiles(GCDir)
	if err != nil {
		return nil, err
	}
	var restored []string
	for _, f := range files {
		if !referenced.Contains(f.id) {
			continue
		}
		src := filepath.Join(s.dir, GCDir, f.rel)
		dst := filepath.Join(s.dir, SegmentsDir, f.rel)
		if err := s.moveFile(src, dst); err != nil {
			return restored, ioError("gc restore", src, err)
		}
		restored = append(restored, dst)
	}
	s.log.LogGC(context.Background(), "restore", len(restored), nil)
	return restored, nil
}

// VerifySegments returns the segments of the current manifest whose file is
// missing from segments/.
func (s *Store) VerifySegments() ([]SegmentDescriptor, error) {
	if s.IsEphemeral() {
		return nil, nil
	}
	cur := s.Current()

	var missing []SegmentDescriptor
	for _, d := range cur.Segments() {
		ok, err := fs.Exists(s.opts.fs, s.SegmentPath(d))
		if err != nil {
			return nil, ioError("verify segments", s.SegmentPath(d), err)
		}
		if !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

type segmentFile struct {
	id  uint64
	rel string // relative to the segments or gc directory
}

// segmentFiles lists segment files under dir (segments/ or gc/) and one level
// of two-digit shard directories. Temp files and foreign names are skipped.
func (s *Store) segmentFiles(dir string) ([]segmentFile, error) {
	root := filepath.Join(s.dir, dir)
	entries, err := s.opts.fs.ReadDir(root)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, ioError("list "+dir, root, err)
	}

	var out []segmentFile
	add := func(rel, name string) {
		if strings.HasSuffix(name, fs.TempSuffix) {
			return
		}
		id, _, ok := ParseSegmentFileName(name)
		if !ok {
			s.log.Warn("skipping unrecognized file", "dir", dir, "name", rel)
			return
		}
		out = append(out, segmentFile{id: id, rel: rel})
	}

	for _, e := range entries {
		if !e.IsDir() {
			add(e.Name(), e.Name())
			continue
		}
		if !isShardDir(e.Name()) {
			continue
		}
		sub, err := s.opts.fs.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, ioError("list "+dir, filepath.Join(root, e.Name()), err)
		}
		for _, se := range sub {
			if !se.IsDir() {
				add(filepath.Join(e.Name(), se.Name()), se.Name())
			}
		}
	}
	return out, nil
}

func isShardDir(name string) bool {
	if len(name) < 2 {
		return false
	}
	_, err := strconv.ParseUint(name, 10, 16)
	return err == nil
}

func (s *Store) moveFile(src, dst string) error {
	if err := s.opts.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return s.opts.fs.Rename(src, dst)
}
