package manifest

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"maps"
)

// FindSnapshot returns the version tagged key=value. Served from the index.
func (s *Store) FindSnapshot(key, value string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.FindByTag(key, value)
}

// ListSnapshots returns snapshot summaries in version order without touching
// manifest files. A non-empty filterTag keeps only snapshots with that tag key.
func (s *Store) ListSnapshots(filterTag string) []SnapshotInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.ListSnapshots(filterTag)
}

// Snapshot returns the summary of one version.
func (s *Store) Snapshot(version uint64) (SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.index.Snapshot(version)
	if !ok {
		return SnapshotInfo{}, notFound("snapshot", "version %d", version)
	}
	return info, nil
}

// TagSnapshot merges tags into the tags of version.
//
// The index is first persisted with TagsDirty set, then the manifest file is
// rewritten, then the index is persisted with the new tags. An index that
// still carries the marker is rebuilt from the manifests on Open, so an
// interrupted rewrite of any version is repaired. If the final index write
// fails the previous manifest is put back.
func (s *Store) TagSnapshot(version uint64, tags map[string]string) error {
	for k := range tags {
		if k == "" {
			return &Error{Kind: ErrInvalidArgument, Op: "tag snapshot", Err: errors.New("empty tag key")}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Snapshot(version); !ok {
		return notFound("tag snapshot", "version %d", version)
	}

	var m *Manifest
	if version == s.current.Version {
		m = s.current.Clone()
	} else if s.IsEphemeral() {
		stored, ok := s.manifests[version]
		if !ok {
			return notFound("tag snapshot", "version %d", version)
		}
		m = stored.Clone()
	} else {
		loaded, err := s.readManifest("tag snapshot", version)
		if err != nil {
			return err
		}
		m = loaded
	}
	prev := m.Clone()

	merged := maps.Clone(m.Tags)
	if merged == nil {
		merged = make(map[string]string, len(tags))
	}
	maps.Copy(merged, tags)
	m.Tags = cloneTags(merged)

	if s.IsEphemeral() {
		idx := s.index.Clone()
		idx.SetTags(version, m.Tags)
		s.manifests[version] = m
		s.index = idx
	} else {
		wasDirty := s.index.TagsDirty
		if !wasDirty {
			marked := s.index.Clone()
			marked.TagsDirty = true
			if err := s.writeIndex("tag snapshot", marked, false); err != nil {
				return err
			}
			s.index = marked
		}

		if err := s.writeManifest("tag snapshot", m, false); err != nil {
			return err
		}

		idx, err := s.taggedIndex(m, wasDirty)
		if err == nil {
			err = s.writeIndex("tag snapshot", idx, true)
		}
		if err != nil {
			if rerr := s.writeManifest("tag snapshot", prev, false); rerr != nil {
				s.log.Warn("restoring manifest after failed tag", "version", version, "error", rerr)
			}
			return err
		}
		s.index = idx
	}

	if version == s.current.Version {
		s.current = m
	}
	s.log.Info("tagged snapshot", "version", version, "tags", len(tags))
	return nil
}

// taggedIndex returns the index after m's tags were written. An index left
// dirty by an earlier failed tag is rebuilt from the manifest files, any of
// which may carry tags it never saw.
func (s *Store) taggedIndex(m *Manifest, wasDirty bool) (*Index, error) {
	if !wasDirty {
		idx := s.index.Clone()
		idx.SetTags(m.Version, m.Tags)
		idx.TagsDirty = false
		return idx, nil
	}
	cur := s.current
	if m.Version == cur.Version {
		cur = m
	}
	idx, err := s.rebuildIndex(cur, s.index.LatestVersion)
	if err != nil {
		return nil, err
	}
	idx.NextSegmentID = max(idx.NextSegmentID, s.index.NextSegmentID)
	return idx, nil
}

// DeleteSnapshot prunes a non-current snapshot from the chain.
//
// The referenced segment set is re-derived from every remaining manifest
// rather than adjusted incrementally, so the next GC pass sees exactly the
// segments some loadable manifest still names. The index is persisted before
// the manifest file is removed; a crash in between leaves an unindexed file
// that a rebuild would pick up again.
func (s *Store) DeleteSnapshot(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version == s.current.Version {
		return &Error{Kind: ErrInvalidArgument, Op: "delete snapshot",
			Err: fmt.Errorf("version %d is current", version)}
	}
	if _, ok := s.index.Snapshot(version); !ok {
		return notFound("delete snapshot", "version %d", version)
	}

	idx := s.index.Clone()
	idx.RemoveSnapshot(version)

	referenced := NewSegmentSet()
	for _, v := range idx.Versions() {
		m, err := s.manifestLocked("delete snapshot", v)
		if err != nil {
			return err
		}
		referenced.Union(m.SegmentIDs())
	}
	idx.ReferencedSegments = referenced

	if s.IsEphemeral() {
		delete(s.manifests, version)
		s.index = idx
		return nil
	}

	if err := s.writeIndex("delete snapshot", idx, true); err != nil {
		return err
	}
	s.index = idx

	path := ManifestPath(s.dir, version)
	if err := s.opts.fs.Remove(path); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return ioError("delete snapshot", path, err)
	}
	s.log.Info("deleted snapshot", "version", version, "snapshots", idx.Len())
	return nil
}

// manifestLocked loads a committed manifest while s.mu is held.
func (s *Store) manifestLocked(op string, version uint64) (*Manifest, error) {
	if version == s.current.Version {
		return s.current, nil
	}
	if s.IsEphemeral() {
		m, ok := s.manifests[version]
		if !ok {
			return nil, notFound(op, "version %d", version)
		}
		return m, nil
	}
	return s.readManifest(op, version)
}
