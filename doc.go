// Package graphstore is the metadata layer of an embedded, append-only graph
// storage engine.
//
// Nodes and edges of a codebase graph live in immutable segment files. The
// [manifest] package tracks which segments are active, commits new segment sets
// atomically using only the filesystem, and exposes a versioned snapshot chain
// with tagging, lookup, diffing and two-phase garbage collection.
//
// # Quick Start
//
//	store, _ := manifest.Create("./graph.db")
//	id := store.NextSegmentID()
//	// ... segment writer produces segments/seg_000001_nodes.seg ...
//	seg := manifest.FromSegmentSummary(id, nil, manifest.SegmentNodes, summary)
//	m := store.CreateManifest([]manifest.SegmentDescriptor{seg}, nil, map[string]string{"build": "abc123"})
//	_ = store.Commit(m)
//
//	v, ok := store.FindSnapshot("build", "abc123")
//
// # Durability Model
//
// Every JSON file is written as path.tmp, optionally fsynced, then renamed into
// place. A commit writes the manifest, then the index, then swaps current.json.
// A crash at any point leaves current.json naming a complete manifest.
//
//	manifest.OpenWithConfig(dir, manifest.DurabilityStrict)  // fsync every write
//	manifest.OpenWithConfig(dir, manifest.DurabilityRelaxed) // rely on OS write-back
//
// # Observability
//
// This package provides the ambient [Logger] and [MetricsCollector] types that
// the subpackages accept through their options.
//
// # Backups
//
// The [backup] package exports committed snapshots to any blob store
// (local directory, S3, MinIO) and restores them into an empty directory.
package graphstore
