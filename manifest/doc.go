// Package manifest tracks which immutable segment files make up a graph
// database at each point in time.
//
// A database directory looks like:
//
//	current.json                 {"version": N}
//	manifest_index.json          cached snapshot summaries, tag lookup, referenced segments
//	manifests/{version:06}.json  one manifest per committed version
//	segments/seg_{id:06}_{nodes|edges}.seg
//	gc/                          quarantined segment files pending purge
//
// Every file is written to a temp file, optionally fsynced, then renamed into
// place. A commit writes the new manifest, then the index, then swaps
// current.json; until that last rename the previous version stays current.
// Open detects an index that disagrees with current.json and rebuilds it.
//
// Readers that hold a *Manifest keep a consistent view forever: commits only
// add files and garbage collection is split into a reversible collect step
// and a separate purge.
package manifest
