package graphstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    commitCounter   prometheus.Counter
//	    commitHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordCommit(duration time.Duration, err error) {
//	    p.commitCounter.Inc()
//	    p.commitHistogram.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordOpen is called after a store is opened or created.
	RecordOpen(duration time.Duration, err error)

	// RecordCommit is called after each commit attempt.
	RecordCommit(duration time.Duration, err error)

	// RecordRepair is called when the index had to be rebuilt from the
	// manifests directory. snapshots is the number of manifests re-applied.
	RecordRepair(snapshots int)

	// RecordGCCollect is called after a collect pass; moved is the number of
	// segment files quarantined.
	RecordGCCollect(moved int, duration time.Duration, err error)

	// RecordGCPurge is called after a purge pass.
	RecordGCPurge(deleted int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(time.Duration, error)           {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)         {}
func (NoopMetricsCollector) RecordRepair(int)                          {}
func (NoopMetricsCollector) RecordGCCollect(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordGCPurge(int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	OpenCount        atomic.Int64
	OpenErrors       atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	RepairCount      atomic.Int64
	RepairSnapshots  atomic.Int64
	GCCollectCount   atomic.Int64
	GCCollectErrors  atomic.Int64
	GCMovedFiles     atomic.Int64
	GCPurgeCount     atomic.Int64
	GCPurgeErrors    atomic.Int64
	GCDeletedFiles   atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(_ time.Duration, err error) {
	b.OpenCount.Add(1)
	if err != nil {
		b.OpenErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordRepair implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRepair(snapshots int) {
	b.RepairCount.Add(1)
	b.RepairSnapshots.Add(int64(snapshots))
}

// RecordGCCollect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGCCollect(moved int, _ time.Duration, err error) {
	b.GCCollectCount.Add(1)
	b.GCMovedFiles.Add(int64(moved))
	if err != nil {
		b.GCCollectErrors.Add(1)
	}
}

// RecordGCPurge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGCPurge(deleted int, _ time.Duration, err error) {
	b.GCPurgeCount.Add(1)
	b.GCDeletedFiles.Add(int64(deleted))
	if err != nil {
		b.GCPurgeErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time copy of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	OpenCount       int64
	OpenErrors      int64
	CommitCount     int64
	CommitErrors    int64
	CommitAvgNanos  int64
	RepairCount     int64
	RepairSnapshots int64
	GCCollectCount  int64
	GCMovedFiles    int64
	GCPurgeCount    int64
	GCDeletedFiles  int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpenCount:       b.OpenCount.Load(),
		OpenErrors:      b.OpenErrors.Load(),
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		CommitAvgNanos:  b.avgCommitNanos(),
		RepairCount:     b.RepairCount.Load(),
		RepairSnapshots: b.RepairSnapshots.Load(),
		GCCollectCount:  b.GCCollectCount.Load(),
		GCMovedFiles:    b.GCMovedFiles.Load(),
		GCPurgeCount:    b.GCPurgeCount.Load(),
		GCDeletedFiles:  b.GCDeletedFiles.Load(),
	}
}

func (b *BasicMetricsCollector) avgCommitNanos() int64 {
	count := b.CommitCount.Load()
	if count == 0 {
		return 0
	}
	return b.CommitTotalNanos.Load() / count
}
