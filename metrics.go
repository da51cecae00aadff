package skim

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
//	    offerCounter    prometheus.Counter
//	    selectHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordOffer(kept bool, duration time.Duration, err error) {
//	    p.offerCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordPush is called after each push operation.
	// duration is the total time taken, err is nil if successful.
	RecordPush(duration time.Duration, err error)

	// RecordOffer is called after each offer operation.
	// kept reports whether the record entered the selection.
	RecordOffer(kept bool, duration time.Duration, err error)

	// RecordSelect is called after each selection operation, destructive or
	// not. k is the number of records requested, duration is the time
	// taken, err is nil if successful.
	RecordSelect(k int, duration time.Duration, err error)

	// RecordCompaction is called after each arena compaction.
	RecordCompaction(duration time.Duration)

	// RecordSnapshot is called after each snapshot save.
	RecordSnapshot(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPush(time.Duration, error)        {}
func (NoopMetricsCollector) RecordOffer(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordSelect(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCompaction(time.Duration)         {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PushCount        atomic.Int64
	PushErrors       atomic.Int64
	PushTotalNanos   atomic.Int64
	OfferCount       atomic.Int64
	OfferKept        atomic.Int64
	OfferRefused     atomic.Int64
	OfferErrors      atomic.Int64
	SelectCount      atomic.Int64
	SelectErrors     atomic.Int64
	SelectTotalNanos atomic.Int64
	CompactionCount  atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
}

// RecordPush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPush(duration time.Duration, err error) {
	b.PushCount.Add(1)
	b.PushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PushErrors.Add(1)
	}
}

// RecordOffer implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOffer(kept bool, duration time.Duration, err error) {
	b.OfferCount.Add(1)
	switch {
	case err != nil:
		b.OfferErrors.Add(1)
	case kept:
		b.OfferKept.Add(1)
	default:
		b.OfferRefused.Add(1)
	}
}

// RecordSelect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSelect(k int, duration time.Duration, err error) {
	b.SelectCount.Add(1)
	b.SelectTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SelectErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(duration time.Duration) {
	b.CompactionCount.Add(1)
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PushCount:       b.PushCount.Load(),
		PushErrors:      b.PushErrors.Load(),
		PushAvgNanos:    b.getAvgPushNanos(),
		OfferCount:      b.OfferCount.Load(),
		OfferKept:       b.OfferKept.Load(),
		OfferRefused:    b.OfferRefused.Load(),
		OfferErrors:     b.OfferErrors.Load(),
		SelectCount:     b.SelectCount.Load(),
		SelectErrors:    b.SelectErrors.Load(),
		SelectAvgNanos:  b.getAvgSelectNanos(),
		CompactionCount: b.CompactionCount.Load(),
		SnapshotCount:   b.SnapshotCount.Load(),
		SnapshotErrors:  b.SnapshotErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgPushNanos() int64 {
	count := b.PushCount.Load()
	if count == 0 {
		return 0
	}
	return b.PushTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgSelectNanos() int64 {
	count := b.SelectCount.Load()
	if count == 0 {
		return 0
	}
	return b.SelectTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PushCount       int64
	PushErrors      int64
	PushAvgNanos    int64
	OfferCount      int64
	OfferKept       int64
	OfferRefused    int64
	OfferErrors     int64
	SelectCount     int64
	SelectErrors    int64
	SelectAvgNanos  int64
	CompactionCount int64
	SnapshotCount   int64
	SnapshotErrors  int64
}
