package skim

import (
	"log/slog"
	"math"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/resource"
	"github.com/hupe1980/skim/segstore"
	"github.com/hupe1980/skim/snapshot"
)

type options struct {
	keep int

	scoreLo, scoreHi float64
	hasScoreRange    bool

	arenaOptions    []arena.Option
	storeOptions    []segstore.Option
	snapshotOptions []snapshot.Option
	storeDir        string // LoadSnapshot override for a moved segment store

	ctrl    *resource.Controller
	logger  *Logger
	metrics MetricsCollector
}

// Option configures Selector constructor/load behavior.
type Option func(*options)

// WithKeep bounds the selection to the best k records. Offer refuses
// records scoring at or below the current minimum once k records are held,
// and displaces the minimum otherwise, so memory stays proportional to k
// no matter how many records stream past.
//
// Without a keep bound Offer behaves like Push. k <= 0 is ignored.
func WithKeep(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.keep = k
		}
	}
}

// WithScoreRange declares the closed interval of acceptable scores.
// Push and Offer reject scores outside it with ErrInvalidScore, catching
// corrupt inputs at the boundary instead of deep in a selection. NaN is
// always rejected, range or not.
//
// An inverted or NaN range is ignored.
func WithScoreRange(lo, hi float64) Option {
	return func(o *options) {
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return
		}
		o.scoreLo = lo
		o.scoreHi = hi
		o.hasScoreRange = true
	}
}

// WithUnitScores restricts scores to [0, 1], the common normalized-score
// convention. Shorthand for WithScoreRange(0, 1).
func WithUnitScores() Option {
	return WithScoreRange(0, 1)
}

// WithArenaOptions forwards options to the in-memory arena, such as
// arena.WithMaxBytes or arena.WithCompactThreshold. Ignored by
// out-of-core selectors.
func WithArenaOptions(opts ...arena.Option) Option {
	return func(o *options) {
		o.arenaOptions = append(o.arenaOptions, opts...)
	}
}

// WithStoreOptions forwards options to the segment store, such as
// segstore.WithMaxSegmentBytes or segstore.WithOversizePolicy. Ignored by
// in-memory selectors.
func WithStoreOptions(opts ...segstore.Option) Option {
	return func(o *options) {
		o.storeOptions = append(o.storeOptions, opts...)
	}
}

// WithSnapshotOptions forwards options to snapshot encoding and decoding,
// such as snapshot.WithCompression or snapshot.WithCodec.
func WithSnapshotOptions(opts ...snapshot.Option) Option {
	return func(o *options) {
		o.snapshotOptions = append(o.snapshotOptions, opts...)
	}
}

// WithStoreDir overrides the segment directory recorded in an out-of-core
// snapshot, for stores that moved since the snapshot was taken. Only
// LoadSnapshot reads it.
func WithStoreDir(dir string) Option {
	return func(o *options) {
		o.storeDir = dir
	}
}

// WithResourceController charges in-memory payload bytes against a shared
// memory budget. A record that would exceed the budget fails with
// ErrOutOfMemory before anything is stored. The zero controller enforces
// nothing.
//
// Example:
//
//	ctrl := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
//	s, _ := skim.New(skim.WithKeep(1000), skim.WithResourceController(ctrl))
func WithResourceController(ctrl *resource.Controller) Option {
	return func(o *options) {
		o.ctrl = ctrl
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Nil is ignored, keeping the no-op default.
//
// Example with BasicMetricsCollector:
//
//	metrics := &skim.BasicMetricsCollector{}
//	s, _ := skim.New(skim.WithKeep(100), skim.WithMetricsCollector(metrics))
//	// ... use s ...
//	stats := metrics.GetStats()
//	fmt.Printf("Offers: %d, kept: %d\n", stats.OfferCount, stats.OfferKept)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithLogger configures structured logging for operations. The logger is
// also handed down to the arena or segment store. Nil is ignored, keeping
// the no-op default.
//
// Example with JSON logging:
//
//	logger := skim.NewJSONLogger(slog.LevelInfo)
//	s, _ := skim.New(skim.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
