package segstore

import (
	"log/slog"

	"github.com/hupe1980/skim/codec"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/internal/fs"
)

const defaultBatchConcurrency = 8

type options struct {
	maxSegmentBytes  int64
	syncOnSeal       bool
	policy           Policy
	batchConcurrency int
	fsys             fs.FileSystem
	codec            codec.Codec
	logger           *slog.Logger
}

func defaultOptions() options {
	return options{
		maxSegmentBytes:  handle.MaxSegmentBytes,
		syncOnSeal:       true,
		policy:           Reject,
		batchConcurrency: defaultBatchConcurrency,
		fsys:             fs.Default,
		codec:            codec.Default,
		logger:           slog.New(slog.DiscardHandler),
	}
}

// Option configures a Store.
type Option func(*options)

// WithMaxSegmentBytes bounds segment files to n bytes. Handles address at
// most 2^32 bytes per segment, so values outside [2, 2^32] are ignored.
// Small bounds shrink the effective payload limit; see PayloadLimit.
func WithMaxSegmentBytes(n int64) Option {
	return func(o *options) {
		if n >= recordOverhead+1 && n <= handle.MaxSegmentBytes {
			o.maxSegmentBytes = n
		}
	}
}

// WithSyncOnSeal controls whether automatic rollover seals fsync the
// outgoing segment. Explicit Seal calls always fsync. Default: true.
func WithSyncOnSeal(sync bool) Option {
	return func(o *options) {
		o.syncOnSeal = sync
	}
}

// WithOversizePolicy selects how Put treats payloads above the record
// limit. Default: Reject.
func WithOversizePolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithBatchConcurrency bounds the parallel reads of GetBatch. Values below
// one are ignored.
func WithBatchConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchConcurrency = n
		}
	}
}

// WithFS substitutes the file system, mainly for fault injection in tests.
func WithFS(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithCodec selects the manifest encoding.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger for segment lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
