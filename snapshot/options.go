package snapshot

import (
	"log/slog"

	"github.com/hupe1980/skim/codec"
	"github.com/hupe1980/skim/compress"
	"github.com/hupe1980/skim/internal/fs"
)

type options struct {
	codec     codec.Codec
	compress  compress.Codec
	blockSize int
	fsys      fs.FileSystem
	logger    *slog.Logger
}

func defaultOptions() options {
	return options{
		codec:    codec.Default,
		compress: compress.Default,
		fsys:     fs.Default,
		logger:   slog.New(slog.DiscardHandler),
	}
}

// Option configures Save, Write, and Load.
type Option func(*options)

// WithCodec selects the meta section encoding. Load ignores it: the codec
// is resolved from the file header.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCompression selects the body compression. Load ignores it: the codec
// is resolved from the file header.
func WithCompression(c compress.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.compress = c
		}
	}
}

// WithBlockSize sets the framing granularity of the compressed body.
// Values of zero or less select compress.DefaultBlockSize.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
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

// WithLogger sets the logger for save and load events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
