package archive

import (
	"log/slog"

	"github.com/hupe1980/skim/codec"
	"github.com/hupe1980/skim/compress"
	"github.com/hupe1980/skim/internal/fs"
	"github.com/hupe1980/skim/resource"
)

type options struct {
	compress   compress.Codec
	codec      codec.Codec
	blockSize  int
	ctrl       *resource.Controller
	fsys       fs.FileSystem
	logger     *slog.Logger
	evictLocal bool
}

func defaultOptions() options {
	return options{
		compress: compress.Default,
		codec:    codec.Default,
		fsys:     fs.Default,
		logger:   slog.New(slog.DiscardHandler),
	}
}

// Option configures an Archiver.
type Option func(*options)

// WithCompression selects the segment compression. Restores resolve the
// codec from the catalog entry, so changing it only affects new uploads.
func WithCompression(c compress.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.compress = c
		}
	}
}

// WithCodec selects the catalog encoding.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithBlockSize sets the framing granularity of uploaded segments. Values
// of zero or less select compress.DefaultBlockSize.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithResourceController paces transfers against the controller's IO
// budget and counts uploads against its background job bound. A nil
// controller enforces nothing.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.ctrl = c
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

// WithLogger sets the logger for transfer and catalog events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEvictLocal removes local segment files once their upload has been
// committed to the catalog. Reads of evicted segments need Restore or
// Fetch.
func WithEvictLocal() Option {
	return func(o *options) {
		o.evictLocal = true
	}
}
