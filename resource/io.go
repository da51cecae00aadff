package resource

import (
	"context"
	"io"
)

// RateLimitedWriter spreads writes across the controller's IO budget.
// Archive uploads wrap their blob writers in one so segment transfers do
// not starve foreground work.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter wraps w. The context bounds waits for budget.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, c: c}
}

// Write implements io.Writer.
func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.c.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// RateLimitedReader spreads reads across the controller's IO budget.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewRateLimitedReader wraps r. The context bounds waits for budget.
func NewRateLimitedReader(ctx context.Context, r io.Reader, c *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, r: r, c: c}
}

// Read implements io.Reader. The budget is charged for the bytes actually
// read, after the read, so short reads are not overbilled.
func (r *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.c.AcquireIO(r.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
