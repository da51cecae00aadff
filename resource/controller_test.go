package resource

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBudget(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.Reserve(ctx, 50))
	assert.Equal(t, int64(50), c.MemoryInUse())

	require.NoError(t, c.Reserve(ctx, 40))
	assert.Equal(t, int64(90), c.MemoryInUse())

	assert.False(t, c.TryReserve(20))
	assert.Equal(t, int64(90), c.MemoryInUse())

	// A blocking reserve over the cap waits until the context gives up.
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Reserve(short, 20), context.DeadlineExceeded)

	c.Release(50)
	assert.Equal(t, int64(40), c.MemoryInUse())

	require.NoError(t, c.Reserve(ctx, 20))
	assert.Equal(t, int64(60), c.MemoryInUse())
}

func TestMemoryTrackingWithoutCap(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.Reserve(context.Background(), 1000))
	assert.Equal(t, int64(1000), c.MemoryInUse())

	c.Release(500)
	assert.Equal(t, int64(500), c.MemoryInUse())
}

func TestJobSlots(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MaxBackgroundJobs: 2})

	require.NoError(t, c.AcquireJob(ctx))
	require.NoError(t, c.AcquireJob(ctx))

	assert.False(t, c.TryAcquireJob())

	c.ReleaseJob()
	assert.True(t, c.TryAcquireJob())
}

func TestAcquireIOSplitsLargeRequests(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{IOBytesPerSec: 1 << 20})

	// The initial bucket covers one burst immediately.
	require.NoError(t, c.AcquireIO(ctx, 1<<20))

	// Larger-than-burst requests must not fail outright; with a canceled
	// context the wait for the next chunk surfaces the context error.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.AcquireIO(canceled, 4<<20), context.Canceled)
}

func TestNilControllerEnforcesNothing(t *testing.T) {
	ctx := context.Background()
	var c *Controller

	require.NoError(t, c.Reserve(ctx, 1<<40))
	assert.True(t, c.TryReserve(1<<40))
	c.Release(1 << 40)
	assert.Zero(t, c.MemoryInUse())

	require.NoError(t, c.AcquireJob(ctx))
	assert.True(t, c.TryAcquireJob())
	c.ReleaseJob()

	require.NoError(t, c.AcquireIO(ctx, 1<<30))
}

func TestRateLimitedWriter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	w := NewRateLimitedWriter(ctx, &buf, nil)
	n, err := w.Write([]byte("unpaced"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "unpaced", buf.String())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	paced := NewRateLimitedWriter(canceled, &buf, NewController(Config{IOBytesPerSec: 1}))
	_, err = paced.Write(make([]byte, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitedReader(t *testing.T) {
	ctx := context.Background()

	r := NewRateLimitedReader(ctx, strings.NewReader("payload"), nil)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}
