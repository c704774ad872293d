package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2, 0)
	var (
		current atomic.Int64
		peak    atomic.Int64
		ran     atomic.Int64
	)
	for i := 0; i < 10; i++ {
		p.Go(context.Background(), func(context.Context) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			ran.Add(1)
		})
	}
	require.NoError(t, p.Close())
	assert.Equal(t, int64(10), ran.Load())
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Zero(t, p.Running())
	assert.Zero(t, p.Waiting())
}

func TestPoolDeadline(t *testing.T) {
	p := New(1, 10*time.Millisecond)
	errc := make(chan error, 1)
	p.Go(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		errc <- ctx.Err()
	})
	assert.ErrorIs(t, <-errc, context.DeadlineExceeded)
	require.NoError(t, p.Close())
}

func TestPoolRunsTaskWhenCancelledWhileWaiting(t *testing.T) {
	p := New(1, 0)
	release := make(chan struct{})
	p.Go(context.Background(), func(context.Context) { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	p.Go(ctx, func(ctx context.Context) { errc <- ctx.Err() })
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled task never ran")
	}
	close(release)
	require.NoError(t, p.Close())
}
