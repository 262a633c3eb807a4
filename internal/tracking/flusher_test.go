package tracking

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trajectory.report/internal/testutil"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

var quietLogger = log.New(io.Discard, "", 0)

// flakyStore fails the first failures appends, or every append when
// failures is negative.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) AppendSamples(ctx context.Context, s []trajectory.Sample) error {
	f.mu.Lock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.MemoryStore.AppendSamples(ctx, s)
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func samples(n int) []trajectory.Sample {
	return testutil.Line("dev", testutil.Istanbul.Lat, testutil.Istanbul.Lng, 90, 50, 5000, n, testutil.BaseTimeMs)
}

func TestFlusherDropsOldestWhenFull(t *testing.T) {
	store := NewMemoryStore()
	f := NewFlusher(FlusherConfig{Store: store, BatchSize: 2, MaxBuffered: 3, Logger: quietLogger})

	in := samples(5)
	f.Append(in...)
	stats := f.Stats()
	assert.Equal(t, 3, stats.Buffered)
	assert.Equal(t, int64(2), stats.Dropped)

	require.NoError(t, f.FlushNow(context.Background()))
	got, err := store.ReadSamples(context.Background(), "dev", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, in[2:], got)
	assert.Equal(t, int64(3), f.Stats().Flushed)
	assert.Equal(t, 0, f.Stats().Buffered)
}

func TestFlusherRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	f := NewFlusher(FlusherConfig{Store: store, BatchSize: 10, MaxRetries: 3, Logger: quietLogger})

	f.Append(samples(4)...)
	require.NoError(t, f.FlushNow(context.Background()))
	assert.Equal(t, 3, store.callCount())
	assert.Equal(t, 4, store.Len())
	assert.Equal(t, int64(0), f.Stats().Dropped)
}

func TestFlusherDropsAfterRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: -1}
	f := NewFlusher(FlusherConfig{Store: store, BatchSize: 10, MaxRetries: 2, Logger: quietLogger})

	f.Append(samples(4)...)
	err := f.FlushNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, store.callCount())

	stats := f.Stats()
	assert.Equal(t, int64(4), stats.Dropped)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, 0, stats.Buffered)
}

func TestFlusherBackoffUsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.UnixMilli(testutil.BaseTimeMs))
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	f := NewFlusher(FlusherConfig{
		Store: store, BatchSize: 10, MaxRetries: 1, RetryBackoff: time.Second,
		Clock: clock, Logger: quietLogger,
	})
	f.Append(samples(2)...)

	done := make(chan error, 1)
	go func() { done <- f.FlushNow(context.Background()) }()

	require.Eventually(t, func() bool { return store.callCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, store.Len())

	var err error
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestFlusherRunFlushesOnBatchSize(t *testing.T) {
	clock := timeutil.NewMockClock(time.UnixMilli(testutil.BaseTimeMs))
	store := NewMemoryStore()
	f := NewFlusher(FlusherConfig{Store: store, Interval: time.Hour, BatchSize: 3, Clock: clock, Logger: quietLogger})

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	require.Eventually(t, f.IsRunning, time.Second, time.Millisecond)

	f.Append(samples(3)...)
	require.Eventually(t, func() bool { return store.Len() == 3 }, time.Second, time.Millisecond)

	// Below batch size nothing is written until the final flush.
	f.Append(testutil.Fix("dev", testutil.BaseTimeMs+60_000, 41, 29))
	f.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, 4, store.Len())
	assert.False(t, f.IsRunning())

	f.Stop() // no-op once stopped
}

func TestFlusherRunFlushesOnInterval(t *testing.T) {
	clock := timeutil.NewMockClock(time.UnixMilli(testutil.BaseTimeMs))
	store := NewMemoryStore()
	f := NewFlusher(FlusherConfig{Store: store, Interval: 30 * time.Second, BatchSize: 100, Clock: clock, Logger: quietLogger})

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	require.Eventually(t, f.IsRunning, time.Second, time.Millisecond)

	f.Append(samples(2)...)
	assert.Never(t, func() bool { return store.Len() > 0 }, 20*time.Millisecond, time.Millisecond,
		"below batch size nothing is written before the interval")
	assert.Equal(t, 2, f.Stats().Buffered)

	// The ticker may not be registered yet on the first advance.
	require.Eventually(t, func() bool {
		clock.Advance(30 * time.Second)
		return store.Len() == 2
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.Stats().Flushed == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, f.Stats().Buffered)

	f.Stop()
	require.NoError(t, <-done)
}

func TestFlusherRunFlushesOnCancel(t *testing.T) {
	store := NewMemoryStore()
	f := NewFlusher(FlusherConfig{Store: store, Interval: time.Hour, BatchSize: 100, Logger: quietLogger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, f.IsRunning, time.Second, time.Millisecond)

	f.Append(samples(5)...)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 5, store.Len())
}

func TestFlusherWithoutStore(t *testing.T) {
	f := NewFlusher(FlusherConfig{Logger: quietLogger})
	f.Append(samples(2)...)
	assert.NoError(t, f.FlushNow(context.Background()))
	assert.NoError(t, f.Run(context.Background()))
}
