package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// FlusherConfig contains configuration for Flusher.
type FlusherConfig struct {
	// Store receives the batched samples.
	Store Store
	// Interval is how often buffered samples are flushed regardless of size.
	Interval time.Duration
	// BatchSize triggers an early flush and bounds each AppendSamples call.
	BatchSize int
	// MaxRetries is the number of retries after a failed write before the
	// batch is dropped.
	MaxRetries int
	// RetryBackoff is the wait before the first retry; it doubles each time.
	RetryBackoff time.Duration
	// MaxBuffered caps the buffer. Appends beyond it drop the oldest samples.
	MaxBuffered int
	// Clock is optional; if nil, uses the wall clock.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// FlusherConfigFromTuning fills the batching parameters from the tuning file.
func FlusherConfigFromTuning(t *config.TuningConfig, store Store) FlusherConfig {
	return FlusherConfig{
		Store:        store,
		Interval:     t.GetFlushInterval(),
		BatchSize:    t.GetFlushBatchSize(),
		MaxRetries:   t.GetFlushMaxRetries(),
		RetryBackoff: t.GetFlushRetryBackoff(),
		MaxBuffered:  t.GetFlushMaxBuffered(),
	}
}

// FlusherStats are cumulative counters since construction.
type FlusherStats struct {
	Buffered int   `json:"buffered"`
	Flushed  int64 `json:"flushed"`
	Dropped  int64 `json:"dropped"`
	Failures int64 `json:"failures"`
}

// Flusher buffers accepted samples and writes them to the Store in batches,
// off the ingest path. Append never blocks on storage.
type Flusher struct {
	cfg    FlusherConfig
	clock  timeutil.Clock
	logger *log.Logger

	mu      sync.Mutex
	buf     []trajectory.Sample
	stats   FlusherStats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	kick    chan struct{}
	flushMu sync.Mutex // serializes writers so batches land in order
}

// NewFlusher creates a new Flusher.
func NewFlusher(cfg FlusherConfig) *Flusher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = cfg.BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Flusher{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
}

// Append queues samples for the next flush. When the buffer exceeds
// MaxBuffered the oldest samples are discarded.
func (f *Flusher) Append(samples ...trajectory.Sample) {
	if len(samples) == 0 {
		return
	}
	f.mu.Lock()
	f.buf = append(f.buf, samples...)
	if over := len(f.buf) - f.cfg.MaxBuffered; over > 0 {
		f.buf = append(f.buf[:0], f.buf[over:]...)
		f.stats.Dropped += int64(over)
		f.logger.Printf("flusher: buffer full, dropped %d oldest samples", over)
	}
	full := len(f.buf) >= f.cfg.BatchSize
	f.mu.Unlock()

	if full {
		select {
		case f.kick <- struct{}{}:
		default:
		}
	}
}

// Run starts the flushing loop. It blocks until the context is cancelled or
// Stop is called, then performs a final flush. Returns nil on clean shutdown.
func (f *Flusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if f.cfg.Store == nil {
		f.logger.Printf("flusher: no store configured, not starting")
		return nil
	}

	interval := f.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()

	f.logger.Printf("flusher started: interval=%v batch=%d", interval, f.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			f.logger.Printf("flusher stopping due to context cancellation")
			f.flushFinal(context.WithoutCancel(ctx))
			return nil
		case <-f.stopCh:
			f.logger.Printf("flusher stopping due to Stop() call")
			f.flushFinal(ctx)
			return nil
		case <-ticker.C():
			f.flush(ctx)
		case <-f.kick:
			f.flush(ctx)
		}
	}
}

// Stop requests the flusher to stop and waits for the final flush. It is
// safe to call multiple times.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	done := f.doneCh
	f.mu.Unlock()

	<-done
}

// IsRunning returns whether the flush loop is active.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Stats returns a snapshot of the counters.
func (f *Flusher) Stats() FlusherStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Buffered = len(f.buf)
	return s
}

// FlushNow writes everything buffered so far. Batches that still fail after
// the configured retries are dropped and reported in the returned error.
func (f *Flusher) FlushNow(ctx context.Context) error {
	return f.flush(ctx)
}

func (f *Flusher) flushFinal(ctx context.Context) {
	if err := f.flush(ctx); err != nil {
		f.logger.Printf("flusher: error during final flush: %v", err)
	}
}

func (f *Flusher) flush(ctx context.Context) error {
	if f.cfg.Store == nil {
		return nil
	}
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	f.mu.Lock()
	pending := f.buf
	f.buf = nil
	f.mu.Unlock()

	var errs []error
	for start := 0; start < len(pending); start += f.cfg.BatchSize {
		batch := pending[start:min(start+f.cfg.BatchSize, len(pending))]
		if err := f.write(ctx, batch); err != nil {
			f.mu.Lock()
			f.stats.Dropped += int64(len(batch))
			f.stats.Failures++
			f.mu.Unlock()
			f.logger.Printf("flusher: dropping %d samples after %d retries: %v", len(batch), f.cfg.MaxRetries, err)
			errs = append(errs, err)
			continue
		}
		f.mu.Lock()
		f.stats.Flushed += int64(len(batch))
		f.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (f *Flusher) write(ctx context.Context, batch []trajectory.Sample) error {
	backoff := f.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 && backoff > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("flush retry: %w", ctx.Err())
			case <-f.clock.After(backoff):
			}
			backoff *= 2
		}
		if err = f.cfg.Store.AppendSamples(ctx, batch); err == nil {
			return nil
		}
		f.logger.Printf("flusher: append attempt %d/%d failed: %v", attempt+1, f.cfg.MaxRetries+1, err)
	}
	return err
}
