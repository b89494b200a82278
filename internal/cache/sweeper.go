package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically evicts expired entries from a Store. Each batch is a
// separate critical section so readers and writers interleave with a large sweep.
type Sweeper struct {
	store     *Store
	clock     Clock
	interval  time.Duration
	batchSize int
	metrics   *Metrics
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a sweeper. interval <= 0 disables the background loop;
// Sweep still works when called directly.
func NewSweeper(store *Store, clock Clock, interval time.Duration, batchSize int, metrics *Metrics, logger zerolog.Logger) *Sweeper {
	if clock == nil {
		clock = SystemClock{}
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &Sweeper{
		store:     store,
		clock:     clock,
		interval:  interval,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Sweep removes every entry expired at now, one batch at a time.
func (sw *Sweeper) Sweep(now time.Time) int {
	total := 0
	for {
		n := sw.store.SweepExpired(now, sw.batchSize)
		total += n
		if n < sw.batchSize {
			break
		}
	}
	if sw.metrics != nil && total > 0 {
		sw.metrics.Swept.Add(float64(total))
	}
	return total
}

// Start launches the background loop. Calling Start twice is a no-op.
func (sw *Sweeper) Start(ctx context.Context) {
	if sw.interval <= 0 {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.cancel != nil {
		return
	}
	ctx, sw.cancel = context.WithCancel(ctx)
	// registered before Start returns so no tick is lost to goroutine startup
	ticker := sw.clock.NewTicker(sw.interval)
	sw.wg.Add(1)
	go sw.loop(ctx, ticker)
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	cancel := sw.cancel
	sw.cancel = nil
	sw.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	sw.wg.Wait()
}

func (sw *Sweeper) loop(ctx context.Context, ticker Ticker) {
	defer sw.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			start := time.Now()
			n := sw.Sweep(sw.clock.Now())
			sw.logger.Debug().
				Int("removed", n).
				Dur("duration", time.Since(start)).
				Msg("expiry sweep finished")
		}
	}
}
