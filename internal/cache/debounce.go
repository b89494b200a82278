package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ClearResult is what every coalesced caller of a clear request receives.
type ClearResult struct {
	Removed   int       `json:"removed"`
	Full      bool      `json:"full"`
	Patterns  []string  `json:"patterns,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ClearFunc performs the real clear. It runs detached from any caller's context.
type ClearFunc func(ctx context.Context) (ClearResult, error)

// registration is one InFlight slot. done closes once result and err are set.
type registration struct {
	done   chan struct{}
	result ClearResult
	err    error
	timer  Timer
}

// Debouncer collapses identical clear requests (same caller, same pattern
// set) arriving within window into one underlying operation.
//
// A registration lives for exactly window after it is created, whether or
// not the operation has finished; it exists to coalesce, not to cache.
type Debouncer struct {
	clock     Clock
	window    time.Duration
	opTimeout time.Duration
	metrics   *Metrics

	mu       sync.Mutex
	inFlight map[string]*registration
}

// NewDebouncer builds a debouncer. opTimeout bounds the detached operation;
// zero means no bound.
func NewDebouncer(clock Clock, window, opTimeout time.Duration, metrics *Metrics) *Debouncer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Debouncer{
		clock:     clock,
		window:    window,
		opTimeout: opTimeout,
		metrics:   metrics,
		inFlight:  make(map[string]*registration),
	}
}

// DebounceKey builds the composite registry key. Pattern order and
// duplicates do not matter.
func DebounceKey(callerID string, patterns []string) string {
	uniq := make(map[string]struct{}, len(patterns))
	sorted := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := uniq[p]; ok {
			continue
		}
		uniq[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)
	return callerID + "\x00" + strings.Join(sorted, "\x00")
}

// Do returns the result of the in-flight operation for (callerID, patterns),
// starting one if the slot is idle. The caller's ctx only bounds its own wait.
func (d *Debouncer) Do(ctx context.Context, callerID string, patterns []string, op ClearFunc) (ClearResult, error) {
	key := DebounceKey(callerID, patterns)

	d.mu.Lock()
	reg, ok := d.inFlight[key]
	if !ok {
		reg = &registration{done: make(chan struct{})}
		d.inFlight[key] = reg
		reg.timer = d.clock.AfterFunc(d.window, func() { d.release(key, reg) })
	}
	d.mu.Unlock()

	if ok {
		d.count("coalesced")
	} else {
		d.count("started")
		go d.run(reg, op)
	}

	select {
	case <-reg.done:
		return reg.result, reg.err
	case <-ctx.Done():
		return ClearResult{}, ctx.Err()
	}
}

// InFlight returns the number of live registrations.
func (d *Debouncer) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Stop cancels every cleanup timer and drops all registrations. Waiting
// callers still receive their operation's result.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, reg := range d.inFlight {
		reg.timer.Stop()
		delete(d.inFlight, key)
	}
}

func (d *Debouncer) run(reg *registration, op ClearFunc) {
	ctx := context.Background()
	if d.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opTimeout)
		defer cancel()
	}
	reg.result, reg.err = op(ctx)
	close(reg.done)
}

// release returns the slot to Idle, unless a newer registration already replaced it.
func (d *Debouncer) release(key string, reg *registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.inFlight[key]; ok && cur == reg {
		delete(d.inFlight, key)
	}
}

func (d *Debouncer) count(outcome string) {
	if d.metrics != nil {
		d.metrics.Debounce.WithLabelValues(outcome).Inc()
	}
}
