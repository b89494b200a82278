package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Tier names a Backend for logs and errors.
type Tier struct {
	Name    string
	Backend Backend
}

// InvalidationReport describes a completed invalidation.
type InvalidationReport struct {
	Patterns []string
	Keys     []string
	Removed  int
	Duration time.Duration
}

// InvalidationListener observes successful invalidations that removed at least one key.
type InvalidationListener func(InvalidationReport)

// Invalidator is the single entry point write paths use to scrub stale
// entries. It fans a pattern list out to every tier and fails loudly if any
// tier could not be scrubbed.
type Invalidator struct {
	tiers   []Tier
	metrics *Metrics
	logger  zerolog.Logger

	mu        sync.RWMutex
	listeners []InvalidationListener
}

// NewInvalidator builds a coordinator over the given tiers.
func NewInvalidator(tiers []Tier, metrics *Metrics, logger zerolog.Logger) *Invalidator {
	return &Invalidator{tiers: tiers, metrics: metrics, logger: logger}
}

// Subscribe registers a listener.
func (inv *Invalidator) Subscribe(l InvalidationListener) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.listeners = append(inv.listeners, l)
}

// Invalidate removes every entry matching any pattern, directly by key or
// through one of its tags, and returns the number of unique keys removed.
// An empty list is a no-op. An invalid pattern rejects the call before any
// tier is touched. If a tier fails the error wraps ErrBackendUnavailable;
// the remaining tiers are still scrubbed.
func (inv *Invalidator) Invalidate(ctx context.Context, patterns []string) (int, error) {
	if len(patterns) == 0 {
		return 0, nil
	}
	compiled, err := CompilePatterns(patterns)
	if err != nil {
		inv.record("rejected", 0)
		return 0, err
	}

	start := time.Now()
	results := make([][]string, len(inv.tiers))

	// The first (local) tier is scrubbed before the others start. A fill
	// that has written the outer tiers re-checks the local removal epoch,
	// which has then already moved.
	var groupErr error
	if len(inv.tiers) > 0 {
		groupErr = inv.scrub(ctx, 0, compiled, results)
		var g errgroup.Group
		for i := 1; i < len(inv.tiers); i++ {
			g.Go(func() error { return inv.scrub(ctx, i, compiled, results) })
		}
		if err := g.Wait(); groupErr == nil {
			groupErr = err
		}
	}

	unique := make(map[string]struct{})
	for _, keys := range results {
		for _, k := range keys {
			unique[k] = struct{}{}
		}
	}
	removed := make([]string, 0, len(unique))
	for k := range unique {
		removed = append(removed, k)
	}
	names := patternStrings(compiled)

	if groupErr != nil {
		inv.record("failed", len(removed))
		inv.logger.Error().
			Err(groupErr).
			Strs("patterns", names).
			Int("removed", len(removed)).
			Msg("cache invalidation failed, stale entries may survive until expiry")
		return len(removed), groupErr
	}

	inv.record("ok", len(removed))
	report := InvalidationReport{
		Patterns: names,
		Keys:     removed,
		Removed:  len(removed),
		Duration: time.Since(start),
	}
	inv.logger.Info().
		Strs("patterns", names).
		Int("removed", report.Removed).
		Dur("duration", report.Duration).
		Msg("cache invalidated")

	if report.Removed > 0 {
		inv.notify(report)
	}
	return report.Removed, nil
}

func (inv *Invalidator) scrub(ctx context.Context, i int, patterns []*Pattern, results [][]string) error {
	tier := inv.tiers[i]
	keys, err := tier.Backend.RemoveMatching(ctx, patterns)
	if err != nil {
		return unavailable(tier.Name, err)
	}
	results[i] = keys
	return nil
}

func (inv *Invalidator) notify(r InvalidationReport) {
	inv.mu.RLock()
	ls := append([]InvalidationListener(nil), inv.listeners...)
	inv.mu.RUnlock()
	for _, l := range ls {
		l(r)
	}
}

func (inv *Invalidator) record(result string, removed int) {
	if inv.metrics == nil {
		return
	}
	inv.metrics.Invalidations.WithLabelValues(result).Inc()
	if removed > 0 {
		inv.metrics.InvalidatedKeys.Add(float64(removed))
	}
}

func patternStrings(ps []*Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}
