// Package cache implements the catalog's tag-indexed response cache.
//
// Entries are byte values with a TTL and a set of tags. Writes scrub stale
// reads through Invalidate, which removes every entry whose key or one of
// whose tags matches a glob pattern. Identical "clear" requests arriving
// together are collapsed by a Debouncer. An optional Redis tier sits behind
// the in-process Store; read-path failures degrade to misses while
// write-path failures are returned to the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL            = 5 * time.Minute
	DefaultCountTTL       = time.Minute
	DefaultSweepInterval  = 10 * time.Minute
	DefaultSweepBatchSize = 500
	DefaultDebounceWindow = 2 * time.Second
	DefaultRemoteTimeout  = 250 * time.Millisecond
	DefaultOpTimeout      = 30 * time.Second
)

// Config holds runtime settings for the cache service.
type Config struct {
	DefaultTTL       time.Duration
	CountTTL         time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	DebounceWindow   time.Duration
	RemoteTimeout    time.Duration
	OperationTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:       DefaultTTL,
		CountTTL:         DefaultCountTTL,
		SweepInterval:    DefaultSweepInterval,
		SweepBatchSize:   DefaultSweepBatchSize,
		DebounceWindow:   DefaultDebounceWindow,
		RemoteTimeout:    DefaultRemoteTimeout,
		OperationTimeout: DefaultOpTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.CountTTL <= 0 {
		c.CountTTL = d.CountTTL
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = d.RemoteTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	return c
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRemote adds a remote tier behind the local store.
func WithRemote(b Backend) Option {
	return func(s *Service) { s.remote = b }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service is the cache facade handed to request handlers.
type Service struct {
	cfg     Config
	clock   Clock
	logger  zerolog.Logger
	local   *Store
	remote  Backend
	metrics *Metrics

	invalidator *Invalidator
	sweeper     *Sweeper
	debouncer   *Debouncer
	loads       singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	lifecycle sync.Mutex
	started   bool

	listenerMu     sync.RWMutex
	clearListeners []func(ClearResult)
}

// Stats is a point-in-time snapshot for the admin stats endpoint.
type Stats struct {
	Entries        int     `json:"entries"`
	Tags           int     `json:"tags"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	InFlightClears int     `json:"in_flight_clears"`
	RemoteEnabled  bool    `json:"remote_enabled"`
}

// New constructs a service. Call Init to start background maintenance and
// Shutdown to stop it.
func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg.withDefaults(),
		clock:   SystemClock{},
		logger:  zerolog.Nop(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With().Str("component", "cache").Logger()
	s.local = NewStore(s.clock)
	s.metrics.RegisterEntriesGauge(s.local.Len)

	tiers := []Tier{{Name: "local", Backend: s.local}}
	if s.remote != nil {
		tiers = append(tiers, Tier{Name: "remote", Backend: s.remote})
	}
	s.invalidator = NewInvalidator(tiers, s.metrics, s.logger)
	s.sweeper = NewSweeper(s.local, s.clock, s.cfg.SweepInterval, s.cfg.SweepBatchSize, s.metrics, s.logger)
	s.debouncer = NewDebouncer(s.clock, s.cfg.DebounceWindow, s.cfg.OperationTimeout, s.metrics)
	return s
}

// Init starts the expiry sweeper.
func (s *Service) Init(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.sweeper.Start(ctx)
	s.logger.Info().
		Dur("default_ttl", s.cfg.DefaultTTL).
		Dur("sweep_interval", s.cfg.SweepInterval).
		Dur("debounce_window", s.cfg.DebounceWindow).
		Bool("remote", s.remote != nil).
		Msg("cache service started")
}

// Shutdown stops background work and releases the tiers.
func (s *Service) Shutdown() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.sweeper.Stop()
	s.debouncer.Stop()
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing remote cache tier")
		}
	}
	_ = s.local.Close()
	s.started = false
	s.logger.Info().Msg("cache service stopped")
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Metrics returns the prometheus collectors.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Invalidator returns the coordinator write paths call through.
func (s *Service) Invalidator() *Invalidator { return s.invalidator }

// OnClear registers fn to run once per completed full clear, however many
// callers were coalesced into it.
func (s *Service) OnClear(fn func(ClearResult)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.clearListeners = append(s.clearListeners, fn)
}

// Get returns a copy of the cached value. It never fails: a broken or slow
// tier is logged and reported as a miss so the caller falls back to the
// source of truth.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	if validateToken("key", key) != nil {
		return nil, false
	}

	if val, ok, err := s.local.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("local cache read failed")
	} else if ok {
		s.hit()
		return val, true
	}

	if s.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		val, ok, err := s.remote.Get(rctx, key)
		cancel()
		if err != nil {
			s.metrics.RemoteErrors.Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("remote cache read failed, treating as miss")
		} else if ok {
			// not back-filled locally: the remote value carries no tags here,
			// and an untagged local copy would escape tag invalidation
			s.hit()
			return val, true
		}
	}

	s.miss()
	return nil, false
}

// Set stores value under key on every tier.
func (s *Service) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	ttl, tags, err := s.prepare(key, opts)
	if err != nil {
		return err
	}

	if err := s.local.Set(ctx, key, value, ttl, tags); err != nil {
		return unavailable("local", err)
	}
	s.metrics.Sets.Inc()

	if s.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
		if err := s.remote.Set(rctx, key, value, ttl, tags); err != nil {
			s.metrics.RemoteErrors.Inc()
			return unavailable("remote", err)
		}
	}
	return nil
}

// fill stores a loaded value unless a removal ran on the local tier since
// epoch was read; a value read before an invalidation must not outlive it.
// The local tier is always scrubbed before the remote one, so re-checking
// the epoch after the remote write catches an invalidation that overtook it.
func (s *Service) fill(ctx context.Context, key string, value []byte, opts SetOptions, epoch uint64) error {
	ttl, tags, err := s.prepare(key, opts)
	if err != nil {
		return err
	}

	stored, err := s.local.SetIfEpoch(ctx, key, value, ttl, tags, epoch)
	if err != nil {
		return unavailable("local", err)
	}
	if !stored {
		s.logger.Debug().Str("key", key).Msg("dropping loaded value that raced an invalidation")
		return nil
	}
	s.metrics.Sets.Inc()

	if s.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
		if err := s.remote.Set(rctx, key, value, ttl, tags); err != nil {
			s.metrics.RemoteErrors.Inc()
			return unavailable("remote", err)
		}
		if s.local.Epoch() != epoch {
			if err := s.remote.Delete(rctx, key); err != nil {
				s.metrics.RemoteErrors.Inc()
				return unavailable("remote", err)
			}
		}
	}
	return nil
}

func (s *Service) prepare(key string, opts SetOptions) (time.Duration, []string, error) {
	if err := validateToken("key", key); err != nil {
		return 0, nil, err
	}
	tags, err := normalizeTags(opts.Tags)
	if err != nil {
		return 0, nil, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	return ttl, tags, nil
}

// Delete removes key from every tier. A missing key is not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := validateToken("key", key); err != nil {
		return err
	}
	if err := s.local.Delete(ctx, key); err != nil {
		return unavailable("local", err)
	}
	if s.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
		if err := s.remote.Delete(rctx, key); err != nil {
			s.metrics.RemoteErrors.Inc()
			return unavailable("remote", err)
		}
	}
	return nil
}

// Clear drops every entry and tag on every tier and reports the largest
// per-tier entry count removed.
func (s *Service) Clear(ctx context.Context) (int, error) {
	n, err := s.local.Flush(ctx)
	if err != nil {
		return 0, unavailable("local", err)
	}
	if s.remote != nil {
		rn, err := s.remote.Flush(ctx)
		if err != nil {
			s.metrics.RemoteErrors.Inc()
			s.logger.Error().Err(err).Msg("remote cache flush failed")
			return n, unavailable("remote", err)
		}
		if rn > n {
			n = rn
		}
	}
	s.logger.Info().Int("removed", n).Msg("cache cleared")
	return n, nil
}

// Invalidate delegates to the Invalidator.
func (s *Service) Invalidate(ctx context.Context, patterns []string) (int, error) {
	return s.invalidator.Invalidate(ctx, patterns)
}

// ClearDebounced runs Clear (no patterns) or Invalidate (patterns) through
// the debouncer, so identical requests from one caller within the window
// share a single underlying operation.
func (s *Service) ClearDebounced(ctx context.Context, callerID string, patterns []string) (ClearResult, error) {
	compiled, err := CompilePatterns(patterns)
	if err != nil {
		return ClearResult{}, err
	}
	names := patternStrings(compiled)

	return s.debouncer.Do(ctx, callerID, names, func(opCtx context.Context) (ClearResult, error) {
		res := ClearResult{StartedAt: s.clock.Now(), Patterns: names}
		var opErr error
		if len(names) == 0 {
			res.Full = true
			if res.Removed, opErr = s.Clear(opCtx); opErr == nil {
				s.notifyClear(res)
			}
			return res, opErr
		}
		res.Removed, opErr = s.Invalidate(opCtx, names)
		return res, opErr
	})
}

// Loader computes a value on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// TaggedLoader computes a value together with the options to store it
// under, for entries whose tags depend on the loaded data.
type TaggedLoader func(ctx context.Context) ([]byte, SetOptions, error)

// GetOrLoad returns the cached value or computes, stores and returns it.
func (s *Service) GetOrLoad(ctx context.Context, key string, opts SetOptions, load Loader) ([]byte, error) {
	return s.GetOrLoadTagged(ctx, key, func(ctx context.Context) ([]byte, SetOptions, error) {
		val, err := load(ctx)
		return val, opts, err
	})
}

// GetOrLoadTagged is GetOrLoad with options chosen by the loader.
//
// Concurrent misses for the same key share one load. The load runs detached
// from the caller that started it, bounded by OperationTimeout; a caller
// whose context ends stops waiting without failing the others. The loaded
// value is not cached if an invalidation ran while it was loading. A failure
// to store it is logged, not returned.
func (s *Service) GetOrLoadTagged(ctx context.Context, key string, load TaggedLoader) ([]byte, error) {
	if val, ok := s.Get(ctx, key); ok {
		return val, nil
	}

	ch := s.loads.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OperationTimeout)
		defer cancel()

		epoch := s.local.Epoch()
		val, opts, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := s.fill(loadCtx, key, val, opts, epoch); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("caching loaded value failed")
		}
		return val, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]byte(nil), res.Val.([]byte)...), nil
	}
}

// GetJSON decodes a cached JSON value into dst. Undecodable values count as a miss.
func (s *Service) GetJSON(ctx context.Context, key string, dst any) bool {
	val, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache value")
		return false
	}
	return true
}

// SetJSON encodes v and stores it.
func (s *Service) SetJSON(ctx context.Context, key string, v any, opts SetOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value for %q: %w", key, err)
	}
	return s.Set(ctx, key, data, opts)
}

// LoadJSON is GetOrLoad for JSON-encoded values of type T.
func LoadJSON[T any](ctx context.Context, s *Service, key string, opts SetOptions, load func(ctx context.Context) (T, error)) (T, error) {
	return LoadJSONTagged(ctx, s, key, func(ctx context.Context) (T, SetOptions, error) {
		v, err := load(ctx)
		return v, opts, err
	})
}

// LoadJSONTagged is GetOrLoadTagged for JSON-encoded values of type T.
func LoadJSONTagged[T any](ctx context.Context, s *Service, key string, load func(ctx context.Context) (T, SetOptions, error)) (T, error) {
	var out T
	raw, err := s.GetOrLoadTagged(ctx, key, func(ctx context.Context) ([]byte, SetOptions, error) {
		v, opts, err := load(ctx)
		if err != nil {
			return nil, SetOptions{}, err
		}
		data, err := json.Marshal(v)
		return data, opts, err
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode cache value for %q: %w", key, err)
	}
	return out, nil
}

// Sweep runs one expiry pass immediately.
func (s *Service) Sweep() int {
	return s.sweeper.Sweep(s.clock.Now())
}

// Stats returns a snapshot of counters and sizes.
func (s *Service) Stats() Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:        s.local.Len(),
		Tags:           s.local.TagCount(),
		Hits:           hits,
		Misses:         misses,
		HitRate:        rate,
		InFlightClears: s.debouncer.InFlight(),
		RemoteEnabled:  s.remote != nil,
	}
}

func (s *Service) notifyClear(res ClearResult) {
	s.listenerMu.RLock()
	ls := slices.Clone(s.clearListeners)
	s.listenerMu.RUnlock()
	for _, fn := range ls {
		fn(res)
	}
}

func (s *Service) hit() {
	s.hits.Add(1)
	s.metrics.Hits.Inc()
}

func (s *Service) miss() {
	s.misses.Add(1)
	s.metrics.Misses.Inc()
}

func normalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if err := validateToken("tag", tag); err != nil {
			return nil, err
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}
