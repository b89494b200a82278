package cache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() (*Store, *ManualClock) {
	clock := NewManualClock(epoch)
	return NewStore(clock), clock
}

func TestStore_SetGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second, nil))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	clock.Advance(1100 * time.Millisecond)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "expected miss after expiry")
}

func TestStore_ExpiredEntryNeverReturnedBeforeSweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute, []string{"t"}))
	clock.Advance(time.Minute)

	_, ok, _ := s.Get(ctx, "k")
	require.False(t, ok, "entry at its exact expiry must be a miss")
	// lazy removal also cleans the tag bucket
	require.Empty(t, s.KeysForTag("t"))
	require.Empty(t, s.checkConsistency())
}

func TestStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	buf := []byte("original")
	require.NoError(t, s.Set(ctx, "k", buf, time.Minute, nil))
	buf[0] = 'X'

	got, _, _ := s.Get(ctx, "k")
	require.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, _, _ := s.Get(ctx, "k")
	require.Equal(t, "original", string(again))
}

func TestStore_SetReplacesTags(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Set(ctx, "product:1", []byte("a"), time.Minute, []string{"products:category:1", "products"}))
	require.NoError(t, s.Set(ctx, "product:1", []byte("b"), time.Minute, []string{"products:category:2", "products"}))

	require.Empty(t, s.KeysForTag("products:category:1"))
	require.Equal(t, []string{"product:1"}, s.KeysForTag("products:category:2"))
	require.Equal(t, []string{"product:1"}, s.KeysForTag("products"))
	require.Empty(t, s.checkConsistency())
}

func TestStore_Delete_Clear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute, []string{"x"}))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute, []string{"x", "y"}))

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, _ := s.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, 1, s.Len())
	require.Equal(t, []string{"b"}, s.KeysForTag("x"))

	// deleting an absent key is a no-op
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "never-set"))
	require.Equal(t, 1, s.Len())

	n, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.TagCount())
}

func TestStore_SweepExpiredRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Second, []string{"t"}))
	}
	require.NoError(t, s.Set(ctx, "keep", []byte("v"), time.Hour, []string{"t"}))
	clock.Advance(2 * time.Second)

	require.Equal(t, 4, s.SweepExpired(clock.Now(), 4))
	require.Equal(t, 6, s.SweepExpired(clock.Now(), 0))
	require.Equal(t, []string{"keep"}, s.KeysForTag("t"))
	require.Empty(t, s.checkConsistency())
}

func TestStore_ClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Set(ctx, "k", nil, time.Minute, nil), ErrClosed)
	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.RemoveMatching(ctx, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestStore_TagConsistencyUnderRandomOperations(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()
	rng := rand.New(rand.NewSource(42))

	keys := []string{"product:1", "product:2", "product:3", "products:list:all", "categories:list"}
	tags := []string{"products", "products:category:1", "products:category:2", "categories"}

	for i := 0; i < 2000; i++ {
		key := keys[rng.Intn(len(keys))]
		switch rng.Intn(5) {
		case 0, 1:
			var ts []string
			for _, tag := range tags {
				if rng.Intn(2) == 0 {
					ts = append(ts, tag)
				}
			}
			require.NoError(t, s.Set(ctx, key, []byte("v"), time.Duration(1+rng.Intn(5))*time.Second, ts))
		case 2:
			require.NoError(t, s.Delete(ctx, key))
		case 3:
			p := MustCompilePattern(tags[rng.Intn(len(tags))] + "*")
			_, err := s.RemoveMatching(ctx, []*Pattern{p})
			require.NoError(t, err)
		case 4:
			clock.Advance(time.Second)
			_, _, _ = s.Get(ctx, key)
		}
		require.Empty(t, s.checkConsistency(), "after step %d", i)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	keys := 50
	rounds := 200

	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("product:%d", i)
			for r := 0; r < rounds; r++ {
				_ = s.Set(ctx, key, []byte("v"), time.Minute, []string{"products", fmt.Sprintf("products:category:%d", r%3)})
				_, _, _ = s.Get(ctx, key)
				if r%50 == 0 {
					_, _ = s.RemoveMatching(ctx, []*Pattern{MustCompilePattern("products:category:1")})
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, s.checkConsistency())
	got := s.KeysForTag("products")
	sort.Strings(got)
	require.Len(t, got, s.Len())
}

func TestStore_ExpiredEntriesNotCountedAsRemoved(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	require.NoError(t, s.Set(ctx, "product:1", []byte("v"), time.Second, []string{"products"}))
	require.NoError(t, s.Set(ctx, "product:2", []byte("v"), time.Hour, []string{"products"}))
	clock.Advance(2 * time.Second)

	removed, err := s.RemoveMatching(ctx, []*Pattern{MustCompilePattern("products")})
	require.NoError(t, err)
	require.Equal(t, []string{"product:2"}, removed)
	require.Equal(t, 0, s.TagCount(), "expired matches are still dropped")
	require.Empty(t, s.checkConsistency())

	require.NoError(t, s.Set(ctx, "a", []byte("v"), time.Second, nil))
	require.NoError(t, s.Set(ctx, "b", []byte("v"), time.Hour, nil))
	clock.Advance(2 * time.Second)
	n, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStore_SetIfEpochDropsFillsOverlappingRemoval(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	epoch := s.Epoch()
	stored, err := s.SetIfEpoch(ctx, "product:7", []byte("fresh"), time.Minute, []string{"products"}, epoch)
	require.NoError(t, err)
	require.True(t, stored)

	epoch = s.Epoch()
	_, err = s.RemoveMatching(ctx, []*Pattern{MustCompilePattern("products:category:3")})
	require.NoError(t, err)
	stored, err = s.SetIfEpoch(ctx, "product:7", []byte("old"), time.Minute, []string{"products"}, epoch)
	require.NoError(t, err)
	require.False(t, stored)
	v, ok, _ := s.Get(ctx, "product:7")
	require.True(t, ok)
	require.Equal(t, "fresh", string(v))

	for _, remove := range []func() error{
		func() error { return s.Delete(ctx, "other") },
		func() error { _, err := s.Flush(ctx); return err },
	} {
		epoch = s.Epoch()
		require.NoError(t, remove())
		stored, err = s.SetIfEpoch(ctx, "product:7", []byte("old"), time.Minute, nil, epoch)
		require.NoError(t, err)
		require.False(t, stored)
	}
}
