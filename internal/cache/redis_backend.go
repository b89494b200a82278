package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is the optional remote tier. Layout under prefix:
//
//	entry:<key>     value bytes, with TTL
//	entrytags:<key> set of the entry's tags, same TTL
//	tag:<tag>       set of keys carrying tag
//	keys, tags      registries used for pattern matching
//
// Redis has no glob semantics identical to ours, so patterns are matched
// client-side against the registries with the same Pattern type the local
// tier uses.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, prefix string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("redis", err)
	}
	return NewRedisBackend(client, prefix), nil
}

func (r *RedisBackend) entryKey(key string) string { return r.prefix + "entry:" + key }

func (r *RedisBackend) entryTagsKey(key string) string { return r.prefix + "entrytags:" + key }

func (r *RedisBackend) tagKey(tag string) string { return r.prefix + "tag:" + tag }

func (r *RedisBackend) keysRegistry() string { return r.prefix + "keys" }

func (r *RedisBackend) tagsRegistry() string { return r.prefix + "tags" }

// Get implements Backend.Get.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set implements Backend.Set.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	oldTags, err := r.client.SMembers(ctx, r.entryTagsKey(key)).Result()
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range oldTags {
			pipe.SRem(ctx, r.tagKey(tag), key)
		}
		pipe.Del(ctx, r.entryTagsKey(key))
		pipe.Set(ctx, r.entryKey(key), value, ttl)
		pipe.SAdd(ctx, r.keysRegistry(), key)
		if len(tags) > 0 {
			members := make([]any, len(tags))
			for i, tag := range tags {
				members[i] = tag
				pipe.SAdd(ctx, r.tagKey(tag), key)
			}
			pipe.SAdd(ctx, r.entryTagsKey(key), members...)
			pipe.Expire(ctx, r.entryTagsKey(key), ttl)
			pipe.SAdd(ctx, r.tagsRegistry(), members...)
		}
		return nil
	})
	return err
}

// Delete implements Backend.Delete.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	_, err := r.removeKey(ctx, key)
	return err
}

// RemoveMatching implements Backend.RemoveMatching.
func (r *RedisBackend) RemoveMatching(ctx context.Context, patterns []*Pattern) ([]string, error) {
	keys, err := r.client.SMembers(ctx, r.keysRegistry()).Result()
	if err != nil {
		return nil, err
	}
	tags, err := r.client.SMembers(ctx, r.tagsRegistry()).Result()
	if err != nil {
		return nil, err
	}

	// key -> tags it was reached through, so stale memberships of already
	// expired entries are cleaned as well
	matched := make(map[string][]string)
	for _, k := range keys {
		if matchAny(patterns, k) {
			matched[k] = nil
		}
	}
	for _, tag := range tags {
		if !matchAny(patterns, tag) {
			continue
		}
		members, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range members {
			matched[k] = append(matched[k], tag)
		}
	}

	removed := make([]string, 0, len(matched))
	for k, via := range matched {
		existed, err := r.removeKey(ctx, k, via...)
		if err != nil {
			return removed, err
		}
		if existed {
			removed = append(removed, k)
		}
	}
	return removed, nil
}

// Flush implements Backend.Flush by deleting everything under the prefix.
func (r *RedisBackend) Flush(ctx context.Context) (int, error) {
	entries := 0
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return entries, err
		}
		if len(batch) > 0 {
			for _, k := range batch {
				if strings.HasPrefix(k, r.prefix+"entry:") {
					entries++
				}
			}
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return entries, err
			}
		}
		cursor = next
		if cursor == 0 {
			return entries, nil
		}
	}
}

// Close implements Backend.Close.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// removeKey deletes one entry and its tag memberships, plus membership in
// extraTags. It reports whether the entry itself still existed (expired
// entries linger only in registries).
func (r *RedisBackend) removeKey(ctx context.Context, key string, extraTags ...string) (bool, error) {
	tags, err := r.client.SMembers(ctx, r.entryTagsKey(key)).Result()
	if err != nil {
		return false, err
	}
	for _, tag := range extraTags {
		if !containsString(tags, tag) {
			tags = append(tags, tag)
		}
	}

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.entryKey(key))
		pipe.Del(ctx, r.entryTagsKey(key))
		pipe.SRem(ctx, r.keysRegistry(), key)
		for _, tag := range tags {
			pipe.SRem(ctx, r.tagKey(tag), key)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, tag := range tags {
		n, err := r.client.SCard(ctx, r.tagKey(tag)).Result()
		if err != nil {
			return false, err
		}
		if n == 0 {
			if err := r.client.SRem(ctx, r.tagsRegistry(), tag).Err(); err != nil {
				return false, err
			}
		}
	}
	return del.Val() > 0, nil
}

var _ Backend = (*RedisBackend)(nil)
