// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// takeScript increments the window counter unless it already reached the
// limit, and arms its expiry on the first hit. The stored count never
// exceeds the limit. Running it as one script makes the check atomic
// across instances.
var takeScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local allowed = 0
if count < tonumber(ARGV[2]) then
	count = redis.call('INCR', KEYS[1])
	allowed = 1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl, allowed}
`)

// RedisStore shares counters between gateway instances. Redis key expiry
// replaces the sweep.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using client. Keys are namespaced by prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dealdesk:ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, identifier, typ string, limit int, window time.Duration) (Result, error) {
	key := fmt.Sprintf("%s:%s:%s", s.prefix, typ, identifier)

	vals, err := takeScript.Run(ctx, s.client, []string{key}, window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return Result{}, dderr.Wrap(err, dderr.CodeRateLimitStoreFailure, "running redis rate limit script")
	}
	if len(vals) != 3 {
		return Result{}, dderr.Errorf(dderr.CodeRateLimitStoreFailure,
			"redis rate limit script: unexpected reply length %d", len(vals))
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	res := Result{
		Allowed:   vals[2] == 1,
		Limit:     limit,
		Remaining: max(0, limit-count),
		ResetAt:   time.Now().Add(ttl),
	}
	return res, nil
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient parses opts.URL, applies overrides and pings the server.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeConfigValidateInvalidValue, "parsing redis URL")
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		parsed.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		parsed.WriteTimeout = opts.WriteTimeout
	}

	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, dderr.Wrap(err, dderr.CodeRateLimitStoreFailure, "pinging redis")
	}
	return client, nil
}
