// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dealdesk-dev/dealdesk/internal/ratelimit"
)

// startRedis runs a throwaway Redis and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "starting redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisStoreContainer(t *testing.T) {
	client, err := ratelimit.NewRedisClient(context.Background(), ratelimit.RedisOptions{URL: startRedis(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "dealdesk-it:" + uuid.NewString()
	l := ratelimit.New(ratelimit.NewRedisStore(client, prefix))
	ctx := context.Background()

	const limit = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "user-1", "chat", limit, time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, limit, allowed)

	stored, err := client.Get(ctx, prefix+":chat:user-1").Int()
	require.NoError(t, err)
	assert.Equal(t, limit, stored, "denied requests must not raise the stored count")

	other, err := l.Check(ctx, "user-2", "chat", limit, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	assert.Equal(t, limit-1, other.Remaining)
}
