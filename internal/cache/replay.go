package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diem-vasp/wallet-backend/internal/offchain"
)

const replayKeyPrefix = "offchain:replay:"

// RedisReplayCache pins the signed response for each inbound (cid, payload
// digest) pair so an exact envelope re-delivery is answered with the same
// bytes without re-running the handler.
type RedisReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReplayCache(client *redis.Client, ttl time.Duration) *RedisReplayCache {
	return &RedisReplayCache{client: client, ttl: ttl}
}

func replayKey(cid, digest string) string {
	return replayKeyPrefix + cid + ":" + digest
}

func (c *RedisReplayCache) Get(ctx context.Context, cid, digest string) (*offchain.CachedResponse, error) {
	raw, err := c.client.Get(ctx, replayKey(cid, digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replay cache get: %w", err)
	}
	var resp offchain.CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("replay cache decode: %w", err)
	}
	return &resp, nil
}

func (c *RedisReplayCache) Put(ctx context.Context, cid, digest string, resp offchain.CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, replayKey(cid, digest), raw, c.ttl).Err()
}
