package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const estimateKeyPrefix = "lowstock:"

// decrementEstimateScript seeds the counter with ARGV[1] when it is absent,
// then lowers it by ARGV[2]. Returns {before, after}.
var decrementEstimateScript = redis.NewScript(`
local key = KEYS[1]
local seed = tonumber(ARGV[1])
local quantity = tonumber(ARGV[2])

if redis.call('EXISTS', key) == 0 then
	redis.call('SET', key, seed)
end

local after = redis.call('DECRBY', key, quantity)
return {after + quantity, after}
`)

// RedisEstimator keeps the collector's per-item stock estimates in Redis so
// several collector replicas share one counter per item.
type RedisEstimator struct {
	client       *redis.Client
	defaultStock int
}

func NewRedisEstimator(client *redis.Client, defaultStock int) *RedisEstimator {
	return &RedisEstimator{client: client, defaultStock: defaultStock}
}

func (r *RedisEstimator) Decrement(ctx context.Context, item string, quantity int) (int, int, error) {
	key := estimateKeyPrefix + item

	result, err := decrementEstimateScript.Run(ctx, r.client, []string{key}, r.defaultStock, quantity).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("decrement estimate: %w", err)
	}
	if len(result) != 2 {
		return 0, 0, fmt.Errorf("decrement estimate: unexpected reply %v", result)
	}

	return int(result[0]), int(result[1]), nil
}

func (r *RedisEstimator) Seed(ctx context.Context, item string, stock int) error {
	key := estimateKeyPrefix + item
	return r.client.Set(ctx, key, stock, 0).Err()
}

func (r *RedisEstimator) Estimate(ctx context.Context, item string) (int, bool, error) {
	key := estimateKeyPrefix + item

	n, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
