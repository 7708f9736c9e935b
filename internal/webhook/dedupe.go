package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupe marks stored payload hashes with a TTL. Upserts are idempotent
// on their own; this only saves the database round trip for provider retries.
type RedisDedupe struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDedupe(rdb *redis.Client, ttl time.Duration) *RedisDedupe {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedupe{rdb: rdb, prefix: "webhook:seen:", ttl: ttl}
}

func (d *RedisDedupe) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDedupe) Mark(ctx context.Context, key string) error {
	return d.rdb.SetNX(ctx, d.prefix+key, 1, d.ttl).Err()
}
