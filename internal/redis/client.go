// Package redisx holds the Redis pieces shared by scheduler instances:
// leader election, per-job locks and the insight/failure streams.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClientWithBackoff pings until Redis answers or ctx ends.
func NewClientWithBackoff(ctx context.Context, cfg Config) (*redis.Client, error) {
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	for {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return rdb, nil
		}
		select {
		case <-ctx.Done():
			rdb.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
