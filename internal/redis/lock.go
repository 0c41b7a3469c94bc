package redisx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a per-job mutex shared by all scheduler instances. Held keys are
// renewed while the job runs; keys expire after TTL so a crashed holder
// cannot block a job forever.
type Locker struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewLocker(rdb redis.Cmdable, prefix string, ttl time.Duration) *Locker {
	if prefix == "" {
		prefix = "etl:lock:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Locker{rdb: rdb, prefix: prefix, ttl: ttl, poll: 500 * time.Millisecond}
}

func (l *Locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	token := uuid.NewString()
	key := l.prefix + name
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
		})
	}, true, nil
}

// keepAlive extends the key every ttl/3 until stop is closed or ownership
// is lost.
func (l *Locker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(max(l.ttl/3, 10*time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := renewScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

// Lock polls TryLock until it succeeds or ctx ends.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	for {
		unlock, ok, err := l.TryLock(ctx, name)
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
