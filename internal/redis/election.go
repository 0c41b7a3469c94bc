package redisx

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the key only while we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// LeaderElector keeps one scheduler instance as the cron leader.
type LeaderElector struct {
	rdb      redis.Cmdable
	key      string
	ttl      time.Duration
	instance string
	logger   *slog.Logger

	isLeader atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func NewLeaderElector(rdb redis.Cmdable, key string, ttl time.Duration, instanceID string, logger *slog.Logger) *LeaderElector {
	if instanceID == "" {
		instanceID = hostname()
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		rdb:      rdb,
		key:      key,
		ttl:      ttl,
		instance: instanceID,
		logger:   logger.With("component", "leader", "instance", instanceID),
	}
}

// Start campaigns in the background, renewing at a third of the TTL.
func (l *LeaderElector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			l.tick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (l *LeaderElector) tick(ctx context.Context) {
	if !l.isLeader.Load() {
		ok, err := l.rdb.SetNX(ctx, l.key, l.instance, l.ttl).Result()
		if err != nil {
			l.logger.Warn("leader campaign failed", "error", err)
			return
		}
		if ok {
			l.isLeader.Store(true)
			l.logger.Info("became leader")
		}
		return
	}
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.instance, l.ttl.Milliseconds()).Int()
	if err != nil || n == 0 {
		l.isLeader.Store(false)
		l.logger.Warn("lost leadership", "error", err)
	}
}

// Stop ends the campaign and gives up the key if held.
func (l *LeaderElector) Stop() {
	l.once.Do(func() {
		if l.cancel == nil {
			return
		}
		l.cancel()
		<-l.done
		if l.isLeader.Swap(false) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instance).Err()
		}
	})
}

func (l *LeaderElector) IsLeader() bool { return l.isLeader.Load() }

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "instance"
}
