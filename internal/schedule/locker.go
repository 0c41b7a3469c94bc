package schedule

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Locker serialises runs of the same job.
type Locker interface {
	// TryLock returns ok=false when the job is already held.
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
	// Lock waits until the job is free or ctx ends.
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]chan struct{}{}}
}

func (l *LocalLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	return l.acquire(name), true, nil
}

func (l *LocalLocker) Lock(ctx context.Context, name string) (func(), error) {
	for {
		l.mu.Lock()
		ch, busy := l.held[name]
		if !busy {
			unlock := l.acquire(name)
			l.mu.Unlock()
			return unlock, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// acquire must be called with mu held.
func (l *LocalLocker) acquire(name string) func() {
	ch := make(chan struct{})
	l.held[name] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// PgLocker uses Postgres session advisory locks keyed by a hash of the job
// name. Each held lock pins one connection until released.
type PgLocker struct {
	DB   *sql.DB
	Poll time.Duration
}

func (l *PgLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	key := hashToBigInt(name)
	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		conn.Close()
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key)
			conn.Close()
		})
	}, true, nil
}

func (l *PgLocker) Lock(ctx context.Context, name string) (func(), error) {
	poll := l.Poll
	if poll <= 0 {
		poll = time.Second
	}
	for {
		unlock, ok, err := l.TryLock(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// hashToBigInt produces a signed 64-bit integer from the job name.
func hashToBigInt(s string) int64 {
	h := sha1.Sum([]byte(s))
	return int64(binary.BigEndian.Uint64(h[0:8]))
}
