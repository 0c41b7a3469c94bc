package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_TryLock(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = l.TryLock(ctx, "b")
	assert.True(t, ok)

	unlock()
	unlock()
	_, ok, _ = l.TryLock(ctx, "a")
	assert.True(t, ok)
}

func TestLocalLocker_LockWaits(t *testing.T) {
	l := NewLocalLocker()
	unlock, ok, _ := l.TryLock(context.Background(), "a")
	require.True(t, ok)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "a")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Lock returned while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Lock did not return after unlock")
	}
}

func TestLocalLocker_LockHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	_, ok, _ := l.TryLock(context.Background(), "a")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
