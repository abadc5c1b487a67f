package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSenderLocks_SerializesSameSender(t *testing.T) {
	l := newSenderLocks()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.acquire(context.Background(), "alice")
			require.NoError(t, err)
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxActive)
	require.Zero(t, l.len(), "idle slots must be dropped")
}

func TestSenderLocks_DifferentSendersDoNotBlock(t *testing.T) {
	l := newSenderLocks()
	releaseA, err := l.acquire(context.Background(), "alice")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := l.acquire(ctx, "bob")
	require.NoError(t, err)
	releaseB()
}

func TestSenderLocks_ContextCancelWhileWaiting(t *testing.T) {
	l := newSenderLocks()
	release, err := l.acquire(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx, "alice")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	require.Zero(t, l.len())
}

func TestDedup(t *testing.T) {
	d := newDedup(2, time.Hour)
	require.False(t, d.observe("a"))
	require.True(t, d.observe("a"))
	require.False(t, d.observe(""))
	require.False(t, d.observe(""))

	require.False(t, d.observe("b"))
	require.False(t, d.observe("c")) // evicts "a"
	require.False(t, d.observe("a"))
}

func TestDedup_Forget(t *testing.T) {
	d := newDedup(10, time.Hour)
	require.False(t, d.observe("a"))
	d.forget("a")
	require.False(t, d.observe("a"))
	require.True(t, d.observe("a"))
	d.forget("")

	newDedup(0, time.Hour).forget("a")
}

func TestDedup_Expiry(t *testing.T) {
	d := newDedup(10, 30*time.Millisecond)
	require.False(t, d.observe("a"))
	time.Sleep(60 * time.Millisecond)
	require.False(t, d.observe("a"))
}

func TestDedup_Disabled(t *testing.T) {
	d := newDedup(0, time.Hour)
	require.False(t, d.observe("a"))
	require.False(t, d.observe("a"))
}
