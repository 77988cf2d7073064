package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside, total := 0, 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "conv")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			total++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 20, total)
	assert.Equal(t, 0, k.Len())
}

func TestLockDifferentKeysDoNotContend(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, ConversationKey("t1", "a"))
	require.NoError(t, err)
	defer unlockA()

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := k.Lock(timeout, ConversationKey("t1", "b"))
	require.NoError(t, err)
	unlockB()
	assert.Equal(t, 1, k.Len())
}

func TestLockHonoursCancel(t *testing.T) {
	k := NewKeyed()
	unlock, err := k.Lock(context.Background(), "conv")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "conv")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, k.Len())
}
