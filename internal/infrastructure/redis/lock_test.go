package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis/mocks"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker := NewRedisLocker(NewMemoryClient(), time.Minute, 5*time.Second)
	locker.retry = time.Millisecond

	var inside, maxInside, total int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "user:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&total, 1)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(10), total)
}

func TestRedisLocker_Busy(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLocker(NewMemoryClient(), time.Minute, 10*time.Millisecond)
	locker.retry = time.Millisecond

	unlock, err := locker.Lock(ctx, "order:1")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "order:1")
	assert.ErrorIs(t, err, pkgerrors.ErrBusy)

	other, err := locker.Lock(ctx, "order:2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := locker.Lock(ctx, "order:1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ExpiredHolderCannotUnlockSuccessor(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	now := time.Now()
	client.now = func() time.Time { return now }

	locker := NewRedisLocker(client, time.Second, 0)
	stale, err := locker.Lock(ctx, "user:5")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := locker.Lock(ctx, "user:5")
	require.NoError(t, err)

	stale()
	_, err = locker.Lock(ctx, "user:5")
	assert.ErrorIs(t, err, pkgerrors.ErrBusy)

	fresh()
	last, err := locker.Lock(ctx, "user:5")
	require.NoError(t, err)
	last()
}

func TestRedisLocker_ClientError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockRedisClient(ctrl)
	client.EXPECT().SetNX(gomock.Any(), "lock:order:3", gomock.Any(), time.Minute).Return(false, fmt.Errorf("connection refused"))

	_, err := NewRedisLocker(client, time.Minute, time.Second).Lock(context.Background(), "order:3")
	assert.EqualError(t, err, "connection refused")
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	client := NewMemoryClient()
	locker := NewRedisLocker(client, time.Minute, time.Hour)

	unlock, err := locker.Lock(context.Background(), "order:4")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "order:4")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	now := time.Now()
	client.now = func() time.Time { return now }

	_, err := client.Get(ctx, "plans:all")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, client.Set(ctx, "plans:all", 42, time.Minute))
	val, err := client.Get(ctx, "plans:all")
	require.NoError(t, err)
	assert.Equal(t, "42", val)

	ok, err := client.DelIfEqual(ctx, "plans:all", "41")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	_, err = client.Get(ctx, "plans:all")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, client.Set(ctx, "plan:1", "x", 0))
	require.NoError(t, client.Del(ctx, "plan:1"))
	_, err = client.Get(ctx, "plan:1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
