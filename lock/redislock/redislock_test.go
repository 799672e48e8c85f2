package redislock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/perks"
)

// fakeRedis answers SET NX and the unlock script from a map.
type fakeRedis struct {
	redis.Scripter // unused methods panic

	mu    sync.Mutex
	data  map[string]string
	evals int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.data[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

func TestLocker_LockUnlock(t *testing.T) {
	r := newFakeRedis()
	l := New(r, "test:")
	l.PollInterval = time.Millisecond
	key := perks.LockKey("u", "p")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, r.held("test:"+key))

	unlock()
	unlock()
	assert.False(t, r.held("test:"+key))
	assert.Equal(t, 1, r.evals, "unlock runs once")
}

func TestLocker_WaitHonoursContext(t *testing.T) {
	// GIVEN: The perk lock is held
	// WHEN: A second caller waits with a short deadline
	// THEN: It gives up with the context error; other perks are unaffected

	r := newFakeRedis()
	l := New(r, "")
	l.PollInterval = time.Millisecond
	key := perks.LockKey("u", "p")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), perks.LockKey("u", "other"))
	require.NoError(t, err)
	other()
}

func TestLocker_WaiterAcquiresAfterRelease(t *testing.T) {
	r := newFakeRedis()
	l := New(r, "")
	l.PollInterval = time.Millisecond
	key := perks.LockKey("u", "p")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), key)
		if err == nil {
			u()
		}
		close(acquired)
	}()

	time.Sleep(5 * time.Millisecond)
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	r := newFakeRedis()
	l := New(r, "")
	key := perks.LockKey("u", "p")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	// Lease expired and someone else took it.
	r.mu.Lock()
	r.data[key] = "someone-else"
	r.mu.Unlock()

	unlock()
	assert.True(t, r.held(key))
}

func TestLocker_RealRedis(t *testing.T) {
	addr := os.Getenv("PERK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PERK_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := New(client, "perk-engine-test:")
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}
