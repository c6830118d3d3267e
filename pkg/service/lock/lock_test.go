package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/service/lock"
)

func testLocker(t *testing.T, locker interfaces.Locker) {
	ctx := context.Background()
	key := "poll-" + uuid.NewString()

	t.Run("second acquisition fails while held", func(t *testing.T) {
		unlock, ok, err := locker.TryLock(ctx, key, time.Minute)
		gt.NoError(t, err).Required()
		gt.B(t, ok).True()

		_, ok2, err := locker.TryLock(ctx, key, time.Minute)
		gt.NoError(t, err).Required()
		gt.B(t, ok2).False()

		gt.NoError(t, unlock(ctx))

		unlock3, ok3, err := locker.TryLock(ctx, key, time.Minute)
		gt.NoError(t, err).Required()
		gt.B(t, ok3).True()
		gt.NoError(t, unlock3(ctx))
	})

	t.Run("different keys are independent", func(t *testing.T) {
		u1, ok1, err := locker.TryLock(ctx, key+"-a", time.Minute)
		gt.NoError(t, err).Required()
		u2, ok2, err := locker.TryLock(ctx, key+"-b", time.Minute)
		gt.NoError(t, err).Required()
		gt.B(t, ok1).True()
		gt.B(t, ok2).True()
		gt.NoError(t, u1(ctx))
		gt.NoError(t, u2(ctx))
	})
}

func TestMemory(t *testing.T) {
	testLocker(t, lock.NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := lock.NewMemory()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m.SetNow(func() time.Time { return now })

	staleUnlock, ok, err := m.TryLock(ctx, "k", time.Minute)
	gt.NoError(t, err).Required()
	gt.B(t, ok).True()

	now = now.Add(2 * time.Minute)
	_, ok, err = m.TryLock(ctx, "k", time.Minute)
	gt.NoError(t, err).Required()
	gt.B(t, ok).True()

	// the expired holder must not release the new owner's lock
	gt.NoError(t, staleUnlock(ctx))
	_, ok, err = m.TryLock(ctx, "k", time.Minute)
	gt.NoError(t, err).Required()
	gt.B(t, ok).False()
}

func TestRedis(t *testing.T) {
	addr, ok := os.LookupEnv("TEST_REDIS_ADDR")
	if !ok {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	r, err := lock.Dial(context.Background(), addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	gt.NoError(t, err).Required()
	defer func() { _ = r.Close() }()

	testLocker(t, r)
}
