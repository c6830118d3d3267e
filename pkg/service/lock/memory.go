package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Locker for single-replica deployments and tests
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	nowFn func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemory creates an empty in-process locker
func NewMemory() *Memory {
	return &Memory{
		held:  make(map[string]memoryEntry),
		nowFn: time.Now,
	}
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if e, ok := m.held[key]; ok && e.expiresAt.After(now) {
		return nil, false, nil
	}

	token := uuid.NewString()
	m.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}

	unlock := func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// only release the lock we still own
		if e, ok := m.held[key]; ok && e.token == token {
			delete(m.held, key)
		}
		return nil
	}
	return unlock, true, nil
}
