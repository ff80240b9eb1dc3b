package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is the in-process Locker used when redis is not
// configured and in tests. Correct for a single instance only.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]memoryEntry)}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.entries[key]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.entries[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.entries[key]; ok && held.token == token {
		delete(l.entries, key)
	}
	return nil
}
