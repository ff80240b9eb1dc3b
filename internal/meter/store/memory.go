package store

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/flowgate/internal/clock"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
)

type memoryCounter struct {
	count    int64
	expireAt time.Time
}

// MemoryCounterStore is the in-process CounterStore used when redis is
// not configured and in tests. Counters expire lazily on access,
// against the same clock the meter service uses for period math.
type MemoryCounterStore struct {
	clk clock.Clock

	mu       sync.Mutex
	counters map[string]*memoryCounter
}

func NewMemoryCounterStore(clk clock.Clock) *MemoryCounterStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryCounterStore{
		clk:      clk,
		counters: make(map[string]*memoryCounter),
	}
}

func (s *MemoryCounterStore) IncrIfBelow(_ context.Context, key string, limit int64, expireAt time.Time) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.live(key)
	if limit >= 0 && counter.count >= limit {
		return counter.count, false, nil
	}
	counter.count++
	if counter.count == 1 && !expireAt.IsZero() {
		counter.expireAt = expireAt
	}
	return counter.count, true, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key).count, nil
}

func (s *MemoryCounterStore) live(key string) *memoryCounter {
	counter, ok := s.counters[key]
	if ok && !counter.expireAt.IsZero() && s.clk.Now().After(counter.expireAt) {
		ok = false
	}
	if !ok {
		counter = &memoryCounter{}
		s.counters[key] = counter
	}
	return counter
}

var _ meterdomain.CounterStore = (*MemoryCounterStore)(nil)
