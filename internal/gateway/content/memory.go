package content

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memReceipt struct {
	content   PassthroughContent
	expiresAt time.Time
}

// MemoryContentStore is a volatile, process-local Store with a background
// ticker that evicts expired receipts even if nobody ever calls Take on
// them, so a passthrough result an agent never redeems doesn't leak memory.
type MemoryContentStore struct {
	mu       sync.Mutex
	receipts map[string]memReceipt

	stop chan struct{}
}

// NewMemoryContentStore starts the eviction ticker and returns a ready store.
func NewMemoryContentStore() *MemoryContentStore {
	s := &MemoryContentStore{
		receipts: make(map[string]memReceipt),
		stop:     make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

func (s *MemoryContentStore) Put(_ context.Context, c PassthroughContent, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := uuid.NewString()
	s.mu.Lock()
	s.receipts[ref] = memReceipt{content: c, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryContentStore) Take(_ context.Context, ref string) (*PassthroughContent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[ref]
	if !ok {
		return nil, false, nil
	}
	delete(s.receipts, ref)
	if time.Now().After(r.expiresAt) {
		return nil, false, nil
	}
	c := r.content
	return &c, true, nil
}

func (s *MemoryContentStore) Close() error {
	close(s.stop)
	return nil
}

func (s *MemoryContentStore) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for ref, r := range s.receipts {
				if now.After(r.expiresAt) {
					delete(s.receipts, ref)
				}
			}
			s.mu.Unlock()
		}
	}
}
