package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt *time.Time
}

// MemoryProvider is the ephemeral storage backend, used by tests. A Gateway
// serves every trik from the single Provider it was constructed with; the
// manifest's capabilities.storage.persistent flag does not select a backend.
// Semantically identical to SQLiteProvider (same quota and TTL rules);
// everything is lost on process shutdown.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]map[string]memEntry // trikID -> key -> entry
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]map[string]memEntry)}
}

func (m *MemoryProvider) Close() error { return nil }

func (m *MemoryProvider) sweepLocked(trikID string) {
	bucket, ok := m.data[trikID]
	if !ok {
		return
	}
	now := time.Now()
	for k, e := range bucket {
		if e.expiresAt != nil && !e.expiresAt.After(now) {
			delete(bucket, k)
		}
	}
}

func (m *MemoryProvider) Get(_ context.Context, trikID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(trikID)
	bucket, ok := m.data[trikID]
	if !ok {
		return nil, false, nil
	}
	e, ok := bucket[key]
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryProvider) Set(_ context.Context, trikID, key string, value []byte, ttl *time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(trikID)
	bucket, ok := m.data[trikID]
	if !ok {
		bucket = make(map[string]memEntry)
		m.data[trikID] = bucket
	}
	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	bucket[key] = memEntry{value: cp, expiresAt: expiresAt}
	return nil
}

func (m *MemoryProvider) Delete(_ context.Context, trikID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[trikID]
	if !ok {
		return false, nil
	}
	if _, ok := bucket[key]; !ok {
		return false, nil
	}
	delete(bucket, key)
	return true, nil
}

func (m *MemoryProvider) List(_ context.Context, trikID, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(trikID)
	bucket := m.data[trikID]
	var keys []string
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryProvider) GetMany(ctx context.Context, trikID string, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, _ := m.Get(ctx, trikID, k)
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryProvider) SetMany(ctx context.Context, trikID string, values map[string][]byte) error {
	for k, v := range values {
		if err := m.Set(ctx, trikID, k, v, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryProvider) Usage(_ context.Context, trikID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(trikID)
	var total int64
	for _, e := range m.data[trikID] {
		total += int64(len(e.value))
	}
	return total, nil
}
