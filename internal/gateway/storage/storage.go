// Package storage implements the per-trik, namespaced, quota-enforced key
// value store that backs skill code's storage.* calls. Every operation is
// scoped to a single trik id (I4); the Handle returned by ForTrik has no way
// to address another trik's keys, which is the isolation mechanism itself
// rather than a check layered on top of it.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded is returned by Set when the projected total size of a
// trik's entries would exceed its configured maxSizeBytes.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// ErrNotFound names the missing-key condition. Delete does not return it:
// both providers and Handle report a missing key as (false, nil).
var ErrNotFound = errors.New("storage: key not found")

// DefaultMaxSizeBytes is used when a trik's manifest does not declare one.
const DefaultMaxSizeBytes int64 = 100 * 1024 * 1024

// Entry is a single stored value together with its bookkeeping fields.
type Entry struct {
	TrikID    string
	Key       string
	Value     []byte // JSON-encoded
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Provider is the full storage backend, addressed by explicit trik id.
// Callers that want namespace isolation enforced by the type system rather
// than by discipline should go through ForTrik and use the resulting Handle
// instead of a Provider directly.
type Provider interface {
	Get(ctx context.Context, trikID, key string) ([]byte, bool, error)
	Set(ctx context.Context, trikID, key string, value []byte, ttl *time.Duration) error
	Delete(ctx context.Context, trikID, key string) (bool, error)
	List(ctx context.Context, trikID, prefix string) ([]string, error)
	GetMany(ctx context.Context, trikID string, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, trikID string, values map[string][]byte) error

	// Usage returns the current total size, in bytes, of all non-expired
	// entries for trikID. Used by quota tests and diagnostics.
	Usage(ctx context.Context, trikID string) (int64, error)

	Close() error
}

// Handle is a Provider bound to a single trik id and its quota, the shape
// actually injected into a SkillInput.
type Handle struct {
	trikID       string
	maxSizeBytes int64
	provider     Provider
}

// ForTrik returns a Handle scoped to trikID with the given quota. maxSizeBytes
// of 0 means DefaultMaxSizeBytes.
func ForTrik(p Provider, trikID string, maxSizeBytes int64) Handle {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}
	return Handle{trikID: trikID, maxSizeBytes: maxSizeBytes, provider: p}
}

func (h Handle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return h.provider.Get(ctx, h.trikID, key)
}

// Set enforces the per-trik quota before delegating to the backend: the
// projected total (current usage, minus the key's old size if it already
// existed, plus the new value's size) must not exceed the handle's
// maxSizeBytes.
func (h Handle) Set(ctx context.Context, key string, value []byte, ttl *time.Duration) error {
	usage, err := h.provider.Usage(ctx, h.trikID)
	if err != nil {
		return err
	}
	oldValue, existed, err := h.provider.Get(ctx, h.trikID, key)
	if err != nil {
		return err
	}
	projected := usage + int64(len(value))
	if existed {
		projected -= int64(len(oldValue))
	}
	if projected > h.maxSizeBytes {
		return ErrQuotaExceeded
	}
	return h.provider.Set(ctx, h.trikID, key, value, ttl)
}

func (h Handle) Delete(ctx context.Context, key string) (bool, error) {
	return h.provider.Delete(ctx, h.trikID, key)
}

func (h Handle) List(ctx context.Context, prefix string) ([]string, error) {
	return h.provider.List(ctx, h.trikID, prefix)
}

func (h Handle) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	return h.provider.GetMany(ctx, h.trikID, keys)
}

func (h Handle) SetMany(ctx context.Context, values map[string][]byte) error {
	return h.provider.SetMany(ctx, h.trikID, values)
}

func (h Handle) Usage(ctx context.Context) (int64, error) {
	return h.provider.Usage(ctx, h.trikID)
}

// escapeLikePattern escapes SQL LIKE metacharacters ('%', '_') in a prefix so
// it can safely be used as a prefix='...'||'%' clause with ESCAPE '\'.
func escapeLikePattern(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
