// Package internalrunner dispatches trik actions whose manifest declares a
// runtime matching the gateway's own host runtime, skipping the subprocess
// worker protocol entirely. It replaces the teacher's dynamic, duck-typed
// skill lookup with an explicit Go interface, per the "explicit contract"
// design direction.
package internalrunner

import (
	"context"
	"fmt"
	"sync"

	"github.com/trikhub/gateway/internal/gateway/skill"
)

// Runtime is a single in-process skill implementation.
type Runtime interface {
	Invoke(ctx context.Context, input skill.Input) (skill.Output, error)
}

// Registry maps a trik id to its registered in-process Runtime. Unlike the
// subprocess path, which is keyed by language runtime, in-process skills are
// registered directly by the trik they implement: there is no shared
// process to multiplex across trik ids.
type Registry struct {
	mu    sync.RWMutex
	triks map[string]Runtime
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{triks: make(map[string]Runtime)}
}

// Register adds or replaces the in-process Runtime for trikID.
func (r *Registry) Register(trikID string, rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triks[trikID] = rt
}

// Unregister removes a trik's in-process Runtime, if any.
func (r *Registry) Unregister(trikID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triks, trikID)
}

// Lookup returns the Runtime registered for trikID, if any.
func (r *Registry) Lookup(trikID string) (Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.triks[trikID]
	return rt, ok
}

// Invoke dispatches to the registered Runtime for trikID, or fails with a
// descriptive error if none is registered. The gateway core routes every
// trik whose entry runtime is empty or equals the host runtime here, with no
// subprocess fallback, so this error is what such a trik gets when no
// Runtime was registered for it.
func (r *Registry) Invoke(ctx context.Context, trikID string, input skill.Input) (skill.Output, error) {
	rt, ok := r.Lookup(trikID)
	if !ok {
		return skill.Output{}, fmt.Errorf("internalrunner: no runtime registered for trik %q", trikID)
	}
	return rt.Invoke(ctx, input)
}
