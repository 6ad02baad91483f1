// Package registry resolves engine identifiers to live, cached backend
// adapters. Construction is expensive (model load onto a scarce
// accelerator), so the registry amortizes it behind a construct-once cache
// with graceful fallback and explicit invalidation.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-service/internal/core"
)

// Constructor builds one backend adapter. Constructors are injected at
// registry creation, so optional heavy dependencies stay explicit and the
// registry is swappable in tests.
type Constructor func(ctx context.Context) (core.SynthesisBackend, error)

// entry serializes construction per engine id. Exactly one caller runs the
// constructor; concurrent first-callers block on the same once and share
// the outcome.
type entry struct {
	once    sync.Once
	backend core.SynthesisBackend
	err     error
}

// Registry implements core.BackendResolver. It is the only process-wide
// mutable state outside the durable stores.
type Registry struct {
	mu             sync.Mutex
	constructors   map[string]Constructor
	entries        map[string]*entry
	live           map[string]core.SynthesisBackend
	log            *logger.Logger
	memoryPressure bool
}

// Compile-time interface assertion.
var _ core.BackendResolver = (*Registry)(nil)

// New creates a registry over the given constructors. With memoryPressure
// set, an idle cached backend is fully unloaded before another engine is
// constructed, trading reload latency for protection against accelerator
// out-of-memory failures.
func New(
	constructors map[string]Constructor,
	memoryPressure bool,
	log *logger.Logger,
) *Registry {
	return &Registry{
		constructors:   constructors,
		entries:        make(map[string]*entry),
		live:           make(map[string]core.SynthesisBackend),
		log:            log,
		memoryPressure: memoryPressure,
	}
}

// Resolve returns the cached adapter for an engine id, constructing it on
// first use. At most one construction occurs per id regardless of
// concurrent callers; a failed construction is evicted so a later call can
// retry.
func (r *Registry) Resolve(ctx context.Context, engineID string) (core.SynthesisBackend, error) {
	r.mu.Lock()

	ctor, known := r.constructors[engineID]
	if !known {
		r.mu.Unlock()

		return nil, fmt.Errorf("%w: %q", core.ErrUnknownEngine, engineID)
	}

	ent, cached := r.entries[engineID]
	if !cached {
		ent = &entry{}
		r.entries[engineID] = ent
	}

	r.mu.Unlock()

	ent.once.Do(func() {
		if r.memoryPressure {
			r.evictIdle(ctx, engineID)
		}

		ent.backend, ent.err = ctor(ctx)
		if ent.err == nil {
			r.mu.Lock()
			r.live[engineID] = ent.backend
			r.mu.Unlock()
		}
	})

	if ent.err != nil {
		// Drop the failed entry so the engine can be retried after the
		// underlying condition clears.
		r.mu.Lock()
		if r.entries[engineID] == ent {
			delete(r.entries, engineID)
		}
		r.mu.Unlock()

		return nil, fmt.Errorf("failed to construct engine %q: %w", engineID, ent.err)
	}

	return ent.backend, nil
}

// ResolveWithFallback attempts the requested engine and degrades to the
// fallback on any construction failure. Both failing yields
// ErrBackendUnavailable. An empty or identical fallback id disables the
// second attempt.
func (r *Registry) ResolveWithFallback(
	ctx context.Context,
	engineID, fallbackID string,
) (core.SynthesisBackend, error) {
	backend, err := r.Resolve(ctx, engineID)
	if err == nil {
		return backend, nil
	}

	if fallbackID == "" || fallbackID == engineID {
		return nil, fmt.Errorf("%w: engine %q: %w", core.ErrBackendUnavailable, engineID, err)
	}

	r.log.Warn(
		"Engine %q unavailable, falling back to %q: %v",
		engineID,
		fallbackID,
		err,
	)

	fallback, fallbackErr := r.Resolve(ctx, fallbackID)
	if fallbackErr != nil {
		return nil, fmt.Errorf(
			"%w: engine %q failed (%v) and fallback %q failed: %w",
			core.ErrBackendUnavailable,
			engineID,
			err,
			fallbackID,
			fallbackErr,
		)
	}

	return fallback, nil
}

// Invalidate evicts one cached adapter, unloading its model state. The
// next Resolve for the id constructs a fresh adapter.
func (r *Registry) Invalidate(ctx context.Context, engineID string) {
	r.mu.Lock()
	backend := r.live[engineID]
	delete(r.live, engineID)
	delete(r.entries, engineID)
	r.mu.Unlock()

	r.unload(ctx, engineID, backend)
}

// InvalidateAll evicts every cached adapter.
func (r *Registry) InvalidateAll(ctx context.Context) {
	r.mu.Lock()

	evicted := r.live
	r.live = make(map[string]core.SynthesisBackend)
	r.entries = make(map[string]*entry)

	r.mu.Unlock()

	for engineID, backend := range evicted {
		r.unload(ctx, engineID, backend)
	}
}

// evictIdle unloads every constructed backend other than the one about to
// be built, so the incoming model finds the accelerator empty.
func (r *Registry) evictIdle(ctx context.Context, keepID string) {
	r.mu.Lock()

	evicted := make(map[string]core.SynthesisBackend)

	for engineID, backend := range r.live {
		if engineID == keepID {
			continue
		}

		evicted[engineID] = backend

		delete(r.live, engineID)
		delete(r.entries, engineID)
	}

	r.mu.Unlock()

	for engineID, backend := range evicted {
		r.log.Info("Memory pressure: unloading idle engine %q", engineID)
		r.unload(ctx, engineID, backend)
	}
}

// unload calls the backend's unload hook, logging rather than propagating
// failures; eviction must succeed even when a runner is already gone.
func (r *Registry) unload(ctx context.Context, engineID string, backend core.SynthesisBackend) {
	if backend == nil {
		return
	}

	err := backend.Unload(ctx)
	if err != nil {
		r.log.Warn("Failed to unload engine %q during eviction: %v", engineID, err)
	}
}
