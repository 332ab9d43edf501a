// Package baseline holds the in-memory registry of current baselines, backed
// by the snapshot store.
package baseline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vigildev/vigil/internal/snapshot"
	"github.com/vigildev/vigil/internal/storage"
)

// ViewportResolver maps a persisted viewport name back to its configured
// dimensions; ok is false when the name is no longer configured.
type ViewportResolver func(name string) (snapshot.Viewport, bool)

// Registry is the keyed map of current baselines. At most one baseline
// exists per key; baselines never expire and are replaced only through Set.
type Registry struct {
	store    *storage.SnapshotStore
	log      *zap.Logger
	fallback snapshot.Viewport

	mu        sync.RWMutex
	baselines map[snapshot.Key]*snapshot.Snapshot
}

// NewRegistry creates an empty registry. fallback is substituted for
// persisted baselines whose viewport name is no longer recognized.
func NewRegistry(store *storage.SnapshotStore, fallback snapshot.Viewport, logger *zap.Logger) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("cannot create baseline registry with nil store")
	}
	return &Registry{
		store:     store,
		log:       logger.Named("baseline_registry"),
		fallback:  fallback,
		baselines: make(map[snapshot.Key]*snapshot.Snapshot),
	}, nil
}

// Get returns the baseline for key, or ok=false when none exists.
func (r *Registry) Get(key snapshot.Key) (*snapshot.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.baselines[key]
	return snap, ok
}

// Set unconditionally replaces the baseline for snap's key. The image and
// metadata are persisted before the in-memory map is updated, so a failed
// write leaves the previous baseline intact and surfaces to the caller.
func (r *Registry) Set(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := r.store.WriteBaseline(ctx, snap); err != nil {
		return fmt.Errorf("baseline write for %s failed: %w", snap.Key, err)
	}

	r.mu.Lock()
	r.baselines[snap.Key] = snap
	r.mu.Unlock()

	r.log.Info("Baseline set", zap.String("key", snap.Key.String()), zap.String("url", snap.URL))
	return nil
}

// LoadAll repopulates the registry from persisted baseline storage. Entries
// whose stored viewport name is not resolvable are reconstructed with the
// fallback viewport rather than dropped; losing dimensions beats losing the
// baseline.
func (r *Registry) LoadAll(ctx context.Context, resolve ViewportResolver) error {
	stored, err := r.store.LoadBaselines(ctx)
	if err != nil {
		return fmt.Errorf("failed to load baselines: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, snap := range stored {
		if resolve != nil {
			if vp, ok := resolve(snap.Viewport.Name); ok {
				snap.Viewport = vp
			} else if snap.Viewport.Width <= 0 || snap.Viewport.Height <= 0 {
				r.log.Warn("Baseline references unknown viewport; using fallback dimensions",
					zap.String("key", snap.Key.String()),
					zap.String("viewport", snap.Viewport.Name))
				snap.Viewport = r.fallback
			}
		}
		r.baselines[snap.Key] = snap
	}

	r.log.Info("Baselines loaded", zap.Int("count", len(stored)))
	return nil
}

// Len returns the number of registered baselines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.baselines)
}

// Keys returns the registered keys in unspecified order.
func (r *Registry) Keys() []snapshot.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]snapshot.Key, 0, len(r.baselines))
	for k := range r.baselines {
		keys = append(keys, k)
	}
	return keys
}
