package vision

import (
	"time"

	"github.com/robopong/slingbot/internal/domain/model"
)

// defaultMinConfidence filters detections too weak to aim at.
const defaultMinConfidence = 0.25

// SnapshotProvider is what the resolver reads; the poller implements it.
type SnapshotProvider interface {
	Snapshot() (Snapshot, bool)
}

// ResolverOption applies a configuration option to the Resolver.
type ResolverOption func(*Resolver)

// WithMinConfidence sets the minimum usable detection confidence.
func WithMinConfidence(c float64) ResolverOption {
	return func(r *Resolver) {
		if c > 0 {
			r.minConfidence = c
		}
	}
}

// Resolver reduces a detection snapshot to a single best target.
type Resolver struct {
	snapshots     SnapshotProvider
	minConfidence float64
}

// NewResolver creates a resolver over the given snapshot provider.
func NewResolver(snapshots SnapshotProvider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		snapshots:     snapshots,
		minConfidence: defaultMinConfidence,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveBest returns the detection with strictly maximal confidence from
// the freshest snapshot no older than maxAge. Ties break toward the lowest
// numeric target id, so resolution is deterministic and reproducible.
// Returns ErrNoTarget when the snapshot is missing, stale, empty, or every
// confidence falls below the minimum.
func (r *Resolver) ResolveBest(maxAge time.Duration) (model.Target, error) {
	snap, ok := r.snapshots.Snapshot()
	if !ok || time.Since(snap.Taken) > maxAge {
		return model.Target{}, ErrNoTarget
	}

	var best model.Target
	found := false
	for _, t := range snap.Targets {
		if t.Confidence < r.minConfidence {
			continue
		}
		switch {
		case !found,
			t.Confidence > best.Confidence,
			t.Confidence == best.Confidence && t.ID < best.ID:
			best = t
			found = true
		}
	}

	if !found {
		return model.Target{}, ErrNoTarget
	}
	return best, nil
}
