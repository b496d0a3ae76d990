// Package engine finds principals with too many failed logins in a sliding
// window and raises one aggregate alert per detection run.
package engine

import (
	"context"
	"iter"
	"time"

	"bruteguard/internal/model"
	"bruteguard/internal/storage"
)

// Aggregator is stateless; the same window over the same rows always
// yields the same candidates.
type Aggregator struct {
	store storage.EventStore
	now   func() time.Time
}

func NewAggregator(store storage.EventStore) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Detect yields every principal with at least w.FailureThreshold events of
// w.EventType in [w.AsOf-window, w.AsOf]. Zero fields of w take defaults.
func (a *Aggregator) Detect(ctx context.Context, w model.DetectionWindow) iter.Seq2[model.Candidate, error] {
	w = w.WithDefaults(a.now())
	return a.store.FailedLogins(ctx, storage.QueryFor(w))
}
