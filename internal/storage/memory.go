package storage

import (
	"context"
	"iter"
	"sort"
	"sync"

	"bruteguard/internal/model"
)

// MemoryStore keeps rows in process and groups them on read.
type MemoryStore struct {
	mu     sync.RWMutex
	events []model.LogEvent
	seen   map[string]struct{}
	dedupe bool
}

func NewMemory(dedupe bool) *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{}), dedupe: dedupe}
}

func (m *MemoryStore) Init(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) Insert(ctx context.Context, ev model.LogEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dedupe {
		if _, ok := m.seen[ev.EventID]; ok {
			return nil
		}
		m.seen[ev.EventID] = struct{}{}
	}
	ev.Metadata = cloneMetadata(ev.Metadata)
	m.events = append(m.events, ev)
	return nil
}

// Len is the number of stored rows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Events returns a snapshot of all stored rows in insertion order.
func (m *MemoryStore) Events() []model.LogEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.LogEvent, len(m.events))
	copy(out, m.events)
	return out
}

type principalWindow struct {
	failures int
	last     model.Candidate
}

func (w *principalWindow) add(ev model.LogEvent) {
	w.failures++
	if ev.EventTime.After(w.last.LastEventTime) {
		w.last.LastEventTime = ev.EventTime.UTC()
	}
}

func (m *MemoryStore) FailedLogins(ctx context.Context, q Query) iter.Seq2[model.Candidate, error] {
	return func(yield func(model.Candidate, error) bool) {
		if err := ctx.Err(); err != nil {
			yieldErr(yield, err)
			return
		}
		windows := make(map[model.PrincipalKey]*principalWindow)
		m.mu.RLock()
		for _, ev := range m.events {
			if ev.Event != q.EventType || ev.EventTime.Before(q.Start) || ev.EventTime.After(q.End) {
				continue
			}
			key := ev.Principal()
			w, ok := windows[key]
			if !ok {
				w = &principalWindow{last: model.Candidate{PrincipalKey: key}}
				windows[key] = w
			}
			w.add(ev)
		}
		m.mu.RUnlock()

		out := make([]model.Candidate, 0, len(windows))
		for _, w := range windows {
			if w.failures < q.Threshold {
				continue
			}
			c := w.last
			c.FailedCount = w.failures
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].FailedCount != out[j].FailedCount {
				return out[i].FailedCount > out[j].FailedCount
			}
			return out[i].PrincipalKey.String() < out[j].PrincipalKey.String()
		})
		for _, c := range out {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
