package outcome

import (
	"context"
	"sync"
	"time"

	"bruteguard/internal/model"
)

// Store keeps the most recent publish failures, oldest first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.PublishOutcome
	limit int
	seen  int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Add records o if it failed. Successful outcomes only bump the counter.
func (s *Store) Add(o model.PublishOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen++
	if !o.Failed() {
		return
	}
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, o)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = o
}

// Seen is the number of outcomes observed, successful or not.
func (s *Store) Seen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seen
}

func (s *Store) List(limit int) []model.PublishOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.PublishOutcome, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.PublishOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PublishOutcome, 0)
	for _, o := range s.buf {
		if !o.At.Before(ts) {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

// Consume drains outcomes into the store until the channel closes or ctx ends.
func (s *Store) Consume(ctx context.Context, outcomes <-chan model.PublishOutcome) {
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			s.Add(o)
		case <-ctx.Done():
			return
		}
	}
}
