package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "pandaconnect/internal/domain/event"
)

// MemoryStore keeps events in process memory.
// Writers hold the write lock for the whole operation; readers copy out under the read lock.
type MemoryStore struct {
	opts Options

	mu    sync.RWMutex
	byID  map[string]domain.Event
	order []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts: opts.withDefaults(),
		byID: make(map[string]domain.Event),
	}
}

// Create inserts a new event with a fresh id.
// PRE: p passed domain.Validate
// POST: event is stored and returned
func (s *MemoryStore) Create(_ context.Context, p domain.Payload, createdBy string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.opts.GenerateID()
	if _, exists := s.byID[id]; exists {
		return domain.Event{}, fmt.Errorf("generated duplicate event id %q", id)
	}
	e := domain.New(id, createdBy, p, s.opts.Now())
	s.byID[id] = e
	s.order = append(s.order, id)
	return e, nil
}

// Get returns the event with id or domain.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

// Update replaces every field but id and author.
// POST: returns domain.ErrNotFound and changes nothing if id is absent
func (s *MemoryStore) Update(_ context.Context, id string, p domain.Payload) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	e = e.Apply(p)
	s.byID[id] = e
	return e, nil
}

// Delete removes the event with id.
// POST: returns domain.ErrNotFound if id is absent
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns a copy of every event in insertion order.
func (s *MemoryStore) List(_ context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

// FindUpcoming returns the earliest event at or after now.
func (s *MemoryStore) FindUpcoming(_ context.Context, now time.Time) (domain.Event, bool, error) {
	s.mu.RLock()
	events := s.snapshot()
	s.mu.RUnlock()
	return domain.NextUpcoming(events, now, s.opts.Location)
}

// FindOnDate returns events on the canonical date, in insertion order.
func (s *MemoryStore) FindOnDate(_ context.Context, date string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.OnDate(s.snapshot(), date), nil
}

// snapshot copies the collection. Caller holds at least the read lock.
func (s *MemoryStore) snapshot() []domain.Event {
	out := make([]domain.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
