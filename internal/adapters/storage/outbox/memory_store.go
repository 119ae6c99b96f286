package outbox

import (
	"context"
	"sort"
	"sync"

	domain "pandaconnect/internal/domain/outbox"
)

// MemoryStore keeps outbox entries in process memory. Entries do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]domain.Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory outbox.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.Entry)}
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.Entry{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Save(_ context.Context, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]domain.Entry, error) {
	out := s.filter(func(e domain.Entry) bool {
		return e.Status == domain.StatusPending || e.Status == domain.StatusRetrying
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return head(out, limit), nil
}

func (s *MemoryStore) ListFailed(_ context.Context, limit int) ([]domain.Entry, error) {
	out := s.filter(func(e domain.Entry) bool {
		return e.Status == domain.StatusFailed && e.Attempts >= e.MaxAttempts
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptedAt.After(out[j].LastAttemptedAt) })
	return head(out, limit), nil
}

func (s *MemoryStore) filter(keep func(domain.Entry) bool) []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Entry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func head(entries []domain.Entry, limit int) []domain.Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
