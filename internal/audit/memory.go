package audit

import (
	"context"
	"sync"
)

// MemoryStorage — хранилище для тестов и локального запуска без Postgres.
// Только append и выборка, как и контракт журнала.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) WriteBatch(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// Find применяет те же фильтры, что и Postgres-реализация
func (s *MemoryStorage) Find(ctx context.Context, q Query) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Entry, 0)
	for _, e := range s.entries {
		if q.ServiceName != "" && e.ServiceName != q.ServiceName {
			continue
		}
		if q.DecisionID != "" && e.DecisionID != q.DecisionID {
			continue
		}
		if !q.From.IsZero() && e.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			continue
		}
		results = append(results, e)
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

// Len — для ассертов в тестах
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
