package durable

import (
	"context"
	"sync"

	"github.com/mqc3/scheduler/internal/jobmeta"
)

// MemoryStore is an in-process fake implementing Store, used by the
// jobmanager tests in place of a real DynamoDB table. It preserves the same
// conditional semantics (PutIfAbsent, UpdateIfExists, UpdateIfStatus) the
// DynamoDB-backed store provides.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*jobmeta.Metadata
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*jobmeta.Metadata)}
}

func (s *MemoryStore) EnsureTableExists(ctx context.Context) error { return nil }

func (s *MemoryStore) PutIfAbsent(ctx context.Context, m *jobmeta.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[m.JobID]; exists {
		return ErrAlreadyExists
	}
	clone := *m
	s.records[m.JobID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string, consistent bool) (*jobmeta.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *MemoryStore) QueryByStatus(ctx context.Context, status jobmeta.Status) ([]*jobmeta.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobmeta.Metadata
	for _, m := range s.records {
		if m.Status == status {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateIfExists(ctx context.Context, jobID string, mutate func(*jobmeta.Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[jobID]
	if !ok {
		return ErrConditionFailed
	}
	mutate(m)
	return nil
}

func (s *MemoryStore) UpdateIfStatus(ctx context.Context, jobID string, expected jobmeta.Status, mutate func(*jobmeta.Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[jobID]
	if !ok || m.Status != expected {
		return ErrConditionFailed
	}
	mutate(m)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}
