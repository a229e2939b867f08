package blob

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process fake implementing Store, used in jobmanager
// tests in place of a real S3 bucket.
type MemoryStore struct {
	mu      sync.Mutex
	inputs  map[string][]byte
	tags    map[string]ResultTags
	clock   func() time.Time
	FailUploadFor map[string]bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		inputs: make(map[string][]byte),
		tags:   make(map[string]ResultTags),
		clock:  now,
		FailUploadFor: make(map[string]bool),
	}
}

func (s *MemoryStore) BucketExists(ctx context.Context) (bool, error) { return true, nil }

func (s *MemoryStore) UploadInput(ctx context.Context, jobID string, program []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUploadFor[jobID] {
		return fmt.Errorf("blob: simulated upload failure for %s", jobID)
	}
	cp := make([]byte, len(program))
	copy(cp, program)
	s.inputs[jobID] = cp
	return nil
}

func (s *MemoryStore) DownloadInput(ctx context.Context, jobID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	program, ok := s.inputs[jobID]
	if !ok {
		return nil, fmt.Errorf("blob: no input stored for %s", jobID)
	}
	return program, nil
}

func (s *MemoryStore) PresignUploadURL(ctx context.Context, jobID string) (string, time.Time, error) {
	return fmt.Sprintf("https://blob.test/upload/%s", OutputKey(jobID)), s.clock().Add(DefaultUploadURLExpiry), nil
}

func (s *MemoryStore) PresignDownloadURL(ctx context.Context, jobID string) (string, time.Time, error) {
	return fmt.Sprintf("https://blob.test/download/%s", OutputKey(jobID)), s.clock().Add(DefaultDownloadURLExpiry), nil
}

func (s *MemoryStore) PutResultTags(ctx context.Context, jobID string, tags ResultTags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[jobID] = tags
	return nil
}
