package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fetchdeck/backend/internal/job"
)

// MemoryStore is a non-durable Store used in tests and as a fallback when
// no backend is configured. Records round-trip through JSON so it behaves
// like the durable backends.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[j.ID] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	data, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*job.Job, 0, len(s.records))
	for _, data := range s.records {
		var j job.Job
		if err := json.Unmarshal(data, &j); err != nil {
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Corrupt overwrites a record with bytes that do not decode, for
// exercising the skip-on-restore path in tests.
func (s *MemoryStore) Corrupt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = []byte("{not json")
}
