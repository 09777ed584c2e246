package job

import (
	"sort"
	"sync"
)

// MemoryStore is the in-process Store used by the engine by default.
// Session and user lookups go through secondary indexes rather than map
// scans so ListBySession stays correct as volume grows.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	bySession map[string][]string
	byUser    map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		bySession: make(map[string][]string),
		byUser:    make(map[string][]string),
	}
}

// Put inserts or replaces a job record.
func (s *MemoryStore) Put(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; !exists {
		if j.SessionID != "" {
			s.bySession[j.SessionID] = append(s.bySession[j.SessionID], j.ID)
		}
		if j.UserID != "" {
			s.byUser[j.UserID] = append(s.byUser[j.UserID], j.ID)
		}
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// Get returns a snapshot of the job with the given id.
func (s *MemoryStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// ListBySession returns snapshots of the session's jobs, newest first.
func (s *MemoryStore) ListBySession(sessionID string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.bySession[sessionID]), nil
}

// ListByUser returns snapshots of the user's jobs, newest first.
func (s *MemoryStore) ListByUser(userID string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byUser[userID]), nil
}

func (s *MemoryStore) collect(ids []string) []*Job {
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := s.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
