package archive

import (
	"context"
	"sync"

	"github.com/flashbots/inbox-arena/protocol"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	if err := r.validate(); err != nil {
		return err
	}
	c, err := clone(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.SessionID]; ok {
		return protocol.Errorf(protocol.ReasonConflict, "session %s already archived", r.SessionID)
	}
	s.records[r.SessionID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	r, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "session %s not archived", sessionID)
	}
	return clone(r)
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Summary())
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
