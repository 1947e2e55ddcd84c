package checkpoint

import (
	"context"
	"sync"

	"github.com/vantris/erpagent/types"
)

// MemoryStore is an in-memory Store. For development and testing.
// Snapshots are stored as serialized bytes so Get returns an independent
// copy, matching the isolation behavior of the durable backends.
type MemoryStore struct {
	states map[string][]byte
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, threadID string) (*types.ExecutionState, error) {
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, ok := s.states[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	state, err := types.UnmarshalExecutionState(data)
	if err != nil {
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) Put(ctx context.Context, state *types.ExecutionState) error {
	if state == nil || state.ThreadID == "" {
		return ErrInvalidThread
	}

	data, err := state.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.states[state.ThreadID] = data
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.states[threadID]; !ok {
		return ErrNotFound
	}
	delete(s.states, threadID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
