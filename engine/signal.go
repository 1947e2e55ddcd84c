package engine

import (
	"context"
	"sync"

	"github.com/vantris/erpagent/types"
)

// Signal is the low-latency side channel for pending-approval
// notifications. It is strictly advisory: the checkpointed execution
// state remains the source of truth, and every Signal failure is
// logged and ignored by the engine.
type Signal interface {
	// Set publishes a pending interrupt for the thread.
	Set(ctx context.Context, threadID string, pending types.PendingToolCall) error
	// Clear removes the thread's published interrupt.
	Clear(ctx context.Context, threadID string) error
	// Get returns the published interrupt, or ok=false when none.
	Get(ctx context.Context, threadID string) (types.PendingToolCall, bool, error)
	// Subscribe streams interrupt events for the thread until the
	// context is cancelled. A nil pointer on the channel means the
	// interrupt was cleared.
	Subscribe(ctx context.Context, threadID string) (<-chan *types.PendingToolCall, error)
}

// MemorySignal is the in-process Signal used for single-node
// deployments and tests.
type MemorySignal struct {
	pending map[string]types.PendingToolCall
	subs    map[string][]chan *types.PendingToolCall
	mu      sync.Mutex
}

// NewMemorySignal creates an in-process signal channel.
func NewMemorySignal() *MemorySignal {
	return &MemorySignal{
		pending: make(map[string]types.PendingToolCall),
		subs:    make(map[string][]chan *types.PendingToolCall),
	}
}

var _ Signal = (*MemorySignal)(nil)

func (s *MemorySignal) Set(_ context.Context, threadID string, pending types.PendingToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[threadID] = pending
	p := pending
	s.broadcast(threadID, &p)
	return nil
}

func (s *MemorySignal) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, threadID)
	s.broadcast(threadID, nil)
	return nil
}

func (s *MemorySignal) Get(_ context.Context, threadID string) (types.PendingToolCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[threadID]
	return p, ok, nil
}

func (s *MemorySignal) Subscribe(ctx context.Context, threadID string) (<-chan *types.PendingToolCall, error) {
	ch := make(chan *types.PendingToolCall, 4)

	s.mu.Lock()
	s.subs[threadID] = append(s.subs[threadID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[threadID]
		for i, c := range subs {
			if c == ch {
				s.subs[threadID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// broadcast requires s.mu held. Slow subscribers drop events rather
// than blocking the interrupt path.
func (s *MemorySignal) broadcast(threadID string, p *types.PendingToolCall) {
	for _, ch := range s.subs[threadID] {
		select {
		case ch <- p:
		default:
		}
	}
}
