package supervisor

import (
	"sync"

	"llmtrayd/pkg/types"
)

// Change describes one connection whose status differs from the
// previous polling cycle.
type Change struct {
	ConnectionID string
	Previous     types.ConnectionStatus
	Current      types.ConnectionStatus
	Cycle        uint64
}

// Publisher receives change events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Change)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Change) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Change
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(c Change) {
	p.mu.Lock()
	p.events = append(p.events, c)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Change, len(p.events))
	copy(out, p.events)
	return out
}
