package events

import "sync"

// MemoryPublisher records events in memory. Used by tests and as the default
// publisher when no broker is configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Kinds returns the published kinds in order.
func (p *MemoryPublisher) Kinds() []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]Kind, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
