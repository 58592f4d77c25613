package manager

import "sync"

// MemoryPublisher keeps events in memory, up to an optional cap.
type MemoryPublisher struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewMemoryPublisher returns an unbounded publisher.
func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// NewRingPublisher keeps only the newest limit events.
func NewRingPublisher(limit int) *MemoryPublisher { return &MemoryPublisher{limit: limit} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = append(p.events[:0], p.events[len(p.events)-p.limit:]...)
	}
	p.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns recorded event names in order, for ModelID id or all when id
// is empty.
func (p *MemoryPublisher) Names(id string) []string {
	var out []string
	for _, e := range p.Events() {
		if id == "" || e.ModelID == id {
			out = append(out, e.Name)
		}
	}
	return out
}
