package manager

import "time"

// Event is a manager lifecycle event: loads, evictions, unloads and
// configuration changes. Fields carry event-specific values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
	At      time.Time
}

// EventPublisher receives manager events. Publish is called outside manager
// locks and must not block.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
