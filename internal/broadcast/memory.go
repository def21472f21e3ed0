package broadcast

import (
	"context"
	"sync"
)

// Published is one recorded Publish call.
type Published struct {
	Topic string
	Event Event
}

// Memory records published events in order. Tests assert on it; it can
// also stand in for the hub in single-process wiring when forward targets
// a local manager.
type Memory struct {
	mu      sync.Mutex
	events  []Published
	forward *Manager
}

// NewMemory returns an empty recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Forward makes every published event also fan out through m.
func (p *Memory) Forward(m *Manager) *Memory {
	p.forward = m
	return p
}

// Publish implements Publisher.
func (p *Memory) Publish(_ context.Context, topic string, event Event) error {
	p.mu.Lock()
	p.events = append(p.events, Published{Topic: topic, Event: event})
	fw := p.forward
	p.mu.Unlock()

	if fw != nil {
		data, err := marshalEvent(event)
		if err != nil {
			return err
		}
		fw.Broadcast(topic, data)
	}
	return nil
}

// Events returns a copy of everything published so far.
func (p *Memory) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.events))
	copy(out, p.events)
	return out
}

// ByType filters recorded events by kind.
func (p *Memory) ByType(kind string) []Published {
	var out []Published
	for _, e := range p.Events() {
		if e.Event.EventType() == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recording.
func (p *Memory) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
