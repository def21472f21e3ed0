// Package broadcast fans auction events out to websocket subscribers.
// Emitters publish typed events to a topic; delivery crosses the NATS hub
// so every instance's local subscribers see every event.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/metrics"
)

// Event is anything the core publishes to a topic.
type Event interface {
	EventType() string
}

// Publisher delivers one event to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

type message struct {
	topic string
	data  []byte
}

// Manager owns the local websocket clients, keyed by topic. All membership
// changes and fanout run on the single Run loop.
type Manager struct {
	topics map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan message

	stopOnce sync.Once
	done     chan struct{}
}

// NewManager creates a manager; call Run before serving connections.
func NewManager() *Manager {
	return &Manager{
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and fanout until ctx is cancelled or Stop is
// called. Run in a goroutine.
func (m *Manager) Run(ctx context.Context) {
	defer m.closeAll()
	for {
		select {
		case c := <-m.register:
			m.add(c)
		case c := <-m.unregister:
			m.remove(c)
		case msg := <-m.broadcast:
			m.fanout(msg)
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// Stop terminates the Run loop and disconnects every client.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Broadcast queues raw bytes for every subscriber of topic. Safe to call
// from any goroutine; drops the message once the manager has stopped.
func (m *Manager) Broadcast(topic string, data []byte) {
	select {
	case m.broadcast <- message{topic: topic, data: data}:
	case <-m.done:
	}
}

func (m *Manager) add(c *Client) {
	clients, ok := m.topics[c.topic]
	if !ok {
		clients = make(map[*Client]struct{})
		m.topics[c.topic] = clients
	}
	clients[c] = struct{}{}
	// The ack is queued here so every write to c.send happens on the Run
	// loop, the same goroutine that will close the channel. The buffer is
	// fresh, so the send cannot block.
	c.send <- []byte(fmt.Sprintf(`{"type":"SUBSCRIBED","topic":%q,"clientId":%q}`, c.topic, c.id))
	metrics.WebsocketClients.Inc()
	logging.Debug().Str("client", c.id).Str("topic", c.topic).Msg("websocket client subscribed")
}

func (m *Manager) remove(c *Client) {
	clients, ok := m.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(m.topics, c.topic)
	}
	close(c.send)
	metrics.WebsocketClients.Dec()
	logging.Debug().Str("client", c.id).Str("topic", c.topic).Msg("websocket client unsubscribed")
}

func (m *Manager) fanout(msg message) {
	for c := range m.topics[msg.topic] {
		select {
		case c.send <- msg.data:
		default:
			// A full send buffer means the client cannot keep up.
			// Drop it here rather than stall the whole topic.
			logging.Warn().Str("client", c.id).Str("topic", c.topic).Msg("dropping slow websocket client")
			m.remove(c)
		}
	}
}

func (m *Manager) closeAll() {
	for topic, clients := range m.topics {
		for c := range clients {
			close(c.send)
			metrics.WebsocketClients.Dec()
		}
		delete(m.topics, topic)
	}
}
