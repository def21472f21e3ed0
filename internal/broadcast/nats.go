package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/metrics"
	"github.com/aaronwang/auction-core/internal/models"
)

// Hub subjects. Per-auction topics map onto a wildcard subject so one
// subscription covers every auction.
const (
	subjectUpdates        = "auction.updates"
	subjectEventsPrefix   = "auction.events."
	subjectEventsWildcard = "auction.events.*"
)

func subjectFor(topic string) string {
	if topic == models.TopicUpdates {
		return subjectUpdates
	}
	return subjectEventsPrefix + strings.TrimPrefix(topic, "auction/")
}

func topicFor(subject string) string {
	if subject == subjectUpdates {
		return models.TopicUpdates
	}
	return models.TopicAuction(strings.TrimPrefix(subject, subjectEventsPrefix))
}

// Connect dials the hub with unlimited reconnects.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("auction-core"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("hub disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("hub reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect hub %s: %w", url, err)
	}
	return conn, nil
}

// NATSPublisher routes events through the hub so all instances deliver
// them to their local subscribers.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher wraps an established hub connection.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func marshalEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event.EventType(), err)
	}
	return data, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, topic string, event Event) error {
	data, err := marshalEvent(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subjectFor(topic), data); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType(), topic, err)
	}
	metrics.EventsPublished.WithLabelValues(event.EventType()).Inc()
	return nil
}

// Bridge feeds hub traffic into the local manager. Without it a node would
// only see events its own process published.
type Bridge struct {
	subs []*nats.Subscription
}

// NewBridge subscribes to the updates subject and the per-auction wildcard.
func NewBridge(conn *nats.Conn, m *Manager) (*Bridge, error) {
	b := &Bridge{}
	for _, subject := range []string{subjectUpdates, subjectEventsWildcard} {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			m.Broadcast(topicFor(msg.Subject), msg.Data)
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	return b, nil
}

// Close drops the hub subscriptions.
func (b *Bridge) Close() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			logging.Debug().Err(err).Msg("unsubscribe hub subject")
		}
	}
	b.subs = nil
}
