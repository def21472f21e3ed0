package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/auction-core/internal/models"
)

func TestSubjectTopicMapping(t *testing.T) {
	assert.Equal(t, "auction.updates", subjectFor(models.TopicUpdates))
	assert.Equal(t, "auction.events.auc-1", subjectFor(models.TopicAuction("auc-1")))

	assert.Equal(t, models.TopicUpdates, topicFor("auction.updates"))
	assert.Equal(t, "auction/auc-1", topicFor("auction.events.auc-1"))
}

func testClient(topic string, buffer int) *Client {
	return &Client{id: "test-" + topic, topic: topic, send: make(chan []byte, buffer)}
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

// register attaches the client and consumes the subscription ack the run
// loop queues on add.
func register(t *testing.T, m *Manager, c *Client) {
	t.Helper()
	c.manager = m
	m.register <- c
	require.Contains(t, string(recv(t, c)), `"type":"SUBSCRIBED"`)
}

func TestManagerFanoutPerTopic(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	a1 := testClient("auction/1", 8)
	a2 := testClient("auction/1", 8)
	b := testClient("auction/2", 8)
	for _, c := range []*Client{a1, a2, b} {
		register(t, m, c)
	}

	m.Broadcast("auction/1", []byte("hello"))

	assert.Equal(t, "hello", string(recv(t, a1)))
	assert.Equal(t, "hello", string(recv(t, a2)))
	select {
	case msg := <-b.send:
		t.Fatalf("unexpected delivery to other topic: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	m.unregister <- a2
	m.Broadcast("auction/1", []byte("again"))
	assert.Equal(t, "again", string(recv(t, a1)))

	_, ok := <-a2.send
	assert.False(t, ok, "unregistered client channel should be closed")
}

func TestManagerDropsSlowClient(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	slow := testClient("auction/1", 1)
	register(t, m, slow)

	m.Broadcast("auction/1", []byte("one"))
	m.Broadcast("auction/1", []byte("two"))
	m.Broadcast("auction/1", []byte("three"))

	// The buffered message is still readable, then the channel closes.
	assert.Equal(t, "one", string(recv(t, slow)))
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "slow client was not dropped")
}

func TestStopRightAfterRegister(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(context.Background())
	}()

	// The ack is written by the run loop before Stop can close the channel,
	// so a shutdown racing a fresh subscription never sends on a closed
	// channel.
	clients := make([]*Client, 0, 16)
	for i := 0; i < 16; i++ {
		c := testClient(fmt.Sprintf("auction/%d", i), 8)
		c.manager = m
		select {
		case m.register <- c:
			clients = append(clients, c)
		case <-m.done:
			t.Fatal("manager stopped early")
		}
	}
	m.Stop()
	<-done

	for _, c := range clients {
		msg, ok := <-c.send
		require.True(t, ok, "ack should precede the close")
		assert.Contains(t, string(msg), `"type":"SUBSCRIBED"`)
		_, ok = <-c.send
		assert.False(t, ok, "channel should be closed after shutdown")
	}
}

func TestMemoryPublisherRecords(t *testing.T) {
	p := NewMemory()
	ctx := context.Background()

	started := models.AuctionStarted("auc-1", "item-1")
	require.NoError(t, p.Publish(ctx, models.TopicUpdates, started))
	noBids := models.AuctionEndedNoBids("auc-1")
	require.NoError(t, p.Publish(ctx, models.TopicAuction("auc-1"), noBids))

	events := p.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.TopicUpdates, events[0].Topic)
	assert.Equal(t, models.EventAuctionStarted, events[0].Event.EventType())

	ended := p.ByType(models.EventAuctionEndedNoBid)
	require.Len(t, ended, 1)
	assert.Equal(t, "auction/auc-1", ended[0].Topic)

	p.Reset()
	assert.Empty(t, p.Events())
}

func TestPublisherBridgeDelivery(t *testing.T) {
	srv, err := StartEmbedded(t.TempDir())
	require.NoError(t, err)
	defer srv.Shutdown()

	conn, err := Connect(srv.ClientURL())
	require.NoError(t, err)
	defer conn.Close()

	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	bridge, err := NewBridge(conn, m)
	require.NoError(t, err)
	defer bridge.Close()

	c := testClient("auction/auc-1", 8)
	register(t, m, c)

	pub := NewNATSPublisher(conn)
	event := models.NewBid("auc-1", decimal.RequireFromString("9350.00"), "bidder-2", "carol",
		decimal.RequireFromString("10285.00"), 2, time.Now().UTC())
	require.NoError(t, pub.Publish(ctx, models.TopicAuction("auc-1"), event))

	msg := recv(t, c)
	assert.Contains(t, string(msg), `"type":"NEW_BID"`)
	assert.Contains(t, string(msg), `"amount":"9350.00"`)
	assert.Contains(t, string(msg), `"minimumBid":"10285.00"`)
}
