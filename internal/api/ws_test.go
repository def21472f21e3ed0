package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, f *fixture, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// First frame is the subscription ack.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(hello), `"type":"SUBSCRIBED"`)
	return conn
}

func TestWebsocketReceivesAuctionEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := dial(t, f, "/ws/auction/auc-1")

	_, err := f.eng.PlaceBid(ctx, "auc-1", "bidder-1", dec(t, "8500.00"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"NEW_BID"`)
	assert.Contains(t, string(msg), `"amount":"8500.00"`)
	assert.Contains(t, string(msg), `"bidderName":"alice"`)
}

func TestWebsocketTopicsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := dial(t, f, "/ws/auction/other")

	_, err := f.eng.PlaceBid(ctx, "auc-1", "bidder-1", dec(t, "8500.00"))
	require.NoError(t, err)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "subscriber of another auction must not see the event")
}
