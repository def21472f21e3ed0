package livestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/auction-core/internal/models"
)

// redisFixture connects to the server named by AUCTION_TEST_REDIS_URL, or
// skips. Point it at a scratch database (e.g. redis://localhost:6379/15);
// keys under the test auction id are removed on cleanup.
func redisFixture(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("AUCTION_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AUCTION_TEST_REDIS_URL not set")
	}
	s, err := NewRedis(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisAdmissionSetsBidSetTTL(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const id = "livestore-ttl-test"
	a := models.Auction{
		ID:                  id,
		ItemID:              "item-1",
		StartTime:           now.Add(-time.Minute),
		EndTime:             now.Add(time.Hour),
		Status:              models.StatusLive,
		MinIncrementPercent: dec(t, "10.00"),
	}
	require.NoError(t, s.Activate(ctx, a, nil, time.Hour))
	t.Cleanup(func() { s.Deactivate(context.Background(), id) })

	// The first admission creates the bid set; it must inherit the
	// projection TTL rather than persist forever.
	res, err := s.PlaceBid(ctx, id, env(t, "bidder-1", "8500.00", now), dec(t, "8500.00"), dec(t, "10.00"))
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, res.Verdict)

	ttl, err := s.client.PTTL(ctx, bidsKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "bid set has no expiry")
	assert.LessOrEqual(t, ttl, time.Hour)

	stateTTL, err := s.client.PTTL(ctx, stateKey(id)).Result()
	require.NoError(t, err)
	assert.InDelta(t, stateTTL.Seconds(), ttl.Seconds(), 5)
}
