package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/auction-core/internal/broadcast"
	"github.com/aaronwang/auction-core/internal/livestore"
	"github.com/aaronwang/auction-core/internal/models"
	"github.com/aaronwang/auction-core/internal/store"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

type fixture struct {
	sch     *Scheduler
	durable *store.Memory
	live    *livestore.Memory
	pub     *broadcast.Memory
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		durable: store.NewMemory(),
		live:    livestore.NewMemory(),
		pub:     broadcast.NewMemory(),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sch = New(f.durable, f.live, f.live, f.pub, Config{
		Tick:          2 * time.Second,
		PaymentWindow: 5 * time.Minute,
		TTLGrace:      time.Hour,
	})
	f.sch.now = func() time.Time { return f.now }

	require.NoError(t, f.durable.SaveItem(context.Background(), models.Item{
		ID: "item-1", Name: "vintage cello", BasePrice: dec(t, "8500.00"),
	}))
	return f
}

func (f *fixture) saveAuction(t *testing.T, id string, status models.AuctionStatus, start, end time.Time) models.Auction {
	t.Helper()
	a := models.Auction{
		ID:                  id,
		ItemID:              "item-1",
		StartTime:           start,
		EndTime:             end,
		Status:              status,
		MinIncrementPercent: dec(t, "10.00"),
		CreatedAt:           f.now.Add(-24 * time.Hour),
	}
	require.NoError(t, f.durable.SaveAuction(context.Background(), a))
	return a
}

func (f *fixture) appendBids(t *testing.T, auctionID string, bids ...models.Bid) {
	t.Helper()
	for _, b := range bids {
		require.NoError(t, f.durable.AppendBid(context.Background(), b))
	}
}

func bid(t *testing.T, id, auctionID, bidder, amount string, at time.Time) models.Bid {
	t.Helper()
	return models.Bid{ID: id, AuctionID: auctionID, BidderID: bidder, Amount: dec(t, amount), CreatedAt: at}
}

func TestTickActivatesDueAuctions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.saveAuction(t, "auc-due", models.StatusPending, f.now.Add(-time.Minute), f.now.Add(time.Hour))
	f.saveAuction(t, "auc-later", models.StatusPending, f.now.Add(time.Hour), f.now.Add(2*time.Hour))

	f.sch.tick(ctx)

	a, err := f.durable.GetAuction(ctx, "auc-due")
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, a.Status)

	exists, err := f.live.Exists(ctx, "auc-due")
	require.NoError(t, err)
	assert.True(t, exists)

	later, err := f.durable.GetAuction(ctx, "auc-later")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, later.Status)

	started := f.pub.ByType(models.EventAuctionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, models.TopicUpdates, started[0].Topic)
	ev := started[0].Event.(models.AuctionStartedEvent)
	assert.Equal(t, "auc-due", ev.AuctionID)
	assert.Equal(t, "item-1", ev.ItemID)

	// Replaying the tick must not re-announce.
	f.sch.tick(ctx)
	assert.Len(t, f.pub.ByType(models.EventAuctionStarted), 1)
}

func TestTickClosesWithWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.saveAuction(t, "auc-1", models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Minute))
	f.appendBids(t, "auc-1",
		bid(t, "bid-1", "auc-1", "alice", "8500.00", f.now.Add(-30*time.Minute)),
		bid(t, "bid-2", "auc-1", "bob", "10285.00", f.now.Add(-20*time.Minute)),
	)

	f.sch.tick(ctx) // activates and seeds the projection
	f.now = a.EndTime.Add(time.Second)
	f.sch.tick(ctx) // closes

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "bob", got.WinnerID)
	assert.True(t, got.CurrentHighestBid.Equal(dec(t, "10285.00")))

	p, err := f.durable.GetPendingGuarantee(ctx, "auc-1", "bob")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(dec(t, "5142.50")), "guarantee is half the winning bid, got %s", p.Amount)
	assert.True(t, p.DueBy.Equal(f.now.Add(5*time.Minute)))

	ended := f.pub.ByType(models.EventAuctionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "auction/auc-1", ended[0].Topic)
	ev := ended[0].Event.(models.AuctionEndedEvent)
	assert.Equal(t, "bob", ev.WinnerID)
	assert.Equal(t, "10285.00", ev.WinningBid)
	assert.Equal(t, "5142.50", ev.PaymentAmount)
	assert.Equal(t, p.DueBy.Format(time.RFC3339Nano), ev.PaymentDeadline)

	// The projection survives the close so a fallback can still pop the head.
	exists, err := f.live.Exists(ctx, "auc-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// A replayed tick finds no LIVE auction and changes nothing.
	f.sch.tick(ctx)
	payments, err := f.durable.ListPendingGuaranteePayments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Len(t, f.pub.ByType(models.EventAuctionEnded), 1)
}

func TestTickClosesNoBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.saveAuction(t, "auc-1", models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Minute))
	f.sch.tick(ctx)
	f.now = a.EndTime.Add(time.Second)
	f.sch.tick(ctx)

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.WinnerID)

	payments, err := f.durable.ListPendingGuaranteePayments(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	exists, err := f.live.Exists(ctx, "auc-1")
	require.NoError(t, err)
	assert.False(t, exists, "no-bids close tears the projection down")

	require.Len(t, f.pub.ByType(models.EventAuctionEndedNoBid), 1)
	assert.Empty(t, f.pub.ByType(models.EventAuctionEnded))
}

func TestCloseReconcilesLiveOnlyBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.saveAuction(t, "auc-1", models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Minute))
	f.appendBids(t, "auc-1",
		bid(t, "bid-1", "auc-1", "alice", "8500.00", f.now.Add(-30*time.Minute)),
	)
	f.sch.tick(ctx)

	// An admitted bid whose durable append was lost exists only in the
	// projection.
	res, err := f.live.PlaceBid(ctx, "auc-1", models.BidEnvelope{
		BidID:    "bid-2",
		BidderID: "bob",
		Amount:   dec(t, "9350.00"),
		TS:       f.now.Add(-10 * time.Minute),
	}, dec(t, "8500.00"), dec(t, "10.00"))
	require.NoError(t, err)
	require.Equal(t, livestore.VerdictAccepted, res.Verdict)

	f.now = a.EndTime.Add(time.Second)
	f.sch.tick(ctx)

	// The close backfills the missing row before reading the head.
	n, err := f.durable.CountBids(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	top, ok, err := f.durable.TopBid(ctx, "auc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bid-2", top.ID)
	assert.Equal(t, "bob", top.BidderID)
	assert.True(t, top.Amount.Equal(dec(t, "9350.00")))

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.WinnerID)
}

func TestPaymentTimeoutChainedFallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.saveAuction(t, "auc-1", models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Minute))
	f.appendBids(t, "auc-1",
		bid(t, "bid-1", "auc-1", "alice", "8500.00", f.now.Add(-30*time.Minute)),
		bid(t, "bid-2", "auc-1", "bob", "9350.00", f.now.Add(-20*time.Minute)),
		bid(t, "bid-3", "auc-1", "carol", "10285.00", f.now.Add(-10*time.Minute)),
	)

	f.sch.tick(ctx)
	f.now = a.EndTime.Add(time.Second)
	f.sch.tick(ctx)

	p1, err := f.durable.GetPendingGuarantee(ctx, "auc-1", "carol")
	require.NoError(t, err)

	// Carol defaults; the win rolls to bob at bob's own bid.
	f.now = p1.DueBy.Add(time.Second)
	f.sch.tick(ctx)

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.WinnerID)
	assert.True(t, got.CurrentHighestBid.Equal(dec(t, "9350.00")))

	failed, ok := f.durable.Payment(p1.ID)
	require.True(t, ok)
	assert.Equal(t, models.PaymentFailed, failed.Status)

	p2, err := f.durable.GetPendingGuarantee(ctx, "auc-1", "bob")
	require.NoError(t, err)
	assert.True(t, p2.Amount.Equal(dec(t, "4675.00")), "guarantee recomputed from the new head, got %s", p2.Amount)
	assert.True(t, p2.DueBy.Equal(f.now.Add(5*time.Minute)))

	fallbacks := f.pub.ByType(models.EventPaymentFallback)
	require.Len(t, fallbacks, 1)
	ev := fallbacks[0].Event.(models.PaymentFallbackEvent)
	assert.Equal(t, "carol", ev.PreviousBidder)
	assert.Equal(t, "bob", ev.NewWinnerID)
	assert.Equal(t, "9350.00", ev.NewWinningBid)
	assert.Equal(t, "4675.00", ev.PaymentAmount)

	// Bob defaults too; alice is next.
	f.now = p2.DueBy.Add(time.Second)
	f.sch.tick(ctx)

	p3, err := f.durable.GetPendingGuarantee(ctx, "auc-1", "alice")
	require.NoError(t, err)
	assert.True(t, p3.Amount.Equal(dec(t, "4250.00")))

	// Alice defaults; the set drains and the auction ends with no winner.
	f.now = p3.DueBy.Add(time.Second)
	f.sch.tick(ctx)

	got, err = f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Empty(t, got.WinnerID)
	assert.True(t, got.CurrentHighestBid.IsZero())

	exists, err := f.live.Exists(ctx, "auc-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.Len(t, f.pub.ByType(models.EventPaymentFallback), 2)
	require.Len(t, f.pub.ByType(models.EventAuctionNoWinner), 1)

	pending, err := f.durable.ListPendingGuaranteePayments(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentSettlementSkipsFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.saveAuction(t, "auc-1", models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Minute))
	f.appendBids(t, "auc-1",
		bid(t, "bid-1", "auc-1", "alice", "8500.00", f.now.Add(-30*time.Minute)),
		bid(t, "bid-2", "auc-1", "bob", "9350.00", f.now.Add(-20*time.Minute)),
	)
	f.sch.tick(ctx)
	f.now = a.EndTime.Add(time.Second)
	f.sch.tick(ctx)

	p, err := f.durable.GetPendingGuarantee(ctx, "auc-1", "bob")
	require.NoError(t, err)

	// The bidder settles between the scan and the guarded transition.
	require.NoError(t, f.durable.MarkPaymentSucceeded(ctx, p.ID, f.now))

	f.now = p.DueBy.Add(time.Second)
	f.sch.tick(ctx)

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.WinnerID, "settled winner must not be rolled away")
	assert.True(t, got.CurrentHighestBid.Equal(dec(t, "9350.00")))

	settled, ok := f.durable.Payment(p.ID)
	require.True(t, ok)
	assert.Equal(t, models.PaymentSuccess, settled.Status)

	assert.Empty(t, f.pub.ByType(models.EventPaymentFallback))
	assert.Empty(t, f.pub.ByType(models.EventAuctionNoWinner))
}

func TestMissingProjectionIsRepaired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.saveAuction(t, "auc-1", models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Hour))
	f.appendBids(t, "auc-1",
		bid(t, "bid-1", "auc-1", "alice", "8500.00", f.now.Add(-30*time.Minute)),
		bid(t, "bid-2", "auc-1", "bob", "10285.00", f.now.Add(-20*time.Minute)),
	)
	f.sch.tick(ctx)

	// Live store restart wipes the projection mid-auction.
	require.NoError(t, f.live.Deactivate(ctx, "auc-1"))

	f.sch.tick(ctx)

	exists, err := f.live.Exists(ctx, "auc-1")
	require.NoError(t, err)
	require.True(t, exists, "not-yet-due auction should be re-projected")

	highest, err := f.live.CurrentHighest(ctx, "auc-1")
	require.NoError(t, err)
	assert.True(t, highest.Equal(dec(t, "10285.00")))

	n, err := f.live.BidCount(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	f.now = a.EndTime.Add(time.Second)
	f.sch.tick(ctx)

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.WinnerID)
}

func TestCloseAfterOutageRecoversWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The auction went overdue while everything was down: durable rows
	// exist, the projection does not.
	f.saveAuction(t, "auc-1", models.StatusLive, f.now.Add(-2*time.Hour), f.now.Add(-time.Hour))
	f.appendBids(t, "auc-1",
		bid(t, "bid-1", "auc-1", "alice", "8500.00", f.now.Add(-90*time.Minute)),
		bid(t, "bid-2", "auc-1", "bob", "10285.00", f.now.Add(-80*time.Minute)),
	)

	f.sch.tick(ctx)

	got, err := f.durable.GetAuction(ctx, "auc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "bob", got.WinnerID, "outage past the TTL grace must not close a bid-laden auction as no-bids")

	_, err = f.durable.GetPendingGuarantee(ctx, "auc-1", "bob")
	assert.NoError(t, err)
}

func TestManyAuctionsIsolatedPerTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("auc-%d", i)
		f.saveAuction(t, id, models.StatusPending, f.now.Add(-time.Hour), f.now.Add(time.Minute))
		f.appendBids(t, id, bid(t, "bid-"+id, id, "alice", "8500.00", f.now.Add(-30*time.Minute)))
	}
	f.sch.tick(ctx)
	f.now = f.now.Add(2 * time.Minute)
	f.sch.tick(ctx)

	for i := 0; i < 5; i++ {
		got, err := f.durable.GetAuction(ctx, fmt.Sprintf("auc-%d", i))
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, "alice", got.WinnerID)
	}
	assert.Len(t, f.pub.ByType(models.EventAuctionEnded), 5)
}
