// Package engine implements bid admission: fast pre-guards against the
// live projection, then the atomic server-side decision, then durable
// append and the NEW_BID broadcast.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/broadcast"
	"github.com/aaronwang/auction-core/internal/livestore"
	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/metrics"
	"github.com/aaronwang/auction-core/internal/models"
	"github.com/aaronwang/auction-core/internal/store"
)

// Store is the durable capability slice the engine needs.
type Store interface {
	store.AuctionStore
	store.ItemStore
	store.BidStore
	store.PaymentStore
	store.UserStore
}

// Engine is the only writer of both stores while an auction is LIVE.
type Engine struct {
	live    livestore.Store
	durable Store
	pub     broadcast.Publisher
	now     func() time.Time
}

// New wires an engine over the live and durable stores.
func New(live livestore.Store, durable Store, pub broadcast.Publisher) *Engine {
	return &Engine{live: live, durable: durable, pub: pub, now: time.Now}
}

// PlaceBid admits one bid. The pre-guards are a fast non-atomic filter;
// the script re-checks the head, so losing a race here is harmless.
// On acceptance the bid is already the live head even if the durable
// append fails; the closer recovers missing rows from the live bid set.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.Bid, error) {
	timer := prometheus.NewTimer(metrics.BidAdmissionDuration)
	defer timer.ObserveDuration()

	if amount.Sign() <= 0 {
		return e.reject(&auctionerrors.BidRejection{Code: auctionerrors.NonPositiveAmount})
	}

	st, ok, err := e.live.State(ctx, auctionID)
	if err != nil {
		return models.Bid{}, err
	}
	now := e.now().UTC()
	if !ok || st.Status != models.StatusLive {
		return e.reject(&auctionerrors.BidRejection{Code: auctionerrors.AuctionNotActive})
	}
	if !st.EndTime.IsZero() && now.After(st.EndTime) {
		return e.reject(&auctionerrors.BidRejection{Code: auctionerrors.AuctionEnded})
	}
	if st.HighestBidder != "" && st.HighestBidder == bidderID {
		return e.reject(&auctionerrors.BidRejection{Code: auctionerrors.SelfOutbid})
	}

	a, err := e.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Bid{}, err
	}
	item, err := e.durable.GetItem(ctx, a.ItemID)
	if err != nil {
		return models.Bid{}, err
	}

	env := models.BidEnvelope{
		BidID:    uuid.NewString(),
		BidderID: bidderID,
		Amount:   amount,
		TS:       now,
	}
	res, err := e.live.PlaceBid(ctx, auctionID, env, item.BasePrice, a.MinIncrementPercent)
	if err != nil {
		// A timed-out script may still have applied; never auto-retry.
		return models.Bid{}, err
	}

	switch res.Verdict {
	case livestore.VerdictBelowBase:
		return e.reject(&auctionerrors.BidRejection{
			Code:      auctionerrors.BelowBasePrice,
			BasePrice: res.BasePrice,
		})
	case livestore.VerdictBelowIncrement:
		return e.reject(&auctionerrors.BidRejection{
			Code:            auctionerrors.BelowIncrement,
			CurrentHighest:  res.CurrentHighest,
			MinimumRequired: res.MinimumRequired,
		})
	}

	bid := models.Bid{
		ID:        env.BidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := e.durable.AppendBid(ctx, bid); err != nil {
		logging.Error().Err(err).Str("auction", auctionID).Str("bid", bid.ID).Msg("durable bid append failed")
	}
	if err := e.durable.UpdateAuctionHead(ctx, auctionID, amount); err != nil {
		logging.Error().Err(err).Str("auction", auctionID).Msg("durable head update failed")
	}

	metrics.BidsAccepted.Inc()
	e.publishNewBid(ctx, a, bid)
	return bid, nil
}

func (e *Engine) reject(rej *auctionerrors.BidRejection) (models.Bid, error) {
	metrics.BidsRejected.WithLabelValues(string(rej.Code)).Inc()
	return models.Bid{}, rej
}

func (e *Engine) publishNewBid(ctx context.Context, a models.Auction, bid models.Bid) {
	name, err := e.durable.GetUsername(ctx, bid.BidderID)
	if err != nil {
		logging.Debug().Err(err).Str("bidder", bid.BidderID).Msg("bidder name lookup failed")
	}
	count, err := e.live.BidCount(ctx, bid.AuctionID)
	if err != nil {
		logging.Debug().Err(err).Str("auction", bid.AuctionID).Msg("live bid count failed")
	}

	event := models.NewBid(bid.AuctionID, bid.Amount, bid.BidderID, name,
		models.MinimumNextBid(bid.Amount, a.MinIncrementPercent), count, bid.CreatedAt)
	if err := e.pub.Publish(ctx, models.TopicAuction(bid.AuctionID), event); err != nil {
		logging.Warn().Err(err).Str("auction", bid.AuctionID).Msg("publish NEW_BID failed")
	}
}

// CurrentHighest reads the live head amount; zero when no bid yet.
func (e *Engine) CurrentHighest(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	return e.live.CurrentHighest(ctx, auctionID)
}

// HighestBidder reads the live head bidder; "" when no bid yet.
func (e *Engine) HighestBidder(ctx context.Context, auctionID string) (string, error) {
	return e.live.HighestBidder(ctx, auctionID)
}

// RecentBids returns up to n live envelopes, highest first.
func (e *Engine) RecentBids(ctx context.Context, auctionID string, n int64) ([]models.BidEnvelope, error) {
	return e.live.RecentBids(ctx, auctionID, n)
}

// BidCount returns the size of the live bid set.
func (e *Engine) BidCount(ctx context.Context, auctionID string) (int64, error) {
	return e.live.BidCount(ctx, auctionID)
}

// LiveState reads the live projection hash.
func (e *Engine) LiveState(ctx context.Context, auctionID string) (models.LiveState, bool, error) {
	return e.live.State(ctx, auctionID)
}

// MinimumNextBid computes the advertised admission floor: zero when the
// auction has no bids (the base price applies), otherwise the increment
// rule over the live head.
func (e *Engine) MinimumNextBid(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	highest, err := e.live.CurrentHighest(ctx, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	if highest.Sign() <= 0 {
		return decimal.Zero, nil
	}
	a, err := e.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	return models.MinimumNextBid(highest, a.MinIncrementPercent), nil
}

// RemoveHead evicts the live head and promotes the next bid. Only the
// scheduler calls this, while rolling a defaulted payment forward.
func (e *Engine) RemoveHead(ctx context.Context, auctionID string) (models.BidEnvelope, bool, error) {
	return e.live.RemoveHead(ctx, auctionID)
}
