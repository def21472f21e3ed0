// Package scheduler drives auction lifecycle transitions on a periodic
// tick: PENDING auctions go live, overdue LIVE auctions close with a
// guarantee payment for the winner, and defaulted payments roll the win
// forward to the next-highest bidder.
package scheduler

import (
	"context"
	"errors"
	"sync"
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

// Store is the durable capability slice the scheduler needs.
type Store interface {
	store.AuctionStore
	store.BidStore
	store.PaymentStore
}

// HeadRemover evicts the live head during a payment fallback. The bid
// engine provides it.
type HeadRemover interface {
	RemoveHead(ctx context.Context, auctionID string) (models.BidEnvelope, bool, error)
}

// Config carries the timing knobs.
type Config struct {
	Tick          time.Duration
	PaymentWindow time.Duration
	TTLGrace      time.Duration
}

// Scheduler is safe to run on every instance: all transitions are
// idempotent or guarded, so concurrent ticks cannot double-apply.
type Scheduler struct {
	durable Store
	live    livestore.Store
	heads   HeadRemover
	pub     broadcast.Publisher
	cfg     Config
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a scheduler; call Start to begin ticking.
func New(durable Store, live livestore.Store, heads HeadRemover, pub broadcast.Publisher, cfg Config) *Scheduler {
	return &Scheduler{
		durable: durable,
		live:    live,
		heads:   heads,
		pub:     pub,
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the tick loop in a goroutine. The first pass runs
// immediately so restarts pick up overdue work without waiting a period.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs the three phases in order. Failures are isolated per auction
// and retried naturally on the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	timer := prometheus.NewTimer(metrics.SchedulerTickDuration)
	defer timer.ObserveDuration()

	now := s.now().UTC()
	s.activateDue(ctx, now)
	s.closeDue(ctx, now)
	s.expirePayments(ctx, now)
}

func (s *Scheduler) activateDue(ctx context.Context, now time.Time) {
	pending, err := s.durable.ListAuctionsByStatus(ctx, models.StatusPending)
	if err != nil {
		logging.Error().Err(err).Msg("list pending auctions failed")
		return
	}
	for _, a := range pending {
		if a.StartTime.After(now) {
			continue
		}
		if err := s.activate(ctx, a, now); err != nil {
			logging.Error().Err(err).Str("auction", a.ID).Msg("activate auction failed")
		}
	}
}

// activate flips the durable status first. If the projection write fails
// the next tick repairs it through the missing-state check in closeDue.
func (s *Scheduler) activate(ctx context.Context, a models.Auction, now time.Time) error {
	a.Status = models.StatusLive
	if err := s.durable.SaveAuction(ctx, a); err != nil {
		return err
	}
	if err := s.project(ctx, a, now); err != nil {
		return err
	}
	metrics.SchedulerTransitions.WithLabelValues("activated").Inc()
	s.publish(ctx, models.TopicUpdates, models.AuctionStarted(a.ID, a.ItemID))
	logging.Info().Str("auction", a.ID).Time("endTime", a.EndTime).Msg("auction live")
	return nil
}

// project rebuilds the live state from durable rows. Also the recovery
// path after a live-store restart.
func (s *Scheduler) project(ctx context.Context, a models.Auction, now time.Time) error {
	bids, err := s.durable.ListBidsDescByTime(ctx, a.ID, 0)
	if err != nil {
		return err
	}
	ttl := a.EndTime.Add(s.cfg.TTLGrace).Sub(now)
	return s.live.Activate(ctx, a, bids, ttl)
}

func (s *Scheduler) closeDue(ctx context.Context, now time.Time) {
	live, err := s.durable.ListAuctionsByStatus(ctx, models.StatusLive)
	if err != nil {
		logging.Error().Err(err).Msg("list live auctions failed")
		return
	}
	for _, a := range live {
		if now.After(a.EndTime) {
			if err := s.close(ctx, a, now); err != nil {
				logging.Error().Err(err).Str("auction", a.ID).Msg("close auction failed")
			}
			continue
		}
		exists, err := s.live.Exists(ctx, a.ID)
		if err != nil {
			logging.Error().Err(err).Str("auction", a.ID).Msg("live state check failed")
			continue
		}
		if !exists {
			if err := s.project(ctx, a, now); err != nil {
				logging.Error().Err(err).Str("auction", a.ID).Msg("re-projection failed")
				continue
			}
			logging.Warn().Str("auction", a.ID).Msg("re-projected missing live state")
		}
	}
}

// close concludes one overdue auction. The live head decides the winner;
// a vanished projection is rebuilt first so an outage longer than the TTL
// grace cannot turn a bid-laden auction into a no-bids close.
func (s *Scheduler) close(ctx context.Context, a models.Auction, now time.Time) error {
	exists, err := s.live.Exists(ctx, a.ID)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.project(ctx, a, now); err != nil {
			return err
		}
	}
	s.reconcileBids(ctx, a.ID)

	highest, err := s.live.CurrentHighest(ctx, a.ID)
	if err != nil {
		return err
	}
	bidder, err := s.live.HighestBidder(ctx, a.ID)
	if err != nil {
		return err
	}

	a.Status = models.StatusCompleted
	if highest.Sign() > 0 && bidder != "" {
		a.WinnerID = bidder
		a.CurrentHighestBid = highest
		p := s.guarantee(a.ID, bidder, highest, now)
		if err := s.durable.CompleteAuction(ctx, a, &p); err != nil {
			return err
		}
		metrics.SchedulerTransitions.WithLabelValues("completed").Inc()
		s.publish(ctx, models.TopicAuction(a.ID),
			models.AuctionEnded(a.ID, bidder, highest, p.Amount, p.DueBy))
		logging.Info().Str("auction", a.ID).Str("winner", bidder).
			Str("winningBid", highest.StringFixed(2)).Msg("auction completed")
		return nil
	}

	a.WinnerID = ""
	a.CurrentHighestBid = decimal.Zero
	if err := s.durable.CompleteAuction(ctx, a, nil); err != nil {
		return err
	}
	if err := s.live.Deactivate(ctx, a.ID); err != nil {
		logging.Warn().Err(err).Str("auction", a.ID).Msg("live state teardown failed")
	}
	metrics.SchedulerTransitions.WithLabelValues("completed_no_bids").Inc()
	s.publish(ctx, models.TopicAuction(a.ID), models.AuctionEndedNoBids(a.ID))
	logging.Info().Str("auction", a.ID).Msg("auction completed with no bids")
	return nil
}

// reconcileBids re-appends every live envelope into the durable history
// before the close reads the head. Admission can outlive a failed durable
// append; appends are keyed by bid id, so replays are no-ops and only the
// lost rows land.
func (s *Scheduler) reconcileBids(ctx context.Context, auctionID string) {
	envs, err := s.live.RecentBids(ctx, auctionID, 0)
	if err != nil {
		logging.Warn().Err(err).Str("auction", auctionID).Msg("bid reconciliation read failed")
		return
	}
	for _, env := range envs {
		b := models.Bid{
			ID:        env.BidID,
			AuctionID: auctionID,
			BidderID:  env.BidderID,
			Amount:    env.Amount,
			CreatedAt: env.TS,
		}
		if err := s.durable.AppendBid(ctx, b); err != nil {
			logging.Warn().Err(err).Str("auction", auctionID).Str("bid", b.ID).Msg("bid reconciliation append failed")
		}
	}
}

func (s *Scheduler) expirePayments(ctx context.Context, now time.Time) {
	pending, err := s.durable.ListPendingGuaranteePayments(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("list pending payments failed")
		return
	}
	for _, p := range pending {
		if !now.After(p.DueBy) {
			continue
		}
		if err := s.expire(ctx, p, now); err != nil {
			logging.Error().Err(err).Str("payment", p.ID).Str("auction", p.AuctionID).Msg("payment fallback failed")
		}
	}
}

// expire handles one defaulted guarantee. The guarded FAILED transition
// runs before the head is touched: if the bidder settles concurrently,
// SUCCESS wins and the head must stay put.
func (s *Scheduler) expire(ctx context.Context, p models.Payment, now time.Time) error {
	if err := s.durable.MarkPaymentFailed(ctx, p.ID); err != nil {
		if errors.Is(err, auctionerrors.ErrConflict) {
			logging.Info().Str("payment", p.ID).Msg("payment settled concurrently, skipping fallback")
			return nil
		}
		return err
	}
	metrics.SchedulerTransitions.WithLabelValues("payment_failed").Inc()

	next, ok, err := s.heads.RemoveHead(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.durable.ReassignWinner(ctx, p.AuctionID, "", decimal.Zero, nil); err != nil {
			return err
		}
		if err := s.live.Deactivate(ctx, p.AuctionID); err != nil {
			logging.Warn().Err(err).Str("auction", p.AuctionID).Msg("live state teardown failed")
		}
		metrics.SchedulerTransitions.WithLabelValues("no_winner").Inc()
		s.publish(ctx, models.TopicAuction(p.AuctionID), models.AuctionNoWinner(p.AuctionID))
		logging.Info().Str("auction", p.AuctionID).Str("defaulted", p.BidderID).Msg("no remaining bidders, auction has no winner")
		return nil
	}

	replacement := s.guarantee(p.AuctionID, next.BidderID, next.Amount, now)
	if err := s.durable.ReassignWinner(ctx, p.AuctionID, next.BidderID, next.Amount, &replacement); err != nil {
		return err
	}
	metrics.SchedulerTransitions.WithLabelValues("fallback").Inc()
	s.publish(ctx, models.TopicAuction(p.AuctionID),
		models.PaymentFallback(p.AuctionID, p.BidderID, next.BidderID, next.Amount, replacement.Amount, replacement.DueBy))
	logging.Info().Str("auction", p.AuctionID).Str("defaulted", p.BidderID).
		Str("newWinner", next.BidderID).Str("newWinningBid", next.Amount.StringFixed(2)).
		Msg("payment defaulted, win rolled forward")
	return nil
}

func (s *Scheduler) guarantee(auctionID, bidderID string, winning decimal.Decimal, now time.Time) models.Payment {
	return models.Payment{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    models.GuaranteeAmount(winning),
		Type:      models.PaymentTypeGuarantee,
		Status:    models.PaymentPending,
		DueBy:     now.Add(s.cfg.PaymentWindow),
		CreatedAt: now,
	}
}

func (s *Scheduler) publish(ctx context.Context, topic string, event broadcast.Event) {
	if err := s.pub.Publish(ctx, topic, event); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("publish event failed")
	}
}
