package engine

import (
	"context"

	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/models"
)

// SettleGuarantee records the caller's guarantee payment for an auction.
// The transition is guarded on PENDING, so a concurrent scheduler tick
// marking the payment FAILED cannot be overwritten; whoever commits first
// wins and the loser sees Conflict.
func (e *Engine) SettleGuarantee(ctx context.Context, auctionID, bidderID string) (models.Payment, error) {
	p, err := e.durable.GetPendingGuarantee(ctx, auctionID, bidderID)
	if err != nil {
		return models.Payment{}, err
	}

	now := e.now().UTC()
	if now.After(p.DueBy) {
		// The window closed; the next tick rolls the win forward.
		return models.Payment{}, auctionerrors.ErrPaymentExpired
	}

	if err := e.durable.MarkPaymentSucceeded(ctx, p.ID, now); err != nil {
		return models.Payment{}, err
	}
	p.Status = models.PaymentSuccess
	p.PaidAt = &now

	// Final settlement ends the auction's live lifetime. Teardown is best
	// effort: the TTL reaps the projection if this fails.
	if err := e.live.Deactivate(ctx, auctionID); err != nil {
		logging.Warn().Err(err).Str("auction", auctionID).Msg("live state teardown failed")
	}

	name, err := e.durable.GetUsername(ctx, bidderID)
	if err != nil {
		logging.Debug().Err(err).Str("bidder", bidderID).Msg("bidder name lookup failed")
	}
	event := models.PaymentCompleted(auctionID, bidderID, name)
	if err := e.pub.Publish(ctx, models.TopicAuction(auctionID), event); err != nil {
		logging.Warn().Err(err).Str("auction", auctionID).Msg("publish PAYMENT_COMPLETED failed")
	}
	return p, nil
}
