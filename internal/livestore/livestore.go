// Package livestore holds the hot per-auction projection: the state hash,
// the highest-amount string, and the amount-scored bid set. The admission
// decision runs server-side so concurrent bids against the same auction
// never interleave.
package livestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/models"
)

func stateKey(auctionID string) string   { return "auction:" + auctionID + ":state" }
func highestKey(auctionID string) string { return "auction:" + auctionID + ":highest" }
func bidsKey(auctionID string) string    { return "auction:" + auctionID + ":bids" }

// minTTL is the floor on the live-state lifetime regardless of how close
// the auction end is when the projection is (re)built.
const minTTL = 60 * time.Second

// Verdict is the outcome of one admission attempt.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictBelowBase
	VerdictBelowIncrement
)

// AdmissionResult carries the verdict plus the amounts a rejection message
// needs. BasePrice is set for VerdictBelowBase; CurrentHighest and
// MinimumRequired for VerdictBelowIncrement.
type AdmissionResult struct {
	Verdict         Verdict
	BasePrice       decimal.Decimal
	CurrentHighest  decimal.Decimal
	MinimumRequired decimal.Decimal
}

// Store is the live-state capability set. Every method that touches a key
// for an unknown auction reports absence, not an error.
type Store interface {
	// Activate projects an auction into the live store, replacing any
	// previous projection, and seeds the bid set from durable rows.
	// The ttl is clamped to at least a minute.
	Activate(ctx context.Context, a models.Auction, bids []models.Bid, ttl time.Duration) error
	// Exists reports whether the state hash is present.
	Exists(ctx context.Context, auctionID string) (bool, error)
	// Deactivate removes all three keys.
	Deactivate(ctx context.Context, auctionID string) error

	// State reads the state hash; ok is false when it is absent.
	State(ctx context.Context, auctionID string) (models.LiveState, bool, error)
	// CurrentHighest reads the highest-amount key; zero when absent.
	CurrentHighest(ctx context.Context, auctionID string) (decimal.Decimal, error)
	// HighestBidder reads the head bidder from the state hash; "" when none.
	HighestBidder(ctx context.Context, auctionID string) (string, error)
	// RecentBids returns up to n envelopes in descending amount order.
	// n <= 0 returns the whole set.
	RecentBids(ctx context.Context, auctionID string, n int64) ([]models.BidEnvelope, error)
	// BidCount returns the size of the bid set.
	BidCount(ctx context.Context, auctionID string) (int64, error)

	// PlaceBid runs the atomic admission decision for env against the
	// current head, the base price, and the increment percent.
	PlaceBid(ctx context.Context, auctionID string, env models.BidEnvelope, basePrice, incrementPercent decimal.Decimal) (AdmissionResult, error)
	// RemoveHead evicts the top bid and promotes the next one, rewriting
	// the highest key and the state hash. ok is false when no successor
	// remains; head and state are then cleared.
	RemoveHead(ctx context.Context, auctionID string) (models.BidEnvelope, bool, error)
}

const (
	acceptCode           = "1"
	belowBasePrefix      = "-3:"
	belowIncrementPrefix = "-1:"
)

// parseAdmission decodes the wire protocol shared by the script and the
// in-memory implementation. Anything but an exact accept code is a reject
// or a protocol error.
func parseAdmission(res string) (AdmissionResult, error) {
	if res == acceptCode {
		return AdmissionResult{Verdict: VerdictAccepted}, nil
	}
	if rest, ok := strings.CutPrefix(res, belowBasePrefix); ok {
		base, err := decimal.NewFromString(rest)
		if err != nil {
			return AdmissionResult{}, fmt.Errorf("malformed base price in admission result %q: %w", res, err)
		}
		return AdmissionResult{Verdict: VerdictBelowBase, BasePrice: base}, nil
	}
	if rest, ok := strings.CutPrefix(res, belowIncrementPrefix); ok {
		cur, min, found := strings.Cut(rest, ":")
		if !found {
			return AdmissionResult{}, fmt.Errorf("malformed admission result %q", res)
		}
		current, err := decimal.NewFromString(cur)
		if err != nil {
			return AdmissionResult{}, fmt.Errorf("malformed current highest in admission result %q: %w", res, err)
		}
		required, err := decimal.NewFromString(min)
		if err != nil {
			return AdmissionResult{}, fmt.Errorf("malformed minimum in admission result %q: %w", res, err)
		}
		return AdmissionResult{Verdict: VerdictBelowIncrement, CurrentHighest: current, MinimumRequired: required}, nil
	}
	return AdmissionResult{}, fmt.Errorf("unexpected admission result %q", res)
}

// basisPoints renders the increment percent as integer basis points so the
// script can do the comparison in integers.
func basisPoints(incrementPercent decimal.Decimal) string {
	return incrementPercent.Mul(decimal.NewFromInt(100)).Round(0).String()
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// envelopeFromBid converts a durable row for seeding into the bid set.
func envelopeFromBid(b models.Bid) models.BidEnvelope {
	return models.BidEnvelope{
		BidID:    b.ID,
		BidderID: b.BidderID,
		Amount:   b.Amount,
		TS:       b.CreatedAt.UTC(),
	}
}
