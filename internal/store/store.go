// Package store is the durable side of the state duality: the transactional
// record of auctions, items, bids, and payments that outlives the hot
// per-auction projection. Capabilities are split per entity kind so
// consumers declare exactly what they touch.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/models"
)

// AuctionStore persists the auction lifecycle record. Writes are
// last-write-wins; concurrent writers are serialized by the engine below.
type AuctionStore interface {
	GetAuction(ctx context.Context, id string) (models.Auction, error)
	ListAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
	SaveAuction(ctx context.Context, a models.Auction) error

	// UpdateAuctionHead writes back the monotonic head amount after an
	// accepted bid. It never touches status or winner.
	UpdateAuctionHead(ctx context.Context, id string, amount decimal.Decimal) error

	// CompleteAuction persists a close in one transaction: the terminal
	// status plus winner/head fields of a, and, when p is non-nil, the
	// guarantee payment row.
	CompleteAuction(ctx context.Context, a models.Auction, p *models.Payment) error

	// ReassignWinner applies a fallback in one transaction: the auction's
	// winner and head (empty winnerID and zero head clear both), and, when
	// next is non-nil, the replacement guarantee payment row.
	ReassignWinner(ctx context.Context, auctionID, winnerID string, head decimal.Decimal, next *models.Payment) error
}

// ItemStore is the read-only item lookup; the core only needs base_price.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (models.Item, error)
}

// BidStore appends and reads the immutable bid history.
type BidStore interface {
	AppendBid(ctx context.Context, b models.Bid) error

	// ListBidsDescByTime returns bids most-recent first. limit <= 0 means
	// no limit.
	ListBidsDescByTime(ctx context.Context, auctionID string, limit int) ([]models.Bid, error)

	// TopBid returns the highest-amount bid; ok is false when the auction
	// has no bids.
	TopBid(ctx context.Context, auctionID string) (bid models.Bid, ok bool, err error)

	CountBids(ctx context.Context, auctionID string) (int64, error)
}

// PaymentStore persists guarantee obligations. The Mark transitions are
// guarded on status = PENDING and report ErrConflict when they lose a race,
// so a concurrent SUCCESS always wins over a scheduler FAILED.
type PaymentStore interface {
	SavePayment(ctx context.Context, p models.Payment) error
	GetPendingGuarantee(ctx context.Context, auctionID, bidderID string) (models.Payment, error)
	ListPendingGuaranteePayments(ctx context.Context) ([]models.Payment, error)
	MarkPaymentFailed(ctx context.Context, id string) error
	MarkPaymentSucceeded(ctx context.Context, id string, paidAt time.Time) error
}

// UserStore resolves display names for state responses and events. A
// missing user yields an empty name, not an error; callers substitute a
// placeholder.
type UserStore interface {
	GetUsername(ctx context.Context, id string) (string, error)
}

// Store bundles every capability a full durable backend provides.
type Store interface {
	AuctionStore
	ItemStore
	BidStore
	PaymentStore
	UserStore
}
