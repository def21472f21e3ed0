package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusPending   AuctionStatus = "PENDING"
	StatusLive      AuctionStatus = "LIVE"
	StatusCompleted AuctionStatus = "COMPLETED"
	StatusCancelled AuctionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s AuctionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Auction is the unit of lifecycle. CurrentHighestBid is zero when no bid
// has been accepted; WinnerID is empty until the scheduler assigns one.
type Auction struct {
	ID                  string          `json:"id"`
	ItemID              string          `json:"itemId"`
	StartTime           time.Time       `json:"startTime"`
	EndTime             time.Time       `json:"endTime"`
	Status              AuctionStatus   `json:"status"`
	MinIncrementPercent decimal.Decimal `json:"minIncrementPercent"`
	CurrentHighestBid   decimal.Decimal `json:"currentHighestBid"`
	WinnerID            string          `json:"winnerId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Item carries the only attribute the core reads: the floor for the
// first bid. Everything else about items belongs to the CRUD layer.
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// Bid is an immutable, append-only record of an accepted bid.
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PaymentType classifies a payment obligation.
type PaymentType string

// PaymentTypeGuarantee is the 50% obligation owed by a provisional winner.
const PaymentTypeGuarantee PaymentType = "GUARANTEE"

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Payment is a guarantee obligation owed by a provisional winner. At most
// one PENDING GUARANTEE payment exists per (auction, bidder).
type Payment struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      PaymentType     `json:"type"`
	Status    PaymentStatus   `json:"status"`
	DueBy     time.Time       `json:"dueBy"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// User is the read-only slice of the user directory the core needs for
// display names in responses and events.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// LiveState is the hot per-auction projection held by the live store while
// an auction is LIVE (plus a short grace window).
type LiveState struct {
	Status        AuctionStatus
	ItemID        string
	StartTime     time.Time
	EndTime       time.Time
	HighestBid    decimal.Decimal
	HighestBidder string
}
