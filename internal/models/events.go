package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Broadcast topics. One logical topic per auction plus one global topic for
// cross-auction lifecycle events.
const TopicUpdates = "auctions/updates"

// TopicAuction returns the per-auction topic name.
func TopicAuction(auctionID string) string {
	return "auction/" + auctionID
}

// Event kinds emitted by the core.
const (
	EventNewBid            = "NEW_BID"
	EventAuctionStarted    = "AUCTION_STARTED"
	EventAuctionEnded      = "AUCTION_ENDED"
	EventAuctionEndedNoBid = "AUCTION_ENDED_NO_BIDS"
	EventPaymentFallback   = "PAYMENT_FALLBACK"
	EventPaymentCompleted  = "PAYMENT_COMPLETED"
	EventAuctionNoWinner   = "AUCTION_NO_WINNER"
)

// NewBidEvent announces an accepted bid on the auction's topic.
type NewBidEvent struct {
	Type       string `json:"type"`
	AuctionID  string `json:"auctionId"`
	Amount     string `json:"amount"`
	BidderID   string `json:"bidderId"`
	BidderName string `json:"bidderName"`
	MinimumBid string `json:"minimumBid"`
	BidCount   int64  `json:"bidCount"`
	TS         string `json:"ts"`
}

// EventType returns the kind tag carried in the payload.
func (e NewBidEvent) EventType() string { return e.Type }

// NewBid builds a NEW_BID event with fixed-decimal amounts.
func NewBid(auctionID string, amount decimal.Decimal, bidderID, bidderName string, minimumBid decimal.Decimal, bidCount int64, ts time.Time) NewBidEvent {
	return NewBidEvent{
		Type:       EventNewBid,
		AuctionID:  auctionID,
		Amount:     Fixed2(amount),
		BidderID:   bidderID,
		BidderName: bidderName,
		MinimumBid: Fixed2(minimumBid),
		BidCount:   bidCount,
		TS:         ts.UTC().Format(time.RFC3339Nano),
	}
}

// AuctionStartedEvent is published on the global updates topic when the
// scheduler activates an auction.
type AuctionStartedEvent struct {
	Type      string `json:"type"`
	AuctionID string `json:"auctionId"`
	ItemID    string `json:"itemId"`
}

// EventType returns the kind tag carried in the payload.
func (e AuctionStartedEvent) EventType() string { return e.Type }

// AuctionStarted builds an AUCTION_STARTED event.
func AuctionStarted(auctionID, itemID string) AuctionStartedEvent {
	return AuctionStartedEvent{Type: EventAuctionStarted, AuctionID: auctionID, ItemID: itemID}
}

// AuctionEndedEvent announces a close with a provisional winner.
type AuctionEndedEvent struct {
	Type            string `json:"type"`
	AuctionID       string `json:"auctionId"`
	WinnerID        string `json:"winnerId"`
	WinningBid      string `json:"winningBid"`
	PaymentAmount   string `json:"paymentAmount"`
	PaymentDeadline string `json:"paymentDeadline"`
}

// EventType returns the kind tag carried in the payload.
func (e AuctionEndedEvent) EventType() string { return e.Type }

// AuctionEnded builds an AUCTION_ENDED event.
func AuctionEnded(auctionID, winnerID string, winningBid, paymentAmount decimal.Decimal, deadline time.Time) AuctionEndedEvent {
	return AuctionEndedEvent{
		Type:            EventAuctionEnded,
		AuctionID:       auctionID,
		WinnerID:        winnerID,
		WinningBid:      Fixed2(winningBid),
		PaymentAmount:   Fixed2(paymentAmount),
		PaymentDeadline: deadline.UTC().Format(time.RFC3339Nano),
	}
}

// AuctionEndedNoBidsEvent announces a close with an empty bid set.
type AuctionEndedNoBidsEvent struct {
	Type      string `json:"type"`
	AuctionID string `json:"auctionId"`
}

// EventType returns the kind tag carried in the payload.
func (e AuctionEndedNoBidsEvent) EventType() string { return e.Type }

// AuctionEndedNoBids builds an AUCTION_ENDED_NO_BIDS event.
func AuctionEndedNoBids(auctionID string) AuctionEndedNoBidsEvent {
	return AuctionEndedNoBidsEvent{Type: EventAuctionEndedNoBid, AuctionID: auctionID}
}

// PaymentFallbackEvent announces the win rolling forward to the
// next-highest bidder after a guarantee default.
type PaymentFallbackEvent struct {
	Type            string `json:"type"`
	AuctionID       string `json:"auctionId"`
	PreviousBidder  string `json:"previousBidder"`
	NewWinnerID     string `json:"newWinnerId"`
	NewWinningBid   string `json:"newWinningBid"`
	PaymentAmount   string `json:"paymentAmount"`
	PaymentDeadline string `json:"paymentDeadline"`
}

// EventType returns the kind tag carried in the payload.
func (e PaymentFallbackEvent) EventType() string { return e.Type }

// PaymentFallback builds a PAYMENT_FALLBACK event.
func PaymentFallback(auctionID, previousBidder, newWinnerID string, newWinningBid, paymentAmount decimal.Decimal, deadline time.Time) PaymentFallbackEvent {
	return PaymentFallbackEvent{
		Type:            EventPaymentFallback,
		AuctionID:       auctionID,
		PreviousBidder:  previousBidder,
		NewWinnerID:     newWinnerID,
		NewWinningBid:   Fixed2(newWinningBid),
		PaymentAmount:   Fixed2(paymentAmount),
		PaymentDeadline: deadline.UTC().Format(time.RFC3339Nano),
	}
}

// AuctionNoWinnerEvent announces that the bid set drained with no
// remaining bidder to fall back to.
type AuctionNoWinnerEvent struct {
	Type      string `json:"type"`
	AuctionID string `json:"auctionId"`
}

// EventType returns the kind tag carried in the payload.
func (e AuctionNoWinnerEvent) EventType() string { return e.Type }

// AuctionNoWinner builds an AUCTION_NO_WINNER event.
func AuctionNoWinner(auctionID string) AuctionNoWinnerEvent {
	return AuctionNoWinnerEvent{Type: EventAuctionNoWinner, AuctionID: auctionID}
}

// PaymentCompletedEvent announces a settled guarantee payment.
type PaymentCompletedEvent struct {
	Type       string `json:"type"`
	AuctionID  string `json:"auctionId"`
	BidderID   string `json:"bidderId"`
	BidderName string `json:"bidderName"`
}

// EventType returns the kind tag carried in the payload.
func (e PaymentCompletedEvent) EventType() string { return e.Type }

// PaymentCompleted builds a PAYMENT_COMPLETED event.
func PaymentCompleted(auctionID, bidderID, bidderName string) PaymentCompletedEvent {
	return PaymentCompletedEvent{Type: EventPaymentCompleted, AuctionID: auctionID, BidderID: bidderID, BidderName: bidderName}
}
