package auctionerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Lookup errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// Lifecycle and coordination errors
var (
	// ErrPaymentExpired means the guarantee window closed before the
	// caller submitted.
	ErrPaymentExpired = errors.New("payment window expired")

	// ErrConflict means a guarded transition lost a race, e.g. the
	// scheduler marking a payment FAILED while the bidder paid. The
	// concurrent SUCCESS wins and the loser no-ops.
	ErrConflict = errors.New("conflicting concurrent update")
)

// Transient I/O errors. Recoverable by retry at the caller; the engine never
// auto-retries admission because a timed-out script may have applied.
var (
	ErrLiveStoreUnavailable    = errors.New("live store unavailable")
	ErrDurableStoreUnavailable = errors.New("durable store unavailable")
)

// IsTransient reports whether err is a store availability failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLiveStoreUnavailable) || errors.Is(err, ErrDurableStoreUnavailable)
}

// RejectionCode classifies why a bid was refused admission.
type RejectionCode string

const (
	AuctionNotActive  RejectionCode = "AUCTION_NOT_ACTIVE"
	AuctionEnded      RejectionCode = "AUCTION_ENDED"
	SelfOutbid        RejectionCode = "SELF_OUTBID"
	BelowBasePrice    RejectionCode = "BELOW_BASE_PRICE"
	BelowIncrement    RejectionCode = "BELOW_INCREMENT"
	NonPositiveAmount RejectionCode = "NON_POSITIVE_AMOUNT"
)

// BidRejection is the invalid-bid error. It carries a machine code and the
// amounts a caller needs to render a one-line human message.
type BidRejection struct {
	Code            RejectionCode
	CurrentHighest  decimal.Decimal // BelowIncrement only
	MinimumRequired decimal.Decimal // BelowIncrement only
	BasePrice       decimal.Decimal // BelowBasePrice only
}

func (e *BidRejection) Error() string {
	switch e.Code {
	case AuctionNotActive:
		return "auction is not active"
	case AuctionEnded:
		return "auction has already ended"
	case SelfOutbid:
		return "you already hold the highest bid"
	case BelowBasePrice:
		return fmt.Sprintf("bid must be at least the base price of %s", e.BasePrice.StringFixed(2))
	case BelowIncrement:
		return fmt.Sprintf("bid too low: current highest is %s, minimum required is %s",
			e.CurrentHighest.StringFixed(2), e.MinimumRequired.StringFixed(2))
	case NonPositiveAmount:
		return "bid amount must be positive"
	default:
		return "invalid bid"
	}
}

// AsBidRejection unwraps err into a *BidRejection when it is one.
func AsBidRejection(err error) (*BidRejection, bool) {
	var r *BidRejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
