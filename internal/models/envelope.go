package models

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// BidEnvelope is the self-describing bid record stored in the live bid-set
// and carried in events. Every envelope carries the full field set including
// BidID; amounts travel as fixed two-decimal strings and timestamps as
// RFC 3339 UTC so the record round-trips exactly between processes.
type BidEnvelope struct {
	BidID    string
	BidderID string
	Amount   decimal.Decimal
	TS       time.Time
}

type bidEnvelopeJSON struct {
	BidID    string `json:"bidId"`
	BidderID string `json:"bidderId"`
	Amount   string `json:"amount"`
	TS       string `json:"ts"`
}

// MarshalJSON encodes the envelope as a single compact object.
func (e BidEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(bidEnvelopeJSON{
		BidID:    e.BidID,
		BidderID: e.BidderID,
		Amount:   e.Amount.StringFixed(2),
		TS:       e.TS.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON decodes an envelope previously produced by MarshalJSON.
func (e *BidEnvelope) UnmarshalJSON(data []byte) error {
	var raw bidEnvelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode bid envelope: %w", err)
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return fmt.Errorf("decode bid envelope amount %q: %w", raw.Amount, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.TS)
	if err != nil {
		return fmt.Errorf("decode bid envelope ts %q: %w", raw.TS, err)
	}
	e.BidID = raw.BidID
	e.BidderID = raw.BidderID
	e.Amount = amount
	e.TS = ts.UTC()
	return nil
}

// EncodeBidEnvelope serializes an envelope for the live bid-set.
func EncodeBidEnvelope(e BidEnvelope) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode bid envelope: %w", err)
	}
	return string(data), nil
}

// DecodeBidEnvelope parses a bid-set member back into an envelope.
func DecodeBidEnvelope(member string) (BidEnvelope, error) {
	var e BidEnvelope
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return BidEnvelope{}, err
	}
	return e, nil
}
