package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidEnvelopeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)
	in := BidEnvelope{
		BidID:    "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		BidderID: "bidder-42",
		Amount:   dec(t, "9350.00"),
		TS:       ts,
	}

	member, err := EncodeBidEnvelope(in)
	require.NoError(t, err)
	assert.Contains(t, member, `"amount":"9350.00"`)
	assert.Contains(t, member, `"bidId":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"`)

	out, err := DecodeBidEnvelope(member)
	require.NoError(t, err)
	assert.Equal(t, in.BidID, out.BidID)
	assert.Equal(t, in.BidderID, out.BidderID)
	assert.True(t, in.Amount.Equal(out.Amount), "amount must round-trip exactly")
	assert.True(t, in.TS.Equal(out.TS))
}

func TestBidEnvelopeAmountAlwaysTwoDecimals(t *testing.T) {
	member, err := EncodeBidEnvelope(BidEnvelope{
		BidID:    "b-1",
		BidderID: "u-1",
		Amount:   dec(t, "11000"),
		TS:       time.Now(),
	})
	require.NoError(t, err)
	assert.Contains(t, member, `"amount":"11000.00"`)
}

func TestBidEnvelopeTimestampNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	in := BidEnvelope{
		BidID:    "b-2",
		BidderID: "u-2",
		Amount:   dec(t, "1.00"),
		TS:       time.Date(2026, 1, 2, 9, 0, 0, 0, loc),
	}

	member, err := EncodeBidEnvelope(in)
	require.NoError(t, err)

	out, err := DecodeBidEnvelope(member)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, out.TS.Location())
	assert.True(t, out.TS.Equal(in.TS))
}

func TestDecodeBidEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeBidEnvelope(`{"bidId":"x","amount":"not-a-number","ts":"2026-01-01T00:00:00Z"}`)
	require.Error(t, err)

	_, err = DecodeBidEnvelope(`{"bidId":"x","amount":"1.00","ts":"yesterday"}`)
	require.Error(t, err)

	_, err = DecodeBidEnvelope(`not json at all`)
	require.Error(t, err)
}
