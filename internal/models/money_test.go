package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestMinimumNextBid(t *testing.T) {
	tests := []struct {
		name    string
		highest string
		percent string
		want    string
	}{
		{"no head yet", "0", "10.00", "0.00"},
		{"base case ten percent", "8500.00", "10.00", "9350.00"},
		{"round number", "10000.00", "10.00", "11000.00"},
		{"large head stays exact", "50000.00", "10.00", "55000.00"},
		{"second raise", "9350.00", "10.00", "10285.00"},
		{"fractional cents round up", "99.99", "10.00", "109.99"},
		{"sub-cent product ceils", "1.01", "10.00", "1.12"},
		{"five percent increment", "1000.00", "5.00", "1050.00"},
		{"odd increment", "333.33", "7.50", "358.33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinimumNextBid(dec(t, tt.highest), dec(t, tt.percent))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestGuaranteeAmount(t *testing.T) {
	tests := []struct {
		winning string
		want    string
	}{
		{"10285.00", "5142.50"},
		{"50000.00", "25000.00"},
		{"55000.00", "27500.00"},
		{"33.33", "16.67"}, // 16.665 rounds half-up
		{"0.01", "0.01"},   // half a cent rounds up, never to zero
	}

	for _, tt := range tests {
		t.Run(tt.winning, func(t *testing.T) {
			got := GuaranteeAmount(dec(t, tt.winning))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestFixed2(t *testing.T) {
	assert.Equal(t, "9350.00", Fixed2(dec(t, "9350")))
	assert.Equal(t, "0.00", Fixed2(decimal.Zero))
	assert.Equal(t, "12.50", Fixed2(dec(t, "12.5")))
}
