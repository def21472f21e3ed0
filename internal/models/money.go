package models

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// MinimumNextBid returns the smallest amount the next bid may carry against
// the given head: highest * (1 + incrementPercent/100), rounded up to two
// decimal places. Zero when there is no head yet (the floor is then the
// item's base price).
func MinimumNextBid(highest, incrementPercent decimal.Decimal) decimal.Decimal {
	if highest.Sign() <= 0 {
		return decimal.Zero
	}
	// highest*(100+pct) is exact; scaling by 10^-2 is an exponent shift,
	// so no binary-float drift can creep into the boundary.
	raw := highest.Mul(oneHundred.Add(incrementPercent)).Mul(decimal.New(1, -2))
	return raw.RoundCeil(2)
}

// GuaranteeAmount returns the guarantee obligation for a winning bid:
// half of it, rounded half-up to two decimal places.
func GuaranteeAmount(winning decimal.Decimal) decimal.Decimal {
	return winning.Div(decimal.NewFromInt(2)).Round(2)
}

// Fixed2 formats a monetary amount as a fixed two-decimal string, the wire
// representation used by events, the bid envelope, and the live store.
func Fixed2(d decimal.Decimal) string {
	return d.StringFixed(2)
}
