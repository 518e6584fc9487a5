// Package tax computes tax on monetary bases. Implementations are injected
// so a jurisdiction-aware engine can replace the flat rate without touching
// the callers.
package tax

import "github.com/shopspring/decimal"

// Calculator returns the tax owed on a base amount at the given rate.
// Rate is a fraction, e.g. 0.08 for 8 percent.
type Calculator interface {
	Calculate(base, rate decimal.Decimal) decimal.Decimal
}

// FlatRate multiplies base by rate with no rounding rules applied; callers
// keep full precision until presentation.
type FlatRate struct{}

func (FlatRate) Calculate(base, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() || base.IsZero() {
		return decimal.Zero
	}
	return base.Mul(rate)
}
