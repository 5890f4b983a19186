// Package money centralises monetary arithmetic for the document engine.
// All amounts are kept in the single ledger currency with two decimal places;
// intermediate math runs on decimals so line totals are deterministic
// regardless of how the inputs were produced.
package money

import "github.com/shopspring/decimal"

// Tolerance is the cent-level slack used when comparing stored totals against
// recomputed ones and when deciding that a balance has reached zero.
const Tolerance = 0.005

// Round rounds an amount half-up to two decimal places.
func Round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// LineTotals computes the pre-tax amount, tax amount and tax-inclusive total
// for one line. Totals are always derived from quantity, unit price and tax
// rate; they are never copied from a previous document.
func LineTotals(quantity, unitPrice, taxRate float64) (net, tax, total float64) {
	qty := decimal.NewFromFloat(quantity)
	price := decimal.NewFromFloat(unitPrice)
	rate := decimal.NewFromFloat(taxRate).Div(decimal.NewFromInt(100))

	netD := qty.Mul(price).Round(2)
	taxD := netD.Mul(rate).Round(2)

	net, _ = netD.Float64()
	tax, _ = taxD.Float64()
	total, _ = netD.Add(taxD).Float64()
	return net, tax, total
}

// Add sums two amounts without accumulating float drift.
func Add(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return f
}

// Sub subtracts b from a without accumulating float drift.
func Sub(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return f
}

// Equal reports whether two amounts match within Tolerance.
func Equal(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < Tolerance
}

// IsZero reports whether an amount is zero within Tolerance.
func IsZero(v float64) bool {
	return Equal(v, 0)
}
