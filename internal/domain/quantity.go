package domain

import "github.com/shopspring/decimal"

// FloorToLot rounds qty down to a whole number of lots. A non-positive lot
// leaves qty unchanged. Decimal arithmetic keeps 0.3/0.1 from flooring to 2.
func FloorToLot(qty, lot float64) float64 {
	if qty <= 0 {
		return 0
	}
	if lot <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	l := decimal.NewFromFloat(lot)
	out, _ := q.Div(l).Floor().Mul(l).Float64()
	return out
}

// FormatQuantity renders qty in the fixed-point form exchanges accept,
// trimmed to the lot's precision.
func FormatQuantity(qty, lot float64) string {
	d := decimal.NewFromFloat(FloorToLot(qty, lot))
	if lot <= 0 {
		return d.String()
	}
	places := -decimal.NewFromFloat(lot).Exponent()
	if places < 0 {
		places = 0
	}
	return d.StringFixed(places)
}
