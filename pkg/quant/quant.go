// Package quant provides decimal quantization helpers for exchange order
// parameters. Exchanges reject prices and amounts that exceed the tick size
// of a symbol, so values are always truncated toward zero, never rounded up.
package quant

import "github.com/shopspring/decimal"

// Trunc floors v toward zero to prec fractional digits.
// A prec of zero or below truncates to a whole number.
func Trunc(v decimal.Decimal, prec int32) decimal.Decimal {
	if prec < 0 {
		prec = 0
	}
	return v.Truncate(prec)
}

// Format truncates v to prec fractional digits and renders it as a
// fixed-point string with exactly prec digits after the point. Order
// parameters cross the wire as strings; binary float formatting must
// never be involved.
func Format(v decimal.Decimal, prec int32) string {
	if prec < 0 {
		prec = 0
	}
	return v.Truncate(prec).StringFixed(prec)
}

// Step returns one quantization step at prec, i.e. 10^-prec.
// For prec of zero or below the step is 1.
func Step(prec int32) decimal.Decimal {
	if prec <= 0 {
		return decimal.New(1, 0)
	}
	return decimal.New(1, -prec)
}
