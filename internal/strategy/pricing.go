// Package strategy runs the per-minute trading cycle: price and size one
// discounted limit buy per configured pair, let it live for exactly one bar,
// then cancel it and drain whatever filled.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/pkg/quant"
)

// Gap modes decide which reference price the buy discount applies to.
const (
	GapOff       = "off"
	GapDownOnly  = "down_only"
	GapSymmetric = "symmetric"
)

var oneHundred = decimal.New(100, 0)

// PriceDecision is the outcome of the reference/target computation for one
// pair and cycle.
type PriceDecision struct {
	Reference decimal.Decimal
	Target    decimal.Decimal
	GapPct    decimal.Decimal
	// Source names the winning reference for logs: "close_1m" or "last".
	Source string
}

// DecidePrice picks the reference price and derives the discounted buy
// target, truncated to the pair's price precision.
//
// The reference is the previous completed 1-minute close unless the gap to
// the live price trips the configured switch: down_only substitutes the live
// price only when the market dropped more than switchPct below the close,
// symmetric on a move of that size in either direction, off never. The gap is
// zero when prevClose is not positive.
func DecidePrice(prevClose, last decimal.Decimal, mode string, switchPct, deviationPct decimal.Decimal, pricePrec int32) (PriceDecision, error) {
	d := PriceDecision{Reference: prevClose, Source: "close_1m"}

	if prevClose.IsPositive() {
		d.GapPct = prevClose.Sub(last).Div(prevClose).Mul(oneHundred)
	}

	switch mode {
	case GapDownOnly:
		if d.GapPct.GreaterThan(switchPct) {
			d.Reference = last
			d.Source = "last"
		}
	case GapSymmetric:
		if d.GapPct.Abs().GreaterThan(switchPct) {
			d.Reference = last
			d.Source = "last"
		}
	}

	discount := decimal.New(1, 0).Sub(deviationPct.Div(oneHundred))
	d.Target = quant.Trunc(d.Reference.Mul(discount), pricePrec)
	if !d.Target.IsPositive() {
		return d, fmt.Errorf("target price %s is not positive (reference %s, deviation %s%%)",
			d.Target, d.Reference, deviationPct)
	}
	return d, nil
}
