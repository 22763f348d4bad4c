package strategy

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/pkg/quant"
)

// FeeBuffer is the fraction of the free quote balance an order may spend,
// reserving the rest for taker/maker fees.
var FeeBuffer = decimal.RequireFromString("0.9985")

// ErrInsufficientBalance marks a pair-cycle sizing failure: after all clamps
// no positive amount remains. Non-fatal to the cycle.
var ErrInsufficientBalance = errors.New("insufficient quote balance for a positive order amount")

// SizeRequest carries the sizing inputs for one pair and cycle.
type SizeRequest struct {
	Target      decimal.Decimal
	Available   decimal.Decimal
	QuoteBudget decimal.Decimal
	LotSizeBase decimal.Decimal
	Rules       exchange.SymbolRules
}

// SizeResult is the final order size plus the observability flags the engine
// turns into notifications.
type SizeResult struct {
	Amount   decimal.Decimal
	Notional decimal.Decimal
	// Resized is set when the affordability clamp shrank the amount below
	// what the plan asked for.
	Resized bool
	// MinQuoteBumped is set when the exchange min-notional raised the
	// amount above the plan.
	MinQuoteBumped bool
}

// SizeOrder computes the buy amount for a target price.
//
// A positive LotSizeBase fixes the amount outright; otherwise the quote
// budget (explicit, or the whole affordable balance) is converted at the
// target price. The notional is then clamped to Available*FeeBuffer, bumped
// up to the exchange min-quote and min-base floors, and re-clamped, in that
// order. The clamp always wins over the floors.
func SizeOrder(req SizeRequest) (SizeResult, error) {
	var res SizeResult
	if !req.Target.IsPositive() {
		return res, ErrInsufficientBalance
	}
	prec := req.Rules.AmountPrecision
	maxAfford := req.Available.Mul(FeeBuffer)

	var amount decimal.Decimal
	if req.LotSizeBase.IsPositive() {
		amount = quant.Trunc(req.LotSizeBase, prec)
	} else {
		planQuote := req.QuoteBudget
		if !planQuote.IsPositive() {
			planQuote = maxAfford
		}
		amount = quant.Trunc(planQuote.Div(req.Target), prec)
	}
	requested := amount

	clamp := func() {
		if amount.Mul(req.Target).GreaterThan(maxAfford) {
			amount = quant.Trunc(maxAfford.Div(req.Target), prec)
		}
	}
	clamp()

	if req.Rules.MinQuote.IsPositive() && amount.Mul(req.Target).LessThan(req.Rules.MinQuote) {
		need := quant.Trunc(req.Rules.MinQuote.Div(req.Target), prec)
		most := quant.Trunc(maxAfford.Div(req.Target), prec)
		if bumped := decimal.Max(decimal.Min(need, most), amount); bumped.GreaterThan(amount) {
			amount = bumped
			res.MinQuoteBumped = true
		}
	}

	if req.Rules.MinBase.IsPositive() && amount.LessThan(req.Rules.MinBase) {
		amount = req.Rules.MinBase
	}
	clamp()

	if !amount.IsPositive() {
		return SizeResult{}, ErrInsufficientBalance
	}
	res.Amount = amount
	res.Notional = amount.Mul(req.Target)
	res.Resized = amount.LessThan(requested)
	return res, nil
}
