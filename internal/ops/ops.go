// Package ops holds the maintenance routines shared by the control CLI and
// the daemon's startup and shutdown paths: cancel a pair's open orders, then
// sell the leftover base position down to dust.
package ops

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/internal/drain"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
)

// Config carries the drain bounds and logger the operations run with.
type Config struct {
	Drain  drain.Config
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// CancelAndDrain cancels every open order on the pair and drains the base
// leftover. Safe to repeat: a pair with nothing open and no position is a
// no-op. A failed cancel is logged and the drain still runs; the drain
// outcome decides the return.
func CancelAndDrain(ctx context.Context, reg *exchange.Registry, code, pair string, cfg Config) (decimal.Decimal, error) {
	cfg = cfg.withDefaults()

	ad, err := reg.Get(code)
	if err != nil {
		return decimal.Zero, err
	}
	log := cfg.Logger.With("exchange", ad.Name(), "pair", pair)

	// Without rules the drain still works: precision 8 truncation and a
	// zero floor leave the dust decision to the exchange minimums Drain
	// reads on its own.
	dcfg := cfg.Drain
	dcfg.AmountPrec = 8
	dcfg.MinBase = decimal.Zero
	if rules, err := ad.SymbolRules(ctx, pair); err == nil {
		dcfg.AmountPrec = rules.AmountPrecision
		dcfg.MinBase = rules.MinBase
	} else {
		log.Warn("ops: symbol rules unavailable", "op", "symbol_rules", "err", err)
	}
	dcfg.Logger = cfg.Logger

	if err := ad.CancelAllOrders(ctx, pair); err != nil {
		log.Warn("ops: cancel all orders failed", "op", "cancel_all", "err", err)
	} else {
		log.Info("ops: open orders cancelled")
	}

	return drain.Drain(ctx, ad, pair, dcfg)
}

// SweepAll runs CancelAndDrain over every configured pair, tolerating
// per-pair failures. The daemon calls it once before the first cycle to pick
// up leftovers of a crashed run and once more on the way out.
func SweepAll(ctx context.Context, reg *exchange.Registry, pairs []store.PairConfig, cfg Config) {
	cfg = cfg.withDefaults()
	for _, pc := range pairs {
		left, err := CancelAndDrain(ctx, reg, pc.Exchange, pc.Pair, cfg)
		if err != nil {
			cfg.Logger.Warn("sweep: pair cleanup failed",
				"exchange", pc.Exchange, "pair", pc.Pair, "err", err)
			continue
		}
		if left.IsPositive() {
			cfg.Logger.Info("sweep: leftover remains",
				"exchange", pc.Exchange, "pair", pc.Pair, "leftover", left.String())
		}
	}
}
