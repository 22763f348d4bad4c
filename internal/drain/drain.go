// Package drain liquidates the leftover base position of a pair through a
// bounded series of market sells, stopping once only exchange-rejectable dust
// remains.
package drain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/pkg/quant"
)

const (
	defaultBaseSleep = 800 * time.Millisecond
	defaultMaxSleep  = 2500 * time.Millisecond
	defaultMaxWait   = 30 * time.Second
)

// Config bounds one drain run.
type Config struct {
	// MinBase raises the dust floor above the exchange minimum when set.
	MinBase decimal.Decimal

	// AmountPrec is the quantity precision sell amounts are truncated to.
	AmountPrec int32

	// BaseSleep is the pause after the first sell attempt; later passes
	// grow it linearly until MaxSleep caps it.
	BaseSleep time.Duration
	MaxSleep  time.Duration

	// MaxWait is the wall-clock budget for the whole run. On expiry the
	// remaining balance comes back as leftover, not as an error.
	MaxWait time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseSleep <= 0 {
		c.BaseSleep = defaultBaseSleep
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = defaultMaxSleep
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Drain sells the free base balance of pair down to dust and returns what is
// left. The dust floor is the largest of the caller minimum, the exchange
// minimum, one quantization step, and the min-quote notional converted to
// base units. Rejected sells are logged and retried on the next pass; only a
// failed balance read aborts the run.
func Drain(ctx context.Context, ad exchange.Adapter, pair string, cfg Config) (decimal.Decimal, error) {
	cfg = cfg.withDefaults()

	base, _, err := exchange.SplitPair(pair)
	if err != nil {
		return decimal.Zero, err
	}
	log := cfg.Logger.With("exchange", ad.Name(), "pair", pair)

	minBaseRule := decimal.Zero
	minQuote := decimal.Zero
	if rules, err := ad.SymbolRules(ctx, pair); err == nil {
		minBaseRule = rules.MinBase
		minQuote = rules.MinQuote
	} else {
		log.Warn("drain: symbol rules unavailable", "op", "symbol_rules", "err", err)
	}

	last := decimal.Zero
	if p, err := ad.LastPrice(ctx, pair); err == nil {
		last = p
	}

	// The notional floor only contributes when both inputs are known; a
	// missing price must not freeze the whole drain.
	byNotional := decimal.Zero
	if last.IsPositive() && minQuote.IsPositive() {
		byNotional = minQuote.Div(last)
	}
	dust := decimal.Max(
		decimal.Max(cfg.MinBase, minBaseRule),
		byNotional,
		quant.Step(cfg.AmountPrec),
	)

	start := time.Now()
	attempt := 0
	for {
		if time.Since(start) > cfg.MaxWait {
			left, err := ad.AvailableBalance(ctx, base)
			if err != nil {
				return decimal.Zero, fmt.Errorf("drain %s: read %s balance: %w", pair, base, err)
			}
			if left.IsPositive() {
				log.Warn("drain: deadline hit, leftover remains", "leftover", left.String(), "asset", base)
			}
			return left, nil
		}

		avail, err := ad.AvailableBalance(ctx, base)
		if err != nil {
			return decimal.Zero, fmt.Errorf("drain %s: read %s balance: %w", pair, base, err)
		}
		sellable := quant.Trunc(avail, cfg.AmountPrec)

		if p, err := ad.LastPrice(ctx, pair); err == nil {
			last = p
		} else {
			last = decimal.Zero
		}
		notional := decimal.Zero
		if last.IsPositive() {
			notional = sellable.Mul(last)
		}

		belowNotional := minQuote.IsPositive() && last.IsPositive() && notional.LessThan(minQuote)
		if sellable.LessThan(dust) || belowNotional {
			if avail.IsPositive() {
				if belowNotional {
					log.Info("drain: leftover below notional floor",
						"leftover", avail.String(), "notional", notional.String(), "min_quote", minQuote.String())
				} else {
					log.Info("drain: leftover below dust floor",
						"leftover", avail.String(), "dust", dust.String())
				}
			}
			return avail, nil
		}

		amount := quant.Format(sellable, cfg.AmountPrec)
		if id, err := ad.MarketSell(ctx, pair, amount); err != nil {
			// The exchange may race us on balance or thresholds;
			// the next pass re-reads and re-decides.
			log.Warn("drain: market sell failed", "op", "market_sell", "amount", amount, "err", err)
		} else {
			log.Info("drain: market sell placed", "order_id", id, "amount", amount)
		}

		attempt++
		if err := sleep(ctx, backoff(attempt, cfg.BaseSleep, cfg.MaxSleep)); err != nil {
			return avail, err
		}
	}
}

// backoff grows linearly with the attempt number: base, 1.5*base, 2*base...
// capped at max.
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * (1 + 0.5*float64(attempt-1)))
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
