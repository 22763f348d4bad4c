package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trungnq137/crypto-dip-bot/internal/drain"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/monitoring"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
	"github.com/trungnq137/crypto-dip-bot/internal/telemetry"
	"github.com/trungnq137/crypto-dip-bot/pkg/quant"
)

// ParamSource is the engine's read-only contract on the store. Writes flow
// through the operator CLI, never through the engine.
type ParamSource interface {
	ActivePairs(ctx context.Context) ([]store.PairConfig, error)
	Paused(ctx context.Context) (bool, error)
	Shutdown(ctx context.Context) (bool, error)
}

// Ticker is a satellite service the engine services once per cycle.
// Implementations handle and log their own failures.
type Ticker interface {
	Tick(ctx context.Context)
}

// Notifier delivers operator telemetry, fire-and-forget.
type Notifier interface {
	Notify(event, message string)
}

const (
	resizeCooldown  = 5 * time.Minute
	cycleRetrySleep = 2 * time.Second
	standbyPoll     = 2 * time.Second
)

// Config wires the engine's collaborators.
type Config struct {
	Registry *exchange.Registry
	Params   ParamSource
	Notifier Notifier
	Tickers  []Ticker
	Logger   *slog.Logger

	// DefaultExchange supplies the clock the bar wait aligns to.
	DefaultExchange string
	BarBuffer       time.Duration

	// Drain carries the timing knobs; per-pair minimums and precision are
	// filled in from symbol rules at each call site.
	Drain drain.Config
}

// Engine runs the per-minute trading cycle across all configured pairs.
type Engine struct {
	cfg      Config
	tracker  *Tracker
	throttle *telemetry.Throttle
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BarBuffer <= 0 {
		cfg.BarBuffer = 1400 * time.Millisecond
	}
	return &Engine{
		cfg:      cfg,
		tracker:  NewTracker(),
		throttle: telemetry.NewThrottle(resizeCooldown),
	}
}

// Run is the standby supervisor. While the persisted shutdown flag is set the
// engine idles; otherwise it runs trading cycles. Returns only when ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		down, err := e.cfg.Params.Shutdown(ctx)
		if err != nil {
			e.cfg.Logger.Warn("standby: shutdown flag unreadable", "err", err)
		}
		if down {
			e.sleep(ctx, standbyPoll)
			continue
		}
		e.cycleLoop(ctx)
	}
}

// cycleLoop repeats cycles until the shutdown flag is set or ctx ends. A
// failed cycle is logged and retried after a short pause; the loop itself
// never escapes an error.
func (e *Engine) cycleLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if down, err := e.cfg.Params.Shutdown(ctx); err == nil && down {
			e.cfg.Logger.Info("shutdown flag set, entering standby")
			return
		}

		start := time.Now()
		if err := e.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.cfg.Logger.Error("cycle failed", "err", err)
			e.sleep(ctx, cycleRetrySleep)
			e.tick(ctx)
			continue
		}
		monitoring.RecordCycle(time.Since(start))
	}
}

func (e *Engine) runCycle(ctx context.Context) error {
	paused, err := e.cfg.Params.Paused(ctx)
	if err != nil {
		return fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		e.cfg.Logger.Info("paused, skipping trading this minute")
		e.waitForBar(ctx)
		e.tick(ctx)
		return nil
	}

	pairs, err := e.cfg.Params.ActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("load active pairs: %w", err)
	}
	if len(pairs) == 0 {
		e.cfg.Logger.Info("no active pairs configured")
		e.waitForBar(ctx)
		e.tick(ctx)
		return nil
	}

	limit := poolSize(len(pairs))

	// Pair tasks run on a non-cancellable context: an interrupted
	// cancel/drain sequence is worse than letting it finish. Signals are
	// honored at phase boundaries and in sleeps.
	taskCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, pc := range pairs {
		g.Go(func() error {
			e.placePair(taskCtx, pc)
			return nil
		})
	}
	_ = g.Wait()

	e.waitForBar(ctx)

	g = new(errgroup.Group)
	g.SetLimit(limit)
	for _, pc := range pairs {
		g.Go(func() error {
			e.cleanPair(taskCtx, pc)
			return nil
		})
	}
	_ = g.Wait()

	e.tick(ctx)
	return nil
}

func poolSize(pairs int) int {
	n := 2 * pairs
	if n < 1 {
		n = 1
	}
	if n > 16 {
		n = 16
	}
	return n
}

// placePair runs the buy half of the cycle for one pair. Every failure is
// terminal for the pair this minute and never reaches sibling tasks.
func (e *Engine) placePair(ctx context.Context, pc store.PairConfig) {
	log := e.cfg.Logger.With("exchange", pc.Exchange, "pair", pc.Pair)
	fail := func(op string, err error) {
		log.Error("placing failed", "op", op, "err", err)
		monitoring.RecordPlacement(pc.Exchange, pc.Pair, monitoring.OutcomeFailed)
	}

	ad, err := e.cfg.Registry.Get(pc.Exchange)
	if err != nil {
		fail("resolve_adapter", err)
		return
	}

	_, quoteSym, err := exchange.SplitPair(pc.Pair)
	if err != nil {
		fail("split_pair", err)
		return
	}

	if err := ad.CancelAllOrders(ctx, pc.Pair); err != nil {
		log.Warn("cancel-all before buy failed", "op", "cancel_all", "err", err)
	}

	rules, err := ad.SymbolRules(ctx, pc.Pair)
	if err != nil {
		fail("symbol_rules", err)
		return
	}

	// Anything still held from a previous bar is sold first so the new
	// buy does not stack on an unsold position.
	e.drainPair(ctx, ad, pc.Pair, rules, log)

	prevClose, err := ad.PrevMinuteClose(ctx, pc.Pair)
	if err != nil {
		fail("prev_close", err)
		return
	}
	last, err := ad.LastPrice(ctx, pc.Pair)
	if err != nil {
		fail("last_price", err)
		return
	}

	price, err := DecidePrice(prevClose, last, pc.GapMode, pc.GapSwitchPct, pc.DeviationPct, rules.PricePrecision)
	if err != nil {
		fail("pricing", err)
		return
	}

	avail, err := ad.AvailableBalance(ctx, quoteSym)
	if err != nil {
		fail("quote_balance", err)
		return
	}

	size, err := SizeOrder(SizeRequest{
		Target:      price.Target,
		Available:   avail,
		QuoteBudget: pc.Quote,
		LotSizeBase: pc.LotSizeBase,
		Rules:       rules,
	})
	if err != nil {
		e.tracker.Clear(pc.Exchange, pc.Pair)
		log.Warn("buy skipped", "reason", err, "available", avail.String())
		monitoring.RecordPlacement(pc.Exchange, pc.Pair, monitoring.OutcomeInsufficient)
		return
	}

	if size.Resized && e.throttle.Allow("auto_resize_buy", pc.Exchange+":"+pc.Pair) {
		e.notify("auto_resize_buy", fmt.Sprintf("%s %s: buy reduced to %s (notional %s) to fit the available balance %s.",
			pc.Exchange, pc.Pair, size.Amount, size.Notional.StringFixed(8), avail))
	}
	if size.MinQuoteBumped && e.throttle.Allow("min_quote_guard", pc.Exchange+":"+pc.Pair) {
		e.notify("min_quote_guard", fmt.Sprintf("%s %s: buy raised to %s to clear the exchange minimum notional %s.",
			pc.Exchange, pc.Pair, size.Amount, rules.MinQuote))
	}

	priceStr := quant.Format(price.Target, rules.PricePrecision)
	amountStr := quant.Format(size.Amount, rules.AmountPrecision)
	orderID, err := ad.PlaceLimitBuy(ctx, pc.Pair, priceStr, amountStr)
	if err != nil {
		e.tracker.Clear(pc.Exchange, pc.Pair)
		log.Error("limit buy rejected", "op", "place_limit_buy", "price", priceStr, "amount", amountStr, "err", err)
		monitoring.RecordPlacement(pc.Exchange, pc.Pair, monitoring.OutcomeRejected)
		return
	}
	e.tracker.Set(pc.Exchange, pc.Pair, orderID)
	monitoring.RecordPlacement(pc.Exchange, pc.Pair, monitoring.OutcomePlaced)
	log.Info("limit buy placed",
		"order_id", orderID, "price", priceStr, "amount", amountStr,
		"ref_source", price.Source, "gap_pct", price.GapPct.StringFixed(4))
}

// cleanPair unwinds one pair after the bar: drain, cancel the tracked order,
// cancel-all as the safety net, drain again for late fills. Sub-steps are
// independent; failures log and move on.
func (e *Engine) cleanPair(ctx context.Context, pc store.PairConfig) {
	log := e.cfg.Logger.With("exchange", pc.Exchange, "pair", pc.Pair)

	ad, err := e.cfg.Registry.Get(pc.Exchange)
	if err != nil {
		log.Error("cleaning failed", "op", "resolve_adapter", "err", err)
		return
	}

	rules, err := ad.SymbolRules(ctx, pc.Pair)
	if err != nil {
		log.Warn("symbol rules unavailable, cleaning with fallbacks", "err", err)
		rules = exchange.SymbolRules{PricePrecision: 8, AmountPrecision: 8}
	}

	e.drainPair(ctx, ad, pc.Pair, rules, log)

	if orderID := e.tracker.Get(pc.Exchange, pc.Pair); orderID != "" {
		if err := ad.CancelOrder(ctx, pc.Pair, orderID); err != nil {
			log.Warn("cancel tracked order failed", "op", "cancel_order", "order_id", orderID, "err", err)
		} else {
			log.Info("tracked order cancelled", "order_id", orderID)
		}
		e.tracker.Clear(pc.Exchange, pc.Pair)
	}

	if err := ad.CancelAllOrders(ctx, pc.Pair); err != nil {
		log.Warn("cancel-all failed", "op", "cancel_all", "err", err)
	}

	e.drainPair(ctx, ad, pc.Pair, rules, log)
}

func (e *Engine) drainPair(ctx context.Context, ad exchange.Adapter, pair string, rules exchange.SymbolRules, log *slog.Logger) {
	dcfg := e.cfg.Drain
	dcfg.MinBase = rules.MinBase
	dcfg.AmountPrec = rules.AmountPrecision
	if dcfg.Logger == nil {
		dcfg.Logger = e.cfg.Logger
	}

	start := time.Now()
	left, err := drain.Drain(ctx, ad, pair, dcfg)
	if err != nil {
		log.Warn("drain failed", "op", "drain", "err", err)
		return
	}
	leftover, _ := left.Float64()
	monitoring.RecordDrain(ad.Name(), pair, leftover, time.Since(start))
}

// waitForBar sleeps until the next minute boundary of the default exchange's
// clock, falling back to the local clock when it cannot be read.
func (e *Engine) waitForBar(ctx context.Context) {
	src := func(ctx context.Context) (int64, error) {
		ad, err := e.cfg.Registry.Get(e.cfg.DefaultExchange)
		if err != nil {
			return 0, err
		}
		return ad.ServerTime(ctx)
	}
	_ = SleepUntilNextMinute(ctx, src, e.cfg.BarBuffer)
}

func (e *Engine) tick(ctx context.Context) {
	for _, t := range e.cfg.Tickers {
		if t != nil {
			t.Tick(ctx)
		}
	}
}

func (e *Engine) notify(event, message string) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.Notify(event, message)
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Tracked exposes the current order handle for one pair, used by tests and
// status tooling.
func (e *Engine) Tracked(exchange, pair string) string {
	return e.tracker.Get(exchange, pair)
}
