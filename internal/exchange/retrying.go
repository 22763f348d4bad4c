package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Retrying decorates an Adapter with the shared retry policy. Registry
// factories wrap every concrete adapter in one of these, so the strategy
// engine and drain only ever see retry-protected calls.
type Retrying struct {
	inner  Adapter
	policy Policy
}

func WithRetry(inner Adapter, policy Policy) *Retrying {
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) op(method string) string {
	return r.inner.Name() + "." + method
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) ServerTime(ctx context.Context) (int64, error) {
	return Try(ctx, r.policy, r.op("server_time"), func() (int64, error) {
		return r.inner.ServerTime(ctx)
	})
}

func (r *Retrying) SymbolRules(ctx context.Context, pair string) (SymbolRules, error) {
	return Try(ctx, r.policy, r.op("symbol_rules"), func() (SymbolRules, error) {
		return r.inner.SymbolRules(ctx, pair)
	})
}

func (r *Retrying) LastPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return Try(ctx, r.policy, r.op("last_price"), func() (decimal.Decimal, error) {
		return r.inner.LastPrice(ctx, pair)
	})
}

func (r *Retrying) PrevMinuteClose(ctx context.Context, pair string) (decimal.Decimal, error) {
	return Try(ctx, r.policy, r.op("prev_minute_close"), func() (decimal.Decimal, error) {
		return r.inner.PrevMinuteClose(ctx, pair)
	})
}

func (r *Retrying) PlaceLimitBuy(ctx context.Context, pair, price, amount string) (string, error) {
	return Try(ctx, r.policy, r.op("place_limit_buy"), func() (string, error) {
		return r.inner.PlaceLimitBuy(ctx, pair, price, amount)
	})
}

func (r *Retrying) MarketSell(ctx context.Context, pair, amount string) (string, error) {
	return Try(ctx, r.policy, r.op("market_sell"), func() (string, error) {
		return r.inner.MarketSell(ctx, pair, amount)
	})
}

func (r *Retrying) CancelOrder(ctx context.Context, pair, orderID string) error {
	return r.policy.Do(ctx, r.op("cancel_order"), func() error {
		return r.inner.CancelOrder(ctx, pair, orderID)
	})
}

func (r *Retrying) CancelAllOrders(ctx context.Context, pair string) error {
	return r.policy.Do(ctx, r.op("cancel_all_orders"), func() error {
		return r.inner.CancelAllOrders(ctx, pair)
	})
}

func (r *Retrying) OpenOrders(ctx context.Context, pair string) ([]Order, error) {
	return Try(ctx, r.policy, r.op("open_orders"), func() ([]Order, error) {
		return r.inner.OpenOrders(ctx, pair)
	})
}

func (r *Retrying) OrderDetail(ctx context.Context, pair, orderID string) (Order, error) {
	return Try(ctx, r.policy, r.op("order_detail"), func() (Order, error) {
		return r.inner.OrderDetail(ctx, pair, orderID)
	})
}

func (r *Retrying) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return Try(ctx, r.policy, r.op("available_balance"), func() (decimal.Decimal, error) {
		return r.inner.AvailableBalance(ctx, asset)
	})
}

func (r *Retrying) Trades(ctx context.Context, pair string, from, to time.Time, limit int) ([]Trade, error) {
	return Try(ctx, r.policy, r.op("trades"), func() ([]Trade, error) {
		return r.inner.Trades(ctx, pair, from, to, limit)
	})
}
