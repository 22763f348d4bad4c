// Package exchange defines the capability contract every supported exchange
// implements, plus the shared retry policy and the adapter registry the rest
// of the bot resolves exchanges through.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Adapter is the per-exchange implementation of the trading capability set.
// The strategy engine, drain and reporting depend only on this interface,
// never on a concrete exchange type. Price and amount parameters are passed
// as already-quantized fixed-point strings (see pkg/quant).
type Adapter interface {
	// Name returns the registry code of the exchange ("gate", "htx", ...).
	Name() string

	// ServerTime returns the exchange clock as epoch seconds. Callers fall
	// back to the local clock when it fails; it is never fatal.
	ServerTime(ctx context.Context) (int64, error)

	// SymbolRules returns the trading constraints for a pair. Instances
	// cache rules per pair for their whole lifetime. Unknown pairs fail
	// with CodeSymbolNotFound.
	SymbolRules(ctx context.Context, pair string) (SymbolRules, error)

	// LastPrice returns the latest trade price.
	LastPrice(ctx context.Context, pair string) (decimal.Decimal, error)

	// PrevMinuteClose returns the close of the last completed 1-minute
	// candle. Fails with CodeMarketDataUnavailable when fewer than two
	// candles exist.
	PrevMinuteClose(ctx context.Context, pair string) (decimal.Decimal, error)

	// PlaceLimitBuy places a GTC limit buy and returns the order id.
	// An empty id in the exchange response is an error.
	PlaceLimitBuy(ctx context.Context, pair, price, amount string) (string, error)

	// MarketSell places an IOC market sell for amount in base units.
	// Partial fills are a normal outcome observed via balance afterwards.
	MarketSell(ctx context.Context, pair, amount string) (string, error)

	// CancelOrder cancels one order. Cancelling an already filled or
	// cancelled order returns an error the callers treat as non-fatal.
	CancelOrder(ctx context.Context, pair, orderID string) error

	// CancelAllOrders cancels every open order on the pair.
	CancelAllOrders(ctx context.Context, pair string) error

	OpenOrders(ctx context.Context, pair string) ([]Order, error)
	OrderDetail(ctx context.Context, pair, orderID string) (Order, error)

	// AvailableBalance returns the free (non-locked) balance of one asset.
	AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// Trades returns fills in [from, to], stably sorted by (time, trade id).
	Trades(ctx context.Context, pair string, from, to time.Time, limit int) ([]Trade, error)
}

// SymbolRules carries the exchange-reported constraints for one pair.
type SymbolRules struct {
	PricePrecision  int32
	AmountPrecision int32
	MinBase         decimal.Decimal
	MinQuote        decimal.Decimal
}

// Order is the normalized view of an exchange order.
type Order struct {
	ID      string
	Pair    string
	Side    string
	Price   decimal.Decimal
	Amount  decimal.Decimal
	Filled  decimal.Decimal
	Status  string
	Created time.Time
}

// Trade is one fill, as consumed by reporting.
type Trade struct {
	ID          string
	OrderID     string
	Pair        string
	Side        string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Time        time.Time
}

// SplitPair splits a BASE_QUOTE symbol into its assets.
func SplitPair(pair string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(pair, "_")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("malformed pair %q: want BASE_QUOTE", pair)
	}
	return base, quote, nil
}
