package bybit

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

// Adapter implements exchange.Adapter for Bybit spot.
type Adapter struct {
	client *Client

	mu    sync.Mutex
	rules map[string]exchange.SymbolRules
}

// New builds the Bybit spot adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		client: NewClient(cfg),
		rules:  make(map[string]exchange.SymbolRules),
	}
}

func (a *Adapter) Name() string { return "bybit" }

// toSymbol maps BTC_USDT to the Bybit form BTCUSDT.
func toSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "_", ""))
}

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	// Every v5 envelope carries the server timestamp, so the cheapest
	// authenticated-free call doubles as a clock source.
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "spot",
		"limit":    1,
	}).GetInstrumentInfo(ctx)
	if err != nil {
		return 0, err
	}
	if err := decodeResult(result, nil); err != nil {
		return 0, err
	}
	ms, err := envelopeTime(result)
	if err != nil {
		return 0, err
	}
	return ms / 1000, nil
}

func (a *Adapter) SymbolRules(ctx context.Context, pair string) (exchange.SymbolRules, error) {
	a.mu.Lock()
	r, ok := a.rules[pair]
	a.mu.Unlock()
	if ok {
		return r, nil
	}

	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
	}).GetInstrumentInfo(ctx)
	if err != nil {
		return exchange.SymbolRules{}, err
	}
	var res struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderQty   string `json:"minOrderQty"`
				MinOrderAmt   string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := decodeResult(result, &res); err != nil {
		return exchange.SymbolRules{}, err
	}
	if len(res.List) == 0 {
		return exchange.SymbolRules{}, exchange.NewSymbolNotFound("bybit", pair)
	}

	it := res.List[0]
	r = exchange.SymbolRules{
		PricePrecision:  stepPrecision(it.PriceFilter.TickSize),
		AmountPrecision: stepPrecision(it.LotSizeFilter.BasePrecision),
		MinBase:         parseDecimal(it.LotSizeFilter.MinOrderQty),
		MinQuote:        parseDecimal(it.LotSizeFilter.MinOrderAmt),
	}

	a.mu.Lock()
	a.rules[pair] = r
	a.mu.Unlock()
	return r, nil
}

func (a *Adapter) LastPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
	}).GetMarketTickers(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var res struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decodeResult(result, &res); err != nil {
		return decimal.Zero, err
	}
	if len(res.List) == 0 {
		return decimal.Zero, exchange.NewMarketDataUnavailable("bybit", pair, "empty tickers reply")
	}
	last := parseDecimal(res.List[0].LastPrice)
	if last.Sign() <= 0 {
		return decimal.Zero, exchange.NewBadResponse("bybit", "ticker last "+strconv.Quote(res.List[0].LastPrice))
	}
	return last, nil
}

func (a *Adapter) PrevMinuteClose(ctx context.Context, pair string) (decimal.Decimal, error) {
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
		"interval": "1",
		"limit":    2,
	}).GetMarketKline(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var res struct {
		List [][]string `json:"list"`
	}
	if err := decodeResult(result, &res); err != nil {
		return decimal.Zero, err
	}
	// Rows arrive newest first as [startTime, open, high, low, close,
	// volume, turnover]; index 0 is the still-forming minute.
	if len(res.List) < 2 {
		return decimal.Zero, exchange.NewMarketDataUnavailable("bybit", pair, "not enough candles for previous close")
	}
	row := res.List[1]
	if len(row) < 5 {
		return decimal.Zero, exchange.NewBadResponse("bybit", "short kline row")
	}
	prevClose := parseDecimal(row[4])
	if prevClose.Sign() <= 0 {
		return decimal.Zero, exchange.NewBadResponse("bybit", "kline close "+strconv.Quote(row[4]))
	}
	return prevClose, nil
}

func (a *Adapter) PlaceLimitBuy(ctx context.Context, pair, price, amount string) (string, error) {
	return a.placeOrder(ctx, pair, map[string]interface{}{
		"category":    "spot",
		"symbol":      toSymbol(pair),
		"side":        "Buy",
		"orderType":   "Limit",
		"qty":         amount,
		"price":       price,
		"timeInForce": "GTC",
	})
}

func (a *Adapter) MarketSell(ctx context.Context, pair, amount string) (string, error) {
	// Spot market sells take qty in base units.
	return a.placeOrder(ctx, pair, map[string]interface{}{
		"category":  "spot",
		"symbol":    toSymbol(pair),
		"side":      "Sell",
		"orderType": "Market",
		"qty":       amount,
	})
}

func (a *Adapter) placeOrder(ctx context.Context, pair string, params map[string]interface{}) (string, error) {
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return "", err
	}
	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &res); err != nil {
		var ee *exchange.Error
		if errors.As(err, &ee) && !ee.Transient {
			return "", exchange.NewOrderRejected("bybit", pair, ee.Message)
		}
		return "", err
	}
	if res.OrderID == "" {
		return "", exchange.NewEmptyOrderID("bybit", pair)
	}
	return res.OrderID, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, pair, orderID string) error {
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
		"orderId":  orderID,
	}).CancelOrder(ctx)
	if err != nil {
		return err
	}
	return decodeResult(result, nil)
}

func (a *Adapter) CancelAllOrders(ctx context.Context, pair string) error {
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
	}).CancelAllOrders(ctx)
	if err != nil {
		return err
	}
	return decodeResult(result, nil)
}

type orderRow struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	CumExecFee  string `json:"cumExecFee"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

func (o orderRow) normalize(pair string) exchange.Order {
	return exchange.Order{
		ID:      o.OrderID,
		Pair:    pair,
		Side:    strings.ToLower(o.Side),
		Price:   parseDecimal(o.Price),
		Amount:  parseDecimal(o.Qty),
		Filled:  parseDecimal(o.CumExecQty),
		Status:  o.OrderStatus,
		Created: msTime(o.CreatedTime),
	}
}

func (a *Adapter) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	rows, err := a.queryOrders(ctx, map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
	}, true)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Order, 0, len(rows))
	for _, o := range rows {
		out = append(out, o.normalize(pair))
	}
	return out, nil
}

func (a *Adapter) OrderDetail(ctx context.Context, pair, orderID string) (exchange.Order, error) {
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
		"orderId":  orderID,
	}
	// Realtime query only knows open orders; filled and cancelled ones
	// move to the history endpoint.
	for _, open := range []bool{true, false} {
		rows, err := a.queryOrders(ctx, params, open)
		if err != nil {
			return exchange.Order{}, err
		}
		for _, o := range rows {
			if o.OrderID == orderID {
				return o.normalize(pair), nil
			}
		}
	}
	return exchange.Order{}, exchange.NewBadResponse("bybit", "order "+orderID+" not found")
}

func (a *Adapter) queryOrders(ctx context.Context, params map[string]interface{}, open bool) ([]orderRow, error) {
	svc := a.client.httpClient.NewUtaBybitServiceWithParams(params)
	var (
		result any
		err    error
	)
	if open {
		result, err = svc.GetOpenOrders(ctx)
	} else {
		result, err = svc.GetOrderHistory(ctx)
	}
	if err != nil {
		return nil, err
	}
	var res struct {
		List []orderRow `json:"list"`
	}
	if err := decodeResult(result, &res); err != nil {
		return nil, err
	}
	return res.List, nil
}

func (a *Adapter) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)
	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(map[string]interface{}{
		"accountType": a.client.accountType,
		"coin":        asset,
	}).GetAccountWallet(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var res struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				Locked              string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeResult(result, &res); err != nil {
		return decimal.Zero, err
	}
	for _, acc := range res.List {
		for _, c := range acc.Coin {
			if !strings.EqualFold(c.Coin, asset) {
				continue
			}
			// Unified accounts may omit availableToWithdraw; fall back
			// to wallet balance minus locked.
			if c.AvailableToWithdraw != "" {
				return parseDecimal(c.AvailableToWithdraw), nil
			}
			return parseDecimal(c.WalletBalance).Sub(parseDecimal(c.Locked)), nil
		}
	}
	return decimal.Zero, nil
}

func (a *Adapter) Trades(ctx context.Context, pair string, from, to time.Time, limit int) ([]exchange.Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := a.queryOrders(ctx, map[string]interface{}{
		"category": "spot",
		"symbol":   toSymbol(pair),
		"limit":    limit,
	}, false)
	if err != nil {
		return nil, err
	}
	base, quote, err := exchange.SplitPair(pair)
	if err != nil {
		return nil, err
	}

	// The order history endpoint is the only fill source this client
	// exposes, so fills are reported aggregated per order.
	out := make([]exchange.Trade, 0, len(rows))
	for _, o := range rows {
		executed := parseDecimal(o.CumExecQty)
		if executed.Sign() <= 0 {
			continue
		}
		ts := msTime(o.UpdatedTime)
		if ts.IsZero() {
			ts = msTime(o.CreatedTime)
		}
		if ts.IsZero() || ts.Before(from) || ts.After(to) {
			continue
		}
		price := parseDecimal(o.AvgPrice)
		if price.Sign() <= 0 {
			price = parseDecimal(o.Price)
		}
		side := strings.ToLower(o.Side)
		feeCurrency := quote
		if side == "buy" {
			feeCurrency = base
		}
		out = append(out, exchange.Trade{
			ID:          o.OrderID,
			OrderID:     o.OrderID,
			Pair:        pair,
			Side:        side,
			Price:       price,
			Amount:      executed,
			Fee:         parseDecimal(o.CumExecFee),
			FeeCurrency: feeCurrency,
			Time:        ts,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
