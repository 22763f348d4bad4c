package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

// Adapter implements exchange.Adapter for Gate.io spot.
type Adapter struct {
	client *Client

	mu    sync.Mutex
	rules map[string]exchange.SymbolRules
}

// New builds the Gate.io spot adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		client: NewClient(cfg),
		rules:  make(map[string]exchange.SymbolRules),
	}
}

func (a *Adapter) Name() string { return "gate" }

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	var res struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := a.client.get(ctx, "/spot/time", nil, &res); err != nil {
		return 0, err
	}
	return res.ServerTime / 1000, nil
}

func (a *Adapter) SymbolRules(ctx context.Context, pair string) (exchange.SymbolRules, error) {
	a.mu.Lock()
	r, ok := a.rules[pair]
	a.mu.Unlock()
	if ok {
		return r, nil
	}

	var res struct {
		PricePrecision  *int32 `json:"price_precision"`
		Precision       *int32 `json:"precision"`
		AmountPrecision *int32 `json:"amount_precision"`
		MinBaseAmount   string `json:"min_base_amount"`
		MinQuoteAmount  string `json:"min_quote_amount"`
	}
	if err := a.client.get(ctx, "/spot/currency_pairs/"+pair, nil, &res); err != nil {
		// A client error from this public endpoint means Gate does not
		// list the pair.
		var ee *exchange.Error
		if errors.As(err, &ee) && ee.Code == exchange.CodeHTTPStatus && !ee.Transient {
			return exchange.SymbolRules{}, exchange.NewSymbolNotFound("gate", pair)
		}
		return exchange.SymbolRules{}, err
	}

	r = exchange.SymbolRules{PricePrecision: 8}
	switch {
	case res.PricePrecision != nil:
		r.PricePrecision = *res.PricePrecision
	case res.Precision != nil:
		r.PricePrecision = *res.Precision
	}
	if res.AmountPrecision != nil {
		r.AmountPrecision = *res.AmountPrecision
	}
	r.MinBase = parseDecimal(res.MinBaseAmount)
	r.MinQuote = parseDecimal(res.MinQuoteAmount)

	a.mu.Lock()
	a.rules[pair] = r
	a.mu.Unlock()
	return r, nil
}

func (a *Adapter) LastPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	var res []struct {
		Last string `json:"last"`
	}
	q := url.Values{"currency_pair": {pair}}
	if err := a.client.get(ctx, "/spot/tickers", q, &res); err != nil {
		return decimal.Zero, err
	}
	if len(res) == 0 {
		return decimal.Zero, exchange.NewMarketDataUnavailable("gate", pair, "empty tickers reply")
	}
	last, err := decimal.NewFromString(res[0].Last)
	if err != nil {
		return decimal.Zero, exchange.NewBadResponse("gate", "ticker last "+strconv.Quote(res[0].Last))
	}
	return last, nil
}

func (a *Adapter) PrevMinuteClose(ctx context.Context, pair string) (decimal.Decimal, error) {
	q := url.Values{
		"currency_pair": {pair},
		"interval":      {"1m"},
		"limit":         {"2"},
	}
	var candles [][]string
	if err := a.client.get(ctx, "/spot/candlesticks", q, &candles); err != nil {
		return decimal.Zero, err
	}
	if len(candles) < 2 {
		return decimal.Zero, exchange.NewMarketDataUnavailable("gate", pair, "not enough candles for previous close")
	}
	// Rows arrive oldest first as [ts, quote volume, close, high, low, open,
	// ...]; the second to last row is the last completed minute.
	prev := candles[len(candles)-2]
	if len(prev) < 3 {
		return decimal.Zero, exchange.NewBadResponse("gate", fmt.Sprintf("short candle row %v", prev))
	}
	prevClose, err := decimal.NewFromString(prev[2])
	if err != nil || prevClose.Sign() <= 0 {
		return decimal.Zero, exchange.NewBadResponse("gate", "candle close "+strconv.Quote(prev[2]))
	}
	return prevClose, nil
}

type orderRequest struct {
	CurrencyPair string `json:"currency_pair"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	Price        string `json:"price,omitempty"`
	Amount       string `json:"amount"`
	TimeInForce  string `json:"time_in_force"`
	Account      string `json:"account,omitempty"`
}

func (a *Adapter) PlaceLimitBuy(ctx context.Context, pair, price, amount string) (string, error) {
	return a.placeOrder(ctx, pair, orderRequest{
		CurrencyPair: pair,
		Type:         "limit",
		Side:         "buy",
		Price:        price,
		Amount:       amount,
		TimeInForce:  "gtc",
		Account:      a.client.cfg.Account,
	})
}

func (a *Adapter) MarketSell(ctx context.Context, pair, amount string) (string, error) {
	// Gate takes base units for spot market sells.
	return a.placeOrder(ctx, pair, orderRequest{
		CurrencyPair: pair,
		Type:         "market",
		Side:         "sell",
		Amount:       amount,
		TimeInForce:  "ioc",
		Account:      a.client.cfg.Account,
	})
}

func (a *Adapter) placeOrder(ctx context.Context, pair string, body orderRequest) (string, error) {
	var res struct {
		ID      string `json:"id"`
		OrderID string `json:"order_id"`
	}
	if err := a.client.signed(ctx, http.MethodPost, "/spot/orders", nil, body, &res); err != nil {
		var ee *exchange.Error
		if errors.As(err, &ee) && ee.Code == exchange.CodeHTTPStatus && !ee.Transient {
			return "", exchange.NewOrderRejected("gate", pair, ee.Message)
		}
		return "", err
	}
	id := res.ID
	if id == "" {
		id = res.OrderID
	}
	if id == "" {
		return "", exchange.NewEmptyOrderID("gate", pair)
	}
	return id, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, pair, orderID string) error {
	q := url.Values{"currency_pair": {pair}}
	return a.client.signed(ctx, http.MethodDelete, "/spot/orders/"+orderID, q, nil, nil)
}

func (a *Adapter) CancelAllOrders(ctx context.Context, pair string) error {
	q := url.Values{"currency_pair": {pair}}
	return a.client.signed(ctx, http.MethodDelete, "/spot/orders", q, nil, nil)
}

type orderReply struct {
	ID           string `json:"id"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Left         string `json:"left"`
	Status       string `json:"status"`
	CreateTime   string `json:"create_time"`
}

func (o orderReply) normalize(pair string) exchange.Order {
	amount := parseDecimal(o.Amount)
	if o.CurrencyPair != "" {
		pair = o.CurrencyPair
	}
	return exchange.Order{
		ID:      o.ID,
		Pair:    pair,
		Side:    o.Side,
		Price:   parseDecimal(o.Price),
		Amount:  amount,
		Filled:  amount.Sub(parseDecimal(o.Left)),
		Status:  o.Status,
		Created: parseEpoch(o.CreateTime),
	}
}

func (a *Adapter) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	q := url.Values{"currency_pair": {pair}, "status": {"open"}}
	var res []orderReply
	if err := a.client.signed(ctx, http.MethodGet, "/spot/orders", q, nil, &res); err != nil {
		return nil, err
	}
	out := make([]exchange.Order, 0, len(res))
	for _, o := range res {
		out = append(out, o.normalize(pair))
	}
	return out, nil
}

func (a *Adapter) OrderDetail(ctx context.Context, pair, orderID string) (exchange.Order, error) {
	q := url.Values{"currency_pair": {pair}}
	var res orderReply
	if err := a.client.signed(ctx, http.MethodGet, "/spot/orders/"+orderID, q, nil, &res); err != nil {
		return exchange.Order{}, err
	}
	return res.normalize(pair), nil
}

func (a *Adapter) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	q := url.Values{"currency": {asset}}
	var res []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := a.client.signed(ctx, http.MethodGet, "/spot/accounts", q, nil, &res); err != nil {
		return decimal.Zero, err
	}
	for _, acc := range res {
		if strings.EqualFold(acc.Currency, asset) {
			return parseDecimal(acc.Available), nil
		}
	}
	return decimal.Zero, nil
}

func (a *Adapter) Trades(ctx context.Context, pair string, from, to time.Time, limit int) ([]exchange.Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	q := url.Values{
		"currency_pair": {pair},
		"limit":         {strconv.Itoa(limit)},
	}
	var res []struct {
		ID          string `json:"id"`
		OrderID     string `json:"order_id"`
		CreateTime  string `json:"create_time"`
		Side        string `json:"side"`
		Amount      string `json:"amount"`
		Price       string `json:"price"`
		Fee         string `json:"fee"`
		FeeCurrency string `json:"fee_currency"`
	}
	if err := a.client.signed(ctx, http.MethodGet, "/spot/my_trades", q, nil, &res); err != nil {
		return nil, err
	}

	out := make([]exchange.Trade, 0, len(res))
	for _, t := range res {
		ts := parseEpoch(t.CreateTime)
		if ts.IsZero() || ts.Before(from) || ts.After(to) {
			continue
		}
		out = append(out, exchange.Trade{
			ID:          t.ID,
			OrderID:     t.OrderID,
			Pair:        pair,
			Side:        strings.ToLower(t.Side),
			Price:       parseDecimal(t.Price),
			Amount:      parseDecimal(t.Amount),
			Fee:         parseDecimal(t.Fee),
			FeeCurrency: t.FeeCurrency,
			Time:        ts,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// parseDecimal reads an exchange decimal string, zero when absent or broken.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseEpoch reads an epoch string in seconds or milliseconds.
func parseEpoch(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	if n > 10_000_000_000 {
		n /= 1000
	}
	return time.Unix(n, 0).UTC()
}
