package htx

import (
	"context"
	"encoding/json"
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

// Adapter implements exchange.Adapter for HTX spot.
type Adapter struct {
	client *Client

	mu     sync.Mutex
	acctID string
	rules  map[string]exchange.SymbolRules
}

// New builds the HTX spot adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		client: NewClient(cfg),
		rules:  make(map[string]exchange.SymbolRules),
	}
}

func (a *Adapter) Name() string { return "htx" }

// toSymbol maps BTC_USDT to the HTX form btcusdt.
func toSymbol(pair string) string {
	return strings.ToLower(strings.ReplaceAll(pair, "_", ""))
}

func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	env, err := a.client.public(ctx, "/v1/common/timestamp", nil)
	if err != nil {
		return 0, err
	}
	if !env.ok() {
		return 0, exchange.NewBadResponse("htx", "server time: "+env.errText())
	}
	var ms int64
	if err := json.Unmarshal(env.Data, &ms); err != nil {
		return 0, exchange.NewBadResponse("htx", "server time payload: "+err.Error())
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

	env, err := a.client.public(ctx, "/v1/common/symbols", nil)
	if err != nil {
		return exchange.SymbolRules{}, err
	}
	if !env.ok() {
		return exchange.SymbolRules{}, exchange.NewBadResponse("htx", "symbols: "+env.errText())
	}
	var list []struct {
		Symbol          string      `json:"symbol"`
		PricePrecision  json.Number `json:"price-precision"`
		AmountPrecision json.Number `json:"amount-precision"`
		MinOrderAmt     json.Number `json:"min-order-amt"`
		MinOrderValue   json.Number `json:"min-order-value"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return exchange.SymbolRules{}, exchange.NewBadResponse("htx", "symbols payload: "+err.Error())
	}

	sym := toSymbol(pair)
	for _, it := range list {
		if !strings.EqualFold(it.Symbol, sym) {
			continue
		}
		r = exchange.SymbolRules{
			PricePrecision:  numInt32(it.PricePrecision, 8),
			AmountPrecision: numInt32(it.AmountPrecision, 8),
			MinBase:         numDecimal(it.MinOrderAmt),
			MinQuote:        numDecimal(it.MinOrderValue),
		}
		a.mu.Lock()
		a.rules[pair] = r
		a.mu.Unlock()
		return r, nil
	}
	return exchange.SymbolRules{}, exchange.NewSymbolNotFound("htx", pair)
}

func (a *Adapter) LastPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	params := url.Values{"symbol": {toSymbol(pair)}}
	env, err := a.client.public(ctx, "/market/detail/merged", params)
	if err != nil {
		return decimal.Zero, err
	}
	if !env.ok() || len(env.Tick) == 0 {
		return decimal.Zero, exchange.NewMarketDataUnavailable("htx", pair, "merged detail: "+env.errText())
	}
	var tick struct {
		Close json.Number `json:"close"`
	}
	if err := json.Unmarshal(env.Tick, &tick); err != nil {
		return decimal.Zero, exchange.NewBadResponse("htx", "merged detail payload: "+err.Error())
	}
	last := numDecimal(tick.Close)
	if last.Sign() <= 0 {
		return decimal.Zero, exchange.NewBadResponse("htx", "merged detail close "+strconv.Quote(tick.Close.String()))
	}
	return last, nil
}

func (a *Adapter) PrevMinuteClose(ctx context.Context, pair string) (decimal.Decimal, error) {
	params := url.Values{
		"symbol": {toSymbol(pair)},
		"period": {"1min"},
		"size":   {"2"},
	}
	env, err := a.client.public(ctx, "/market/history/kline", params)
	if err != nil {
		return decimal.Zero, err
	}
	if !env.ok() {
		return decimal.Zero, exchange.NewMarketDataUnavailable("htx", pair, "kline: "+env.errText())
	}
	var candles []struct {
		Close json.Number `json:"close"`
	}
	if err := json.Unmarshal(env.Data, &candles); err != nil {
		return decimal.Zero, exchange.NewBadResponse("htx", "kline payload: "+err.Error())
	}
	// Candles arrive newest first; index 0 is the still-forming minute.
	if len(candles) < 2 {
		return decimal.Zero, exchange.NewMarketDataUnavailable("htx", pair, "not enough candles for previous close")
	}
	prevClose := numDecimal(candles[1].Close)
	if prevClose.Sign() <= 0 {
		return decimal.Zero, exchange.NewBadResponse("htx", "kline close "+strconv.Quote(candles[1].Close.String()))
	}
	return prevClose, nil
}

// accountID resolves and caches the spot account id. HTX scopes every
// order call to an account; the first working spot account wins.
func (a *Adapter) accountID(ctx context.Context) (string, error) {
	a.mu.Lock()
	id := a.acctID
	a.mu.Unlock()
	if id != "" {
		return id, nil
	}

	env, err := a.client.signed(ctx, http.MethodGet, "/v1/account/accounts", nil, nil)
	if err != nil {
		return "", err
	}
	if !env.ok() {
		return "", exchange.NewBadResponse("htx", "accounts: "+env.errText())
	}
	var accounts []struct {
		ID    json.Number `json:"id"`
		Type  string      `json:"type"`
		State string      `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &accounts); err != nil {
		return "", exchange.NewBadResponse("htx", "accounts payload: "+err.Error())
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Type, "spot") && strings.EqualFold(acc.State, "working") {
			id = acc.ID.String()
			break
		}
	}
	if id == "" {
		for _, acc := range accounts {
			if strings.EqualFold(acc.State, "working") {
				id = acc.ID.String()
				break
			}
		}
	}
	if id == "" {
		return "", exchange.NewBadResponse("htx", "no working account found")
	}

	a.mu.Lock()
	a.acctID = id
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	id, err := a.accountID(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	env, err := a.client.signed(ctx, http.MethodGet, "/v1/account/accounts/"+id+"/balance", nil, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if !env.ok() {
		return decimal.Zero, exchange.NewBadResponse("htx", "balance: "+env.errText())
	}
	var data struct {
		List []struct {
			Currency string `json:"currency"`
			Type     string `json:"type"`
			Balance  string `json:"balance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return decimal.Zero, exchange.NewBadResponse("htx", "balance payload: "+err.Error())
	}
	// Only the trade bucket is spendable; frozen sits in open orders.
	total := decimal.Zero
	for _, row := range data.List {
		if row.Type == "trade" && strings.EqualFold(row.Currency, asset) {
			total = total.Add(parseDecimal(row.Balance))
		}
	}
	return total, nil
}

type orderRequest struct {
	AccountID string `json:"account-id"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Amount    string `json:"amount"`
}

func (a *Adapter) PlaceLimitBuy(ctx context.Context, pair, price, amount string) (string, error) {
	id, err := a.accountID(ctx)
	if err != nil {
		return "", err
	}
	return a.placeOrder(ctx, pair, orderRequest{
		AccountID: id,
		Symbol:    toSymbol(pair),
		Type:      "buy-limit",
		Price:     price,
		Amount:    amount,
	})
}

func (a *Adapter) MarketSell(ctx context.Context, pair, amount string) (string, error) {
	id, err := a.accountID(ctx)
	if err != nil {
		return "", err
	}
	// Spot sell-market amount is in base units.
	return a.placeOrder(ctx, pair, orderRequest{
		AccountID: id,
		Symbol:    toSymbol(pair),
		Type:      "sell-market",
		Amount:    amount,
	})
}

func (a *Adapter) placeOrder(ctx context.Context, pair string, body orderRequest) (string, error) {
	env, err := a.client.signed(ctx, http.MethodPost, "/v1/order/orders/place", nil, body)
	if err != nil {
		return "", err
	}
	if !env.ok() {
		return "", exchange.NewOrderRejected("htx", pair, env.errText())
	}
	var orderID string
	if err := json.Unmarshal(env.Data, &orderID); err != nil {
		return "", exchange.NewBadResponse("htx", "place order payload: "+err.Error())
	}
	if orderID == "" {
		return "", exchange.NewEmptyOrderID("htx", pair)
	}
	return orderID, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, pair, orderID string) error {
	env, err := a.client.signed(ctx, http.MethodPost, "/v1/order/orders/"+orderID+"/submitcancel", nil, nil)
	if err != nil {
		return err
	}
	if !env.ok() {
		return exchange.NewBadResponse("htx", "cancel "+orderID+": "+env.errText())
	}
	return nil
}

func (a *Adapter) CancelAllOrders(ctx context.Context, pair string) error {
	id, err := a.accountID(ctx)
	if err != nil {
		return err
	}
	body := struct {
		AccountID string `json:"account-id"`
		Symbol    string `json:"symbol"`
	}{AccountID: id, Symbol: toSymbol(pair)}
	env, err := a.client.signed(ctx, http.MethodPost, "/v1/order/orders/batchCancelOpenOrders", nil, body)
	if err != nil {
		return err
	}
	if !env.ok() {
		return exchange.NewBadResponse("htx", "cancel all: "+env.errText())
	}
	return nil
}

type orderReply struct {
	ID           json.Number `json:"id"`
	Symbol       string      `json:"symbol"`
	Type         string      `json:"type"`
	Price        string      `json:"price"`
	Amount       string      `json:"amount"`
	FilledAmount string      `json:"filled-amount"`
	FieldAmount  string      `json:"field-amount"`
	State        string      `json:"state"`
	CreatedAt    json.Number `json:"created-at"`
}

func (o orderReply) normalize(pair string) exchange.Order {
	side, _, _ := strings.Cut(o.Type, "-")
	filled := o.FilledAmount
	if filled == "" {
		filled = o.FieldAmount
	}
	return exchange.Order{
		ID:      o.ID.String(),
		Pair:    pair,
		Side:    side,
		Price:   parseDecimal(o.Price),
		Amount:  parseDecimal(o.Amount),
		Filled:  parseDecimal(filled),
		Status:  o.State,
		Created: msTime(o.CreatedAt),
	}
}

func (a *Adapter) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	id, err := a.accountID(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"account-id": {id},
		"symbol":     {toSymbol(pair)},
	}
	env, err := a.client.signed(ctx, http.MethodGet, "/v1/order/openOrders", params, nil)
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		return nil, exchange.NewBadResponse("htx", "open orders: "+env.errText())
	}
	var list []orderReply
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, exchange.NewBadResponse("htx", "open orders payload: "+err.Error())
	}
	out := make([]exchange.Order, 0, len(list))
	for _, o := range list {
		out = append(out, o.normalize(pair))
	}
	return out, nil
}

func (a *Adapter) OrderDetail(ctx context.Context, pair, orderID string) (exchange.Order, error) {
	env, err := a.client.signed(ctx, http.MethodGet, "/v1/order/orders/"+orderID, nil, nil)
	if err != nil {
		return exchange.Order{}, err
	}
	if !env.ok() {
		return exchange.Order{}, exchange.NewBadResponse("htx", "order "+orderID+": "+env.errText())
	}
	var o orderReply
	if err := json.Unmarshal(env.Data, &o); err != nil {
		return exchange.Order{}, exchange.NewBadResponse("htx", "order payload: "+err.Error())
	}
	return o.normalize(pair), nil
}

func (a *Adapter) Trades(ctx context.Context, pair string, from, to time.Time, limit int) ([]exchange.Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	params := url.Values{
		"symbol":     {toSymbol(pair)},
		"start-time": {strconv.FormatInt(from.UnixMilli(), 10)},
		"end-time":   {strconv.FormatInt(to.UnixMilli(), 10)},
		"size":       {strconv.Itoa(limit)},
	}
	env, err := a.client.signed(ctx, http.MethodGet, "/v1/order/matchresults", params, nil)
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		return nil, exchange.NewBadResponse("htx", "match results: "+env.errText())
	}
	var list []struct {
		ID           json.Number `json:"id"`
		OrderID      json.Number `json:"order-id"`
		Type         string      `json:"type"`
		Price        string      `json:"price"`
		FilledAmount string      `json:"filled-amount"`
		FilledFees   string      `json:"filled-fees"`
		FeeCurrency  string      `json:"fee-currency"`
		CreatedAt    json.Number `json:"created-at"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, exchange.NewBadResponse("htx", "match results payload: "+err.Error())
	}

	out := make([]exchange.Trade, 0, len(list))
	for _, t := range list {
		side, _, _ := strings.Cut(t.Type, "-")
		out = append(out, exchange.Trade{
			ID:          t.ID.String(),
			OrderID:     t.OrderID.String(),
			Pair:        pair,
			Side:        side,
			Price:       parseDecimal(t.Price),
			Amount:      parseDecimal(t.FilledAmount),
			Fee:         parseDecimal(t.FilledFees),
			FeeCurrency: strings.ToUpper(t.FeeCurrency),
			Time:        msTime(t.CreatedAt),
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

func numInt32(n json.Number, def int32) int32 {
	v, err := n.Int64()
	if err != nil {
		return def
	}
	return int32(v)
}

func numDecimal(n json.Number) decimal.Decimal {
	return parseDecimal(n.String())
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func msTime(n json.Number) time.Time {
	ms, err := n.Int64()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
