package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

func TestToSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toSymbol("BTC_USDT"))
	assert.Equal(t, "DOGEUSDT", toSymbol("doge_usdt"))
}

func TestStepPrecision(t *testing.T) {
	tests := []struct {
		step string
		want int32
	}{
		{"0.01", 2},
		{"0.000001", 6},
		{"1", 0},
		{"0.10", 1},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stepPrecision(tt.step), "step %q", tt.step)
	}
}

func TestDecodeResult_RetCodeFailure(t *testing.T) {
	resp := &bybit_api.ServerResponse{RetCode: 170131, RetMsg: "Insufficient balance"}

	err := decodeResult(resp, nil)
	require.Error(t, err)
	assert.False(t, exchange.IsTransient(err), "business retCodes must not be retried")
	assert.Contains(t, err.Error(), "Insufficient balance")
}

func TestDecodeResult_RateLimitIsTransient(t *testing.T) {
	resp := &bybit_api.ServerResponse{RetCode: 10006, RetMsg: "Too many visits"}

	err := decodeResult(resp, nil)
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err))
}

func TestDecodeResult_DecodesPayload(t *testing.T) {
	resp := &bybit_api.ServerResponse{
		RetCode: 0,
		Result:  map[string]interface{}{"orderId": "123abc"},
	}

	var out struct {
		OrderID string `json:"orderId"`
	}
	require.NoError(t, decodeResult(resp, &out))
	assert.Equal(t, "123abc", out.OrderID)
}

// newTestAdapter points the SDK client at a local server speaking the v5
// reply envelope.
func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
	})
}

func v5OK(result string) string {
	return `{"retCode":0,"retMsg":"OK","result":` + result + `,"retExtInfo":{},"time":1722222222123}`
}

func TestSymbolRules_FromInstrumentFilters(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/instruments-info", r.URL.Path)
		require.Equal(t, "spot", r.URL.Query().Get("category"))
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(v5OK(`{"category":"spot","list":[{
			"symbol":"BTCUSDT",
			"priceFilter":{"tickSize":"0.01"},
			"lotSizeFilter":{"basePrecision":"0.000001","minOrderQty":"0.000048","minOrderAmt":"1"}
		}]}`)))
	}))

	r, err := a.SymbolRules(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.PricePrecision)
	assert.Equal(t, int32(6), r.AmountPrecision)
	assert.Equal(t, "0.000048", r.MinBase.String())
	assert.Equal(t, "1", r.MinQuote.String())
}

func TestSymbolRules_UnknownSymbol(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(v5OK(`{"category":"spot","list":[]}`)))
	}))

	_, err := a.SymbolRules(context.Background(), "NOPE_USDT")
	assert.True(t, exchange.IsCode(err, exchange.CodeSymbolNotFound))
}

func TestPrevMinuteClose_SkipsFormingCandle(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/kline", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("interval"))
		// Newest first: head row is the live minute.
		_, _ = w.Write([]byte(v5OK(`{"category":"spot","symbol":"BTCUSDT","list":[
			["1722222240000","64050","64300","64000","64999.9","0.2","12819"],
			["1722222180000","64000","64100","63900","64000.1","0.5","32050"]
		]}`)))
	}))

	prevClose, err := a.PrevMinuteClose(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, "64000.1", prevClose.String())
}

func TestLastPrice(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/tickers", r.URL.Path)
		_, _ = w.Write([]byte(v5OK(`{"category":"spot","list":[{"symbol":"BTCUSDT","lastPrice":"64321.5"}]}`)))
	}))

	last, err := a.LastPrice(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, "64321.5", last.String())
}

func TestPlaceLimitBuy(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/order/create", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "spot", body["category"])
		assert.Equal(t, "BTCUSDT", body["symbol"])
		assert.Equal(t, "Buy", body["side"])
		assert.Equal(t, "Limit", body["orderType"])
		assert.Equal(t, "62000.00", body["price"])
		assert.Equal(t, "0.0016", body["qty"])
		assert.Equal(t, "GTC", body["timeInForce"])
		_, _ = w.Write([]byte(v5OK(`{"orderId":"1321003749386327552","orderLinkId":""}`)))
	}))

	id, err := a.PlaceLimitBuy(context.Background(), "BTC_USDT", "62000.00", "0.0016")
	require.NoError(t, err)
	assert.Equal(t, "1321003749386327552", id)
}

func TestMarketSell_RejectionMapsToOrderRejected(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":170131,"retMsg":"Insufficient balance.","result":{},"retExtInfo":{},"time":1722222222123}`))
	}))

	_, err := a.MarketSell(context.Background(), "BTC_USDT", "0.5")
	require.Error(t, err)
	assert.True(t, exchange.IsCode(err, exchange.CodeOrderRejected))
}

func TestAvailableBalance_FallsBackToWalletMinusLocked(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/account/wallet-balance", r.URL.Path)
		require.Equal(t, "UNIFIED", r.URL.Query().Get("accountType"))
		_, _ = w.Write([]byte(v5OK(`{"list":[{"accountType":"UNIFIED","coin":[
			{"coin":"USDT","walletBalance":"150.5","availableToWithdraw":"","locked":"50"}
		]}]}`)))
	}))

	avail, err := a.AvailableBalance(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, "100.5", avail.String())
}

func TestTrades_AggregatesFilledOrders(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/order/history", r.URL.Path)
		_, _ = w.Write([]byte(v5OK(`{"category":"spot","list":[
			{"orderId":"2","side":"Sell","price":"0","avgPrice":"64100.5","qty":"0.001","cumExecQty":"0.001","cumExecFee":"0.064","orderStatus":"Filled","createdTime":"1722222300000","updatedTime":"1722222301000"},
			{"orderId":"1","side":"Buy","price":"64000","avgPrice":"64000","qty":"0.002","cumExecQty":"0.002","cumExecFee":"0.000002","orderStatus":"Filled","createdTime":"1722222240000","updatedTime":"1722222241000"},
			{"orderId":"3","side":"Buy","price":"61000","avgPrice":"0","qty":"0.002","cumExecQty":"0","cumExecFee":"0","orderStatus":"Cancelled","createdTime":"1722222240000","updatedTime":"1722222242000"}
		]}`)))
	}))

	from := time.Unix(1722222000, 0).UTC()
	to := time.Unix(1722222600, 0).UTC()
	trades, err := a.Trades(context.Background(), "BTC_USDT", from, to, 50)
	require.NoError(t, err)

	require.Len(t, trades, 2, "unfilled orders must not produce trades")
	assert.Equal(t, "1", trades[0].ID)
	assert.Equal(t, "BTC", trades[0].FeeCurrency, "spot buys pay fees in base")
	assert.Equal(t, "2", trades[1].ID)
	assert.Equal(t, "USDT", trades[1].FeeCurrency)
	assert.Equal(t, "64100.5", trades[1].Price.String())
}
