// Package bybit implements the Bybit v5 unified-trading spot adapter on top
// of the official SDK client.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

// Config holds Bybit credentials and environment selection.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// AccountType is the wallet account type, default UNIFIED.
	AccountType string
	// BaseURL overrides the SDK host. Used by tests.
	BaseURL string
}

// Client wraps the SDK client together with the account settings the
// adapter calls need.
type Client struct {
	httpClient  *bybit_api.Client
	accountType string
	testnet     bool
}

// NewClient creates a Bybit client for the selected environment.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Testnet {
			baseURL = bybit_api.TESTNET
		} else {
			baseURL = bybit_api.MAINNET
		}
	}
	acct := strings.ToUpper(strings.TrimSpace(cfg.AccountType))
	if acct == "" {
		acct = "UNIFIED"
	}
	return &Client{
		httpClient: bybit_api.NewBybitHttpClient(
			cfg.APIKey,
			cfg.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		accountType: acct,
		testnet:     cfg.Testnet,
	}
}

// IsTestnet returns whether the client targets the testnet environment.
func (c *Client) IsTestnet() bool { return c.testnet }

// decodeResult unwraps a v5 envelope, turns retCode failures into typed
// errors and decodes the result payload into out (out may be nil).
func decodeResult(response any, out any) error {
	resp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return exchange.NewBadResponse("bybit", "unexpected response type")
	}
	if resp.RetCode != 0 {
		return &exchange.Error{
			Code:      exchange.CodeBadResponse,
			Exchange:  "bybit",
			Message:   fmt.Sprintf("%s (retCode %d)", resp.RetMsg, resp.RetCode),
			Transient: transientRetCode(resp.RetCode),
		}
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return exchange.NewBadResponse("bybit", "marshal result: "+err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return exchange.NewBadResponse("bybit", "decode result: "+err.Error())
	}
	return nil
}

// transientRetCode reports retCodes worth retrying: 10002 timestamp drift,
// 10006 rate limit, 10016 internal error.
func transientRetCode(code int) bool {
	return code == 10002 || code == 10006 || code == 10016
}

// envelopeTime extracts the server timestamp (ms) every v5 reply carries.
func envelopeTime(response any) (int64, error) {
	resp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return 0, exchange.NewBadResponse("bybit", "unexpected response type")
	}
	return resp.Time, nil
}

// stepPrecision derives decimal places from a filter step like "0.01".
func stepPrecision(step string) int32 {
	step = strings.TrimSpace(step)
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return int32(len(strings.TrimRight(step[i+1:], "0")))
	}
	return 0
}
