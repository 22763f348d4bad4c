// Package htx implements the HTX (Huobi) spot adapter.
package htx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

// Config holds HTX credentials and connection settings.
type Config struct {
	APIKey    string
	APISecret string
	// Host overrides the REST base URL. Empty picks api.huobi.pro.
	Host    string
	Timeout time.Duration
}

// Client is an HTX spot REST client. Authenticated calls use Signature V2:
// HMAC-SHA256 over method, host, path and the sorted query, base64 encoded
// and appended as the Signature parameter.
type Client struct {
	cfg        Config
	baseURL    string
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter

	now func() time.Time
}

// NewClient builds a client for one credential set.
func NewClient(cfg Config) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "https://api.huobi.pro"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	bare := host
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		bare = u.Host
	}
	return &Client{
		cfg:        cfg,
		baseURL:    host,
		host:       bare,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		now:        time.Now,
	}
}

// envelope is the common HTX reply wrapper. v1 endpoints signal failures
// via status plus err-code/err-msg; market endpoints carry the payload in
// tick instead of data.
type envelope struct {
	Status  string          `json:"status"`
	ErrCode string          `json:"err-code"`
	ErrMsg  string          `json:"err-msg"`
	Data    json.RawMessage `json:"data"`
	Tick    json.RawMessage `json:"tick"`
}

func (e envelope) ok() bool { return e.Status == "" || e.Status == "ok" }

func (e envelope) errText() string {
	if e.ErrCode == "" && e.ErrMsg == "" {
		return "status " + e.Status
	}
	return strings.TrimSpace(e.ErrCode + ": " + e.ErrMsg)
}

func (c *Client) public(ctx context.Context, path string, params url.Values) (envelope, error) {
	return c.request(ctx, http.MethodGet, path, params, nil, false)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values, body any) (envelope, error) {
	return c.request(ctx, method, path, params, body, true)
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, sign bool) (envelope, error) {
	var env envelope
	if err := c.limiter.Wait(ctx); err != nil {
		return env, err
	}

	if params == nil {
		params = url.Values{}
	}
	if sign {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return env, errors.New("htx: api key/secret not configured")
		}
		params.Set("AccessKeyId", c.cfg.APIKey)
		params.Set("SignatureMethod", "HmacSHA256")
		params.Set("SignatureVersion", "2")
		params.Set("Timestamp", c.now().UTC().Format("2006-01-02T15:04:05"))
		// The signature covers everything but itself.
		params.Set("Signature", c.sign(method, path, params))
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return env, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return env, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return env, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return env, exchange.NewTransient("htx", fmt.Sprintf("read %s %s reply: %v", method, path, err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return env, exchange.NewHTTPStatus("htx", res.StatusCode,
			fmt.Sprintf("%s %s: %s", method, path, strings.TrimSpace(string(data))))
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, exchange.NewBadResponse("htx", fmt.Sprintf("decode %s %s reply: %v", method, path, err))
	}
	return env, nil
}

func (c *Client) sign(method, path string, params url.Values) string {
	canonical := strings.Join([]string{method, c.host, path, params.Encode()}, "\n")
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
