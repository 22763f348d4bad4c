// Package gate implements the Gate.io spot APIv4 adapter.
package gate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

// Config holds Gate.io credentials and connection settings.
type Config struct {
	APIKey    string
	APISecret string
	// Host is the full base URL including the /api/v4 prefix. Empty picks
	// the production host.
	Host string
	// Account is the account name sent with orders ("spot", "unified").
	// Empty lets the exchange pick its default.
	Account string
	Timeout time.Duration
}

// Client is a thin Gate.io APIv4 REST client. Signed requests carry the
// KEY/Timestamp/SIGN header triple; the signature is HMAC-SHA512 over
// method, path, query, body hash and timestamp, each on its own line.
type Client struct {
	cfg        Config
	baseURL    string
	signPrefix string
	httpClient *http.Client
	limiter    *rate.Limiter

	now func() time.Time
}

// NewClient builds a client for one credential set.
func NewClient(cfg Config) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "https://api.gateio.ws/api/v4"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	// The signature covers the path as seen by the exchange, so the /api/v4
	// prefix baked into the host must be part of the signed path.
	prefix := ""
	if u, err := url.Parse(host); err == nil {
		prefix = u.Path
	}
	return &Client{
		cfg:        cfg,
		baseURL:    host,
		signPrefix: prefix,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		now:        time.Now,
	}
}

// get performs an unsigned GET and decodes the JSON reply into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, false, out)
}

// signed performs an authenticated request. body (when non-nil) is sent as
// compact JSON; out may be nil for calls whose reply is irrelevant.
func (c *Client) signed(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.do(ctx, method, path, query, body, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, sign bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := ""
	if len(query) > 0 {
		q = query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
	}

	endpoint := c.baseURL + path
	if q != "" {
		endpoint += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sign {
		ts := strconv.FormatInt(c.now().Unix(), 10)
		req.Header.Set("KEY", c.cfg.APIKey)
		req.Header.Set("Timestamp", ts)
		req.Header.Set("SIGN", c.sign(method, c.signPrefix+path, q, payload, ts))
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return exchange.NewTransient("gate", fmt.Sprintf("read %s %s reply: %v", method, path, err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return exchange.NewHTTPStatus("gate", res.StatusCode, apiErrorText(method, path, data))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return exchange.NewBadResponse("gate", fmt.Sprintf("decode %s %s reply: %v", method, path, err))
	}
	return nil
}

func (c *Client) sign(method, pathWithPrefix, query string, body []byte, ts string) string {
	bodySum := sha512.Sum512(body)
	raw := strings.Join([]string{
		method,
		pathWithPrefix,
		query,
		hex.EncodeToString(bodySum[:]),
		ts,
	}, "\n")
	mac := hmac.New(sha512.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiErrorText renders a Gate error reply ({"label","message"}) for humans,
// falling back to the raw body.
func apiErrorText(method, path string, body []byte) string {
	var e struct {
		Label   string `json:"label"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &e)
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if e.Label != "" {
		msg = e.Label + ": " + msg
	}
	return fmt.Sprintf("%s %s: %s", method, path, msg)
}
