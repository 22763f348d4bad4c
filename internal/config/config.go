// Package config loads the bot configuration from environment variables,
// with .env support for local runs.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Exchange holds the per-exchange connection settings.
type Exchange struct {
	Code        string
	APIKey      string
	APISecret   string
	Host        string
	AccountType string
	Testnet     bool
}

// Config is the process-wide configuration, parsed once at startup and
// passed explicitly. No package-level state.
type Config struct {
	Testnet         bool
	DefaultExchange string
	Codes           []string
	Exchanges       map[string]Exchange

	// Seed values for the first pair row when the store is empty.
	Pair         string
	DeviationPct decimal.Decimal
	Quote        decimal.Decimal
	LotSizeBase  decimal.Decimal
	GapMode      string
	GapSwitchPct decimal.Decimal

	DrainBaseSleep time.Duration
	DrainMaxSleep  time.Duration
	DrainMaxWait   time.Duration

	NextBarBuffer  time.Duration
	RequestTimeout time.Duration
	MaxRetries     int

	DatabaseURL string
	SQLitePath  string

	TelemetryEnabled bool
	TelegramToken    string
	TelegramChatID   string
	TelegramThreadID string
	AppName          string
	EnvName          string

	HeartbeatEvery    time.Duration
	SilenceAlertAfter time.Duration

	MetricsAddr string
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Testnet:         envBool("TESTNET", true),
		DefaultExchange: strings.ToLower(envStr("DEFAULT_EXCHANGE", "gate")),

		Pair:         strings.ToUpper(envStr("PAIR", "BTC_USDT")),
		DeviationPct: envDecimal("DEVIATION_PCT", "3.0"),
		Quote:        envDecimal("QUOTE", "0"),
		LotSizeBase:  envDecimal("LOT_SIZE_BASE", "0"),
		GapMode:      strings.ToLower(envStr("GAP_MODE", "down_only")),
		GapSwitchPct: envDecimal("GAP_SWITCH_PCT", "1.0"),

		DrainBaseSleep: envSeconds("SELL_DRAIN_SLEEP", 0.8),
		DrainMaxSleep:  envSeconds("DRAIN_SLEEP_MAX", 2.5),
		DrainMaxWait:   envSeconds("DRAIN_MAX_SECONDS", 30),

		NextBarBuffer:  envSeconds("NEXT_BAR_BUFFER_SEC", 1.4),
		RequestTimeout: envSeconds("REQ_TIMEOUT", 12),
		MaxRetries:     envInt("MAX_RETRIES", 2),

		DatabaseURL: envStr("DATABASE_URL", ""),
		SQLitePath:  envStr("SQLITE_PATH", "./data/bot.db"),

		TelemetryEnabled: envBool("TELEMETRY_ENABLED", true),
		TelegramToken:    envStr("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   envStr("TELEGRAM_CHAT_ID", ""),
		TelegramThreadID: envStr("TELEGRAM_THREAD_ID", ""),
		AppName:          envStr("APP_NAME", "DipBot"),
		EnvName:          envStr("ENV", "local"),

		HeartbeatEvery:    envSeconds("HEARTBEAT_EVERY_SEC", 3600),
		SilenceAlertAfter: envSeconds("SILENCE_ALERT_SEC", 5400),

		MetricsAddr: envStr("METRICS_ADDR", ""),
	}

	for _, c := range strings.Split(envStr("EXCH_LIST", "gate,htx"), ",") {
		code := strings.ToLower(strings.TrimSpace(c))
		if code != "" && !slices.Contains(cfg.Codes, code) {
			cfg.Codes = append(cfg.Codes, code)
		}
	}
	if cfg.DefaultExchange == "" {
		cfg.DefaultExchange = "gate"
	}
	if !slices.Contains(cfg.Codes, cfg.DefaultExchange) {
		cfg.Codes = append([]string{cfg.DefaultExchange}, cfg.Codes...)
	}

	cfg.Exchanges = make(map[string]Exchange, len(cfg.Codes))
	for _, code := range cfg.Codes {
		u := strings.ToUpper(code)
		ex := Exchange{
			Code:        code,
			APIKey:      envStr(u+"_API_KEY", ""),
			APISecret:   envStr(u+"_API_SECRET", ""),
			Host:        envStr(u+"_HOST", ""),
			AccountType: envStr(u+"_ACCOUNT_TYPE", ""),
			Testnet:     envBool(u+"_TESTNET", false),
		}
		// Gate testnet selection follows the global flag.
		if code == "gate" {
			ex.Testnet = cfg.Testnet
		}
		if ex.Host == "" {
			ex.Host = defaultHost(code, ex.Testnet)
		}
		cfg.Exchanges[code] = ex
	}

	switch cfg.GapMode {
	case "off", "down_only", "symmetric":
	default:
		return nil, fmt.Errorf("GAP_MODE %q: want off, down_only or symmetric", cfg.GapMode)
	}

	return cfg, nil
}

// Exchange returns the settings for one code; unknown codes get an empty
// entry so optional exchanges stay optional.
func (c *Config) Exchange(code string) Exchange {
	code = strings.ToLower(strings.TrimSpace(code))
	if ex, ok := c.Exchanges[code]; ok {
		return ex
	}
	return Exchange{Code: code}
}

func defaultHost(code string, testnet bool) string {
	switch code {
	case "gate":
		if testnet {
			return "https://api-testnet.gateapi.io/api/v4"
		}
		return "https://api.gateio.ws/api/v4"
	case "htx":
		return "https://api.huobi.pro"
	}
	// Bybit hosts are owned by its SDK; unknown codes have no default.
	return ""
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def float64) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			def = f
		}
	}
	return time.Duration(def * float64(time.Second))
}

func envDecimal(key, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d = decimal.RequireFromString(def)
	}
	return d
}
