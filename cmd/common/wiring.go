// Package common wires the pieces both binaries share: the logger, the
// exchange registry with the retry policy applied, and the operator notifier.
package common

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/trungnq137/crypto-dip-bot/internal/config"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange/bybit"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange/gate"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange/htx"
	"github.com/trungnq137/crypto-dip-bot/internal/telemetry"
)

// NewLogger builds the process logger writing to w.
func NewLogger(w *os.File, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// BuildRegistry registers a retry-wrapped adapter factory for every
// configured exchange code. Construction stays lazy; no network happens here.
func BuildRegistry(cfg *config.Config, policy exchange.Policy) (*exchange.Registry, error) {
	reg := exchange.NewRegistry()
	for _, code := range cfg.Codes {
		f, err := factory(code, cfg, policy)
		if err != nil {
			return nil, err
		}
		reg.Register(code, f)
	}
	return reg, nil
}

func factory(code string, cfg *config.Config, policy exchange.Policy) (exchange.Factory, error) {
	ex := cfg.Exchange(code)
	switch code {
	case "gate":
		return func() (exchange.Adapter, error) {
			return exchange.WithRetry(gate.New(gate.Config{
				APIKey:    ex.APIKey,
				APISecret: ex.APISecret,
				Host:      ex.Host,
				Account:   ex.AccountType,
				Timeout:   cfg.RequestTimeout,
			}), policy), nil
		}, nil
	case "htx":
		return func() (exchange.Adapter, error) {
			return exchange.WithRetry(htx.New(htx.Config{
				APIKey:    ex.APIKey,
				APISecret: ex.APISecret,
				Host:      ex.Host,
				Timeout:   cfg.RequestTimeout,
			}), policy), nil
		}, nil
	case "bybit":
		return func() (exchange.Adapter, error) {
			return exchange.WithRetry(bybit.New(bybit.Config{
				APIKey:      ex.APIKey,
				APISecret:   ex.APISecret,
				Testnet:     ex.Testnet,
				AccountType: ex.AccountType,
			}), policy), nil
		}, nil
	}
	return nil, fmt.Errorf("no adapter for exchange %q", code)
}

// NewNotifier picks Telegram when it is enabled and fully configured,
// otherwise the no-op sink so call sites never branch.
func NewNotifier(cfg *config.Config, logger *slog.Logger) telemetry.Notifier {
	if !cfg.TelemetryEnabled || cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		logger.Info("telemetry disabled, notifications are dropped")
		return telemetry.Noop{}
	}
	threadID, err := strconv.ParseInt(cfg.TelegramThreadID, 10, 64)
	if err != nil && cfg.TelegramThreadID != "" {
		logger.Warn("TELEGRAM_THREAD_ID is not a number, ignoring it", "value", cfg.TelegramThreadID)
	}
	return telemetry.NewTelegram(telemetry.TelegramConfig{
		Token:    cfg.TelegramToken,
		ChatID:   cfg.TelegramChatID,
		ThreadID: threadID,
		AppName:  cfg.AppName,
		Env:      cfg.EnvName,
		Logger:   logger,
	})
}
