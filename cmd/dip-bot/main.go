package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trungnq137/crypto-dip-bot/cmd/common"
	"github.com/trungnq137/crypto-dip-bot/internal/config"
	"github.com/trungnq137/crypto-dip-bot/internal/drain"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/heartbeat"
	"github.com/trungnq137/crypto-dip-bot/internal/monitoring"
	"github.com/trungnq137/crypto-dip-bot/internal/ops"
	"github.com/trungnq137/crypto-dip-bot/internal/reporting"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
	"github.com/trungnq137/crypto-dip-bot/internal/strategy"
)

func main() {
	logger := common.NewLogger(os.Stdout, slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("🚀 " + common.FullVersion("dip-bot") + " starting...")

	st, err := store.Open(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	initCtx := context.Background()
	if err := st.EnsureSchema(initCtx); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}
	if err := st.Seed(initCtx, store.Defaults{
		Exchange:     cfg.DefaultExchange,
		Pair:         cfg.Pair,
		DeviationPct: cfg.DeviationPct,
		Quote:        cfg.Quote,
		LotSizeBase:  cfg.LotSizeBase,
		GapMode:      cfg.GapMode,
		GapSwitchPct: cfg.GapSwitchPct,
	}); err != nil {
		log.Fatalf("Failed to seed pair table: %v", err)
	}

	policy := exchange.DefaultPolicy(cfg.MaxRetries)
	policy.OnRetry = func(op string, attempt int, err error, delay time.Duration) {
		logger.Warn("retrying exchange call", "op", op, "attempt", attempt, "delay", delay, "err", err)
		monitoring.RecordRetry(op)
	}

	reg, err := common.BuildRegistry(cfg, policy)
	if err != nil {
		log.Fatalf("Failed to configure exchanges: %v", err)
	}

	notifier := common.NewNotifier(cfg, logger)

	hb := heartbeat.New(heartbeat.Config{
		Every:        cfg.HeartbeatEvery,
		SilenceAlert: cfg.SilenceAlertAfter,
		Store:        st,
		Notifier:     notifier,
		Logger:       logger,
	})
	reporter := reporting.New(reporting.Config{
		Store:    st,
		Registry: reg,
		Notifier: notifier,
		Logger:   logger,
	})

	if cfg.MetricsAddr != "" {
		srv := monitoring.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
	}

	drainCfg := drain.Config{
		BaseSleep: cfg.DrainBaseSleep,
		MaxSleep:  cfg.DrainMaxSleep,
		MaxWait:   cfg.DrainMaxWait,
		Logger:    logger,
	}
	sweepCfg := ops.Config{Drain: drainCfg, Logger: logger}

	// Reconcile before trading: a crashed run may have left orders and
	// positions behind.
	if pairs, err := st.ActivePairs(initCtx); err != nil {
		logger.Warn("startup sweep skipped, pairs unreadable", "err", err)
	} else {
		ops.SweepAll(initCtx, reg, pairs, sweepCfg)
	}

	hb.Init(initCtx)
	notifier.Notify("worker_start", "Worker is up and entering the trading cycle.")

	eng := strategy.New(strategy.Config{
		Registry:        reg,
		Params:          st,
		Notifier:        notifier,
		Tickers:         []strategy.Ticker{hb, reporter},
		Logger:          logger,
		DefaultExchange: cfg.DefaultExchange,
		BarBuffer:       cfg.NextBarBuffer,
		Drain:           drainCfg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	_ = eng.Run(ctx)

	// A second signal now kills the process the default way.
	stop()
	fmt.Println("\n🛑 Shutdown signal received, cleaning up...")

	sweepCtx := context.Background()
	if pairs, err := st.ActivePairs(sweepCtx); err != nil {
		logger.Warn("shutdown sweep skipped, pairs unreadable", "err", err)
	} else {
		ops.SweepAll(sweepCtx, reg, pairs, sweepCfg)
	}
	notifier.Notify("worker_stop", "Open orders cancelled, leftovers drained. Bye.")
	fmt.Println("✅ Bot stopped")
}
