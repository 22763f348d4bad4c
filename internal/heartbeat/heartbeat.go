// Package heartbeat keeps a liveness trail in the runtime store and pings
// the operator on a fixed cadence. Everything here is best-effort: a broken
// heartbeat must never take the trading cycle down with it.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/trungnq137/crypto-dip-bot/internal/monitoring"
)

const (
	keyLastTick = "hb_last_tick"
	keyLastPing = "hb_last_ping_sent"
)

// RuntimeStore is the slice of the store the heartbeat writes through.
type RuntimeStore interface {
	Runtime(ctx context.Context, key string) (string, error)
	SetRuntime(ctx context.Context, key, value string) error
}

// Notifier delivers the operator pings.
type Notifier interface {
	Notify(event, message string)
}

// Config tunes the heartbeat cadence.
type Config struct {
	// Every is the minimum gap between operator pings.
	Every time.Duration
	// SilenceAlert is the tick gap that, seen at startup, means the
	// previous run died without a clean stop.
	SilenceAlert time.Duration

	Store    RuntimeStore
	Notifier Notifier
	Logger   *slog.Logger
}

type Heartbeat struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Heartbeat {
	if cfg.Every <= 0 {
		cfg.Every = time.Hour
	}
	if cfg.SilenceAlert <= 0 {
		cfg.SilenceAlert = 90 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Heartbeat{cfg: cfg, now: time.Now}
}

// Init announces liveness at startup. When the last recorded tick is older
// than the silence threshold it first raises an alarm, because that gap
// means the worker was down or wedged without anyone noticing.
func (h *Heartbeat) Init(ctx context.Context) {
	now := h.now()

	raw, err := h.cfg.Store.Runtime(ctx, keyLastTick)
	if err != nil {
		h.cfg.Logger.Warn("heartbeat: read last tick", "err", err)
	} else if raw != "" {
		if ts, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			gap := now.Sub(time.Unix(ts, 0))
			if gap > h.cfg.SilenceAlert {
				h.notify("alert_silence", fmt.Sprintf(
					"No liveness tick for %s (threshold %s). The worker was down or stuck.",
					gap.Round(time.Second), h.cfg.SilenceAlert))
			}
		}
	}

	h.notify("heartbeat", "Worker is alive.")
	h.record(ctx, keyLastPing, now)
	h.record(ctx, keyLastTick, now)
	monitoring.HeartbeatSeen(now)
}

// Tick records liveness for the cycle that just ran and pings the operator
// once the configured interval since the last ping has passed.
func (h *Heartbeat) Tick(ctx context.Context) {
	now := h.now()
	h.record(ctx, keyLastTick, now)
	monitoring.HeartbeatSeen(now)

	raw, err := h.cfg.Store.Runtime(ctx, keyLastPing)
	if err != nil {
		h.cfg.Logger.Warn("heartbeat: read last ping", "err", err)
		return
	}
	last, _ := strconv.ParseInt(raw, 10, 64)
	if now.Sub(time.Unix(last, 0)) >= h.cfg.Every {
		h.notify("heartbeat", fmt.Sprintf("Still trading. Next ping in about %s.", h.cfg.Every))
		h.record(ctx, keyLastPing, now)
	}
}

func (h *Heartbeat) notify(event, message string) {
	if h.cfg.Notifier != nil {
		h.cfg.Notifier.Notify(event, message)
	}
}

func (h *Heartbeat) record(ctx context.Context, key string, t time.Time) {
	if err := h.cfg.Store.SetRuntime(ctx, key, strconv.FormatInt(t.Unix(), 10)); err != nil {
		h.cfg.Logger.Warn("heartbeat: persist timestamp", "key", key, "err", err)
	}
}
