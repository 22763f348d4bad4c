package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
	"github.com/trungnq137/crypto-dip-bot/internal/telemetry"
)

const (
	settingEnabled = "report_enabled"
	settingPeriod  = "report_period_min"
	cursorKey      = "report_last_period_end"

	tradeFetchLimit = 1000
)

// Store is the slice of persistence the reporter reads and the cursor it
// writes.
type Store interface {
	ActivePairs(ctx context.Context) ([]store.PairConfig, error)
	Setting(ctx context.Context, key string) (string, error)
	Runtime(ctx context.Context, key string) (string, error)
	SetRuntime(ctx context.Context, key, value string) error
}

// Config wires the reporter's collaborators.
type Config struct {
	Store    Store
	Registry *exchange.Registry
	Notifier telemetry.Notifier
	Logger   *slog.Logger
}

// Service sends the periodic trade report. One instance is serviced by the
// engine once per cycle via Tick.
type Service struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	running bool
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{cfg: cfg, now: time.Now}
}

// Tick runs the schedule check on a background worker so a slow exchange
// can never hold up the trading loop. At most one worker runs at a time.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		if err := s.runDue(bg); err != nil {
			s.cfg.Logger.Warn("reporting: scheduled run failed", "err", err)
		}
	}()
}

// RunOnce builds and sends the report for the last completed period without
// consulting the schedule. The cursor is left untouched so the scheduled
// report still goes out on time.
func (s *Service) RunOnce(ctx context.Context) error {
	periodRaw, err := s.cfg.Store.Setting(ctx, settingPeriod)
	if err != nil {
		return fmt.Errorf("read report period: %w", err)
	}
	p := LastCompleted(s.now(), NormalizePeriod(periodRaw))
	return s.send(ctx, p, "manual_report")
}

func (s *Service) runDue(ctx context.Context) error {
	enabledRaw, err := s.cfg.Store.Setting(ctx, settingEnabled)
	if err != nil {
		return fmt.Errorf("read report flag: %w", err)
	}
	if !store.Truthy(enabledRaw) {
		return nil
	}

	periodRaw, err := s.cfg.Store.Setting(ctx, settingPeriod)
	if err != nil {
		return fmt.Errorf("read report period: %w", err)
	}
	p := LastCompleted(s.now(), NormalizePeriod(periodRaw))

	cursor, err := s.cfg.Store.Runtime(ctx, cursorKey)
	if err != nil {
		return fmt.Errorf("read report cursor: %w", err)
	}
	if cursor == p.Key() {
		return nil
	}

	// The cursor moves before the send. A report that fails halfway is
	// dropped rather than re-sent every minute until it succeeds.
	if err := s.cfg.Store.SetRuntime(ctx, cursorKey, p.Key()); err != nil {
		return fmt.Errorf("advance report cursor: %w", err)
	}
	return s.send(ctx, p, "report")
}

func (s *Service) send(ctx context.Context, p Period, event string) error {
	rows := s.collect(ctx, p)

	buys, sells := 0, 0
	for _, r := range rows {
		switch r.Side {
		case "buy":
			buys++
		case "sell":
			sells++
		}
	}

	title := caption(p)
	s.cfg.Notifier.Notify(event, fmt.Sprintf("%s: %d buys, %d sells.", title, buys, sells))
	if len(rows) == 0 {
		return nil
	}

	name := "trades_" + p.Start.UTC().Format("20060102_1504") + ".csv"
	s.cfg.Notifier.SendDocument(name, BuildCSV(rows), title)

	xlsx, err := BuildXLSX(rows)
	if err != nil {
		s.cfg.Logger.Warn("reporting: build xlsx", "err", err)
		return nil
	}
	s.cfg.Notifier.SendDocument(strings.TrimSuffix(name, ".csv")+".xlsx", xlsx, title)
	return nil
}

// collect pulls fills for every active pair and clips them to the side
// windows. A pair whose fetch fails is logged and left out; the report
// covers what it can.
func (s *Service) collect(ctx context.Context, p Period) []Row {
	pairs, err := s.cfg.Store.ActivePairs(ctx)
	if err != nil {
		s.cfg.Logger.Warn("reporting: load pairs", "err", err)
		return nil
	}

	buyFrom, buyTo := p.BuyWindow()
	sellFrom, sellTo := p.SellWindow()

	var rows []Row
	for _, pc := range pairs {
		ad, err := s.cfg.Registry.Get(pc.Exchange)
		if err != nil {
			s.cfg.Logger.Warn("reporting: resolve adapter", "exchange", pc.Exchange, "err", err)
			continue
		}
		trades, err := ad.Trades(ctx, pc.Pair, buyFrom, sellTo, tradeFetchLimit)
		if err != nil {
			s.cfg.Logger.Warn("reporting: fetch trades", "exchange", pc.Exchange, "pair", pc.Pair, "err", err)
			continue
		}
		for _, tr := range trades {
			side := strings.ToLower(tr.Side)
			switch side {
			case "buy":
				if tr.Time.Before(buyFrom) || tr.Time.After(buyTo) {
					continue
				}
			case "sell":
				if tr.Time.Before(sellFrom) || tr.Time.After(sellTo) {
					continue
				}
			default:
				continue
			}
			rows = append(rows, Row{
				Time:        tr.Time,
				Exchange:    pc.Exchange,
				Pair:        pc.Pair,
				Side:        side,
				Price:       tr.Price,
				Amount:      tr.Amount,
				Fee:         tr.Fee,
				FeeCurrency: tr.FeeCurrency,
				TradeID:     tr.ID,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Time.Equal(rows[j].Time) {
			return rows[i].Time.Before(rows[j].Time)
		}
		return rows[i].TradeID < rows[j].TradeID
	})
	return rows
}

func caption(p Period) string {
	return fmt.Sprintf("Trades %s - %s UTC",
		p.Start.UTC().Format("2006-01-02 15:04"),
		p.End.UTC().Format("15:04"))
}
