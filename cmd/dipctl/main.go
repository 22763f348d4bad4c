package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/cmd/common"
	"github.com/trungnq137/crypto-dip-bot/internal/config"
	"github.com/trungnq137/crypto-dip-bot/internal/drain"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/ops"
	"github.com/trungnq137/crypto-dip-bot/internal/reporting"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
	"github.com/trungnq137/crypto-dip-bot/internal/telemetry"
)

const usageText = `Usage: dipctl <command> [flags]

Commands:
  status                  worker flags, report settings and the pair table
  pairs [list]            list configured pairs
  pairs add               add a pair slot or replace an existing one
  pairs rm                remove a pair, cancelling its orders first
  pairs enable|disable    toggle a pair without touching its settings
  params                  change strategy parameters of one pair
  pause | resume          gate the trading cycle
  shutdown [-off]         park the worker in standby (or wake it up)
  report                  show or change report settings, -now sends one
  cancel                  cancel open orders and drain one pair
  version                 print build information

Run 'dipctl <command> -h' for the flags of a command.
`

type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *exchange.Registry
	notifier telemetry.Notifier
	logger   *slog.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "version":
		fmt.Println(common.FullVersion("dipctl"))
		return
	case "help", "-h", "--help":
		fmt.Print(usageText)
		return
	}

	// Tables go to stdout; only warnings from the libraries reach the
	// terminal.
	logger := common.NewLogger(os.Stderr, slog.LevelWarn)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	st, err := store.Open(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("prepare schema: %v", err)
	}
	reg, err := common.BuildRegistry(cfg, exchange.DefaultPolicy(cfg.MaxRetries))
	if err != nil {
		log.Fatalf("configure exchanges: %v", err)
	}

	a := &app{
		cfg:      cfg,
		store:    st,
		registry: reg,
		notifier: common.NewNotifier(cfg, logger),
		logger:   logger,
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "status":
		err = a.status(ctx)
	case "pairs":
		err = a.pairs(ctx, args)
	case "params":
		err = a.params(ctx, args)
	case "pause":
		err = a.setPaused(ctx, true)
	case "resume":
		err = a.setPaused(ctx, false)
	case "shutdown":
		err = a.shutdown(ctx, args)
	case "report":
		err = a.report(ctx, args)
	case "cancel":
		err = a.cancel(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func (a *app) status(ctx context.Context) error {
	paused, err := a.store.Paused(ctx)
	if err != nil {
		return err
	}
	down, err := a.store.Shutdown(ctx)
	if err != nil {
		return err
	}
	enabledRaw, err := a.store.Setting(ctx, "report_enabled")
	if err != nil {
		return err
	}
	periodRaw, err := a.store.Setting(ctx, "report_period_min")
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("WORKER")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Paused", yesNo(paused)},
		{"Shutdown", yesNo(down)},
		{"Reports", describeReports(enabledRaw, periodRaw)},
	})
	t.Render()
	fmt.Println()

	pairs, err := a.store.AllPairs(ctx)
	if err != nil {
		return err
	}
	renderPairs(pairs)
	return nil
}

func (a *app) pairs(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		pairs, err := a.store.AllPairs(ctx)
		if err != nil {
			return err
		}
		renderPairs(pairs)
		return nil
	case "add":
		return a.pairsAdd(ctx, args)
	case "rm":
		return a.pairsRemove(ctx, args)
	case "enable":
		return a.pairsToggle(ctx, args, true)
	case "disable":
		return a.pairsToggle(ctx, args, false)
	}
	return fmt.Errorf("unknown pairs subcommand %q (want list, add, rm, enable or disable)", sub)
}

func (a *app) pairsAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pairs add", flag.ExitOnError)
	exch := fs.String("exchange", a.cfg.DefaultExchange, "exchange code")
	pair := fs.String("pair", "", "pair as BASE_QUOTE (required)")
	deviation := fs.String("deviation", "3.0", "buy this percent below the reference price")
	quote := fs.String("quote", "0", "quote budget per buy, 0 spends the full balance")
	lot := fs.String("lot", "0", "fixed base lot, 0 sizes from the budget")
	gapMode := fs.String("gap-mode", "down_only", "off, down_only or symmetric")
	gapSwitch := fs.String("gap-switch", "1.0", "gap percent that switches the reference to the live price")
	enabled := fs.Bool("enabled", true, "whether the slot trades")
	fs.Parse(args)

	if *pair == "" {
		return fmt.Errorf("-pair is required")
	}
	if err := a.checkExchange(*exch); err != nil {
		return err
	}
	if err := checkGapMode(*gapMode); err != nil {
		return err
	}
	slot := store.PairConfig{
		Exchange: *exch,
		Pair:     *pair,
		GapMode:  *gapMode,
		Enabled:  *enabled,
	}
	var err error
	if slot.DeviationPct, err = parseDec("deviation", *deviation); err != nil {
		return err
	}
	if slot.Quote, err = parseDec("quote", *quote); err != nil {
		return err
	}
	if slot.LotSizeBase, err = parseDec("lot", *lot); err != nil {
		return err
	}
	if slot.GapSwitchPct, err = parseDec("gap-switch", *gapSwitch); err != nil {
		return err
	}

	existing, err := a.store.AllPairs(ctx)
	if err != nil {
		return err
	}
	kept := existing[:0:0]
	replaced := false
	for _, p := range existing {
		if samePair(p, slot.Exchange, slot.Pair) {
			replaced = true
			continue
		}
		kept = append(kept, p)
	}
	updated, err := a.store.ReplacePairs(ctx, append(kept, slot))
	if err != nil {
		return err
	}

	action := "Added"
	if replaced {
		action = "Replaced"
	}
	a.notifier.Notify("pairs_update", fmt.Sprintf("%s %s (deviation %s%%, quote %s, lot %s, gap %s/%s%%).",
		action+" "+slotName(slot.Exchange, slot.Pair),
		slot.DeviationPct, slot.Quote, slot.LotSizeBase, slot.GapMode, slot.GapSwitchPct))
	renderPairs(updated)
	return nil
}

func (a *app) pairsRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pairs rm", flag.ExitOnError)
	exch := fs.String("exchange", a.cfg.DefaultExchange, "exchange code")
	pair := fs.String("pair", "", "pair as BASE_QUOTE (required)")
	fs.Parse(args)

	if *pair == "" {
		return fmt.Errorf("-pair is required")
	}
	existing, err := a.store.AllPairs(ctx)
	if err != nil {
		return err
	}
	kept := existing[:0:0]
	for _, p := range existing {
		if !samePair(p, *exch, *pair) {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(existing) {
		return fmt.Errorf("no such pair %s", slotName(*exch, *pair))
	}

	// Clean the exchange side before dropping the slot, so nothing keeps
	// trading a pair the worker no longer knows about.
	if left, err := ops.CancelAndDrain(ctx, a.registry, *exch, *pair, a.opsConfig()); err != nil {
		fmt.Printf("warning: cleanup of %s failed: %v\n", slotName(*exch, *pair), err)
	} else if left.IsPositive() {
		fmt.Printf("leftover %s base remains on %s\n", left, slotName(*exch, *pair))
	}

	updated, err := a.store.ReplacePairs(ctx, kept)
	if err != nil {
		return err
	}
	a.notifier.Notify("pairs_update", "Removed "+slotName(*exch, *pair)+", open orders cancelled.")
	renderPairs(updated)
	return nil
}

func (a *app) pairsToggle(ctx context.Context, args []string, enabled bool) error {
	name := "pairs enable"
	if !enabled {
		name = "pairs disable"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	exch := fs.String("exchange", a.cfg.DefaultExchange, "exchange code")
	pair := fs.String("pair", "", "pair as BASE_QUOTE (required)")
	fs.Parse(args)

	if *pair == "" {
		return fmt.Errorf("-pair is required")
	}
	if err := a.store.SetPairEnabled(ctx, *exch, *pair, enabled); err != nil {
		return err
	}
	verb := "Enabled"
	if !enabled {
		verb = "Disabled"
	}
	a.notifier.Notify("pairs_update", verb+" "+slotName(*exch, *pair)+".")
	fmt.Printf("%s %s\n", verb, slotName(*exch, *pair))
	return nil
}

func (a *app) params(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("params", flag.ExitOnError)
	exch := fs.String("exchange", a.cfg.DefaultExchange, "exchange code")
	pair := fs.String("pair", "", "pair as BASE_QUOTE (required)")
	deviation := fs.String("deviation", "", "buy this percent below the reference price")
	quote := fs.String("quote", "", "quote budget per buy, 0 spends the full balance")
	lot := fs.String("lot", "", "fixed base lot, 0 sizes from the budget")
	gapMode := fs.String("gap-mode", "", "off, down_only or symmetric")
	gapSwitch := fs.String("gap-switch", "", "gap percent that switches the reference to the live price")
	fs.Parse(args)

	if *pair == "" {
		return fmt.Errorf("-pair is required")
	}

	existing, err := a.store.AllPairs(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i, p := range existing {
		if samePair(p, *exch, *pair) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("no such pair %s", slotName(*exch, *pair))
	}

	slot := &existing[idx]
	var diffs []string
	change := func(field, raw string, dst *decimal.Decimal) error {
		if raw == "" {
			return nil
		}
		v, err := parseDec(field, raw)
		if err != nil {
			return err
		}
		if !v.Equal(*dst) {
			diffs = append(diffs, fmt.Sprintf("%s %s→%s", field, *dst, v))
			*dst = v
		}
		return nil
	}
	if err := change("deviation", *deviation, &slot.DeviationPct); err != nil {
		return err
	}
	if err := change("quote", *quote, &slot.Quote); err != nil {
		return err
	}
	if err := change("lot", *lot, &slot.LotSizeBase); err != nil {
		return err
	}
	if err := change("gap-switch", *gapSwitch, &slot.GapSwitchPct); err != nil {
		return err
	}
	if *gapMode != "" {
		if err := checkGapMode(*gapMode); err != nil {
			return err
		}
		if *gapMode != slot.GapMode {
			diffs = append(diffs, fmt.Sprintf("gap-mode %s→%s", slot.GapMode, *gapMode))
			slot.GapMode = *gapMode
		}
	}

	if len(diffs) == 0 {
		fmt.Println("nothing to change")
		return nil
	}
	updated, err := a.store.ReplacePairs(ctx, existing)
	if err != nil {
		return err
	}
	a.notifier.Notify("params_update",
		fmt.Sprintf("Parameters of %s changed: %s.", slotName(*exch, *pair), strings.Join(diffs, "; ")))
	renderPairs(updated)
	return nil
}

func (a *app) setPaused(ctx context.Context, paused bool) error {
	if err := a.store.SetPaused(ctx, paused); err != nil {
		return err
	}
	if paused {
		a.notifier.Notify("paused_on", "Trading cycle paused by the operator.")
		fmt.Println("Paused. The worker idles at each minute boundary until resumed.")
	} else {
		a.notifier.Notify("paused_off", "Pause lifted, trading resumes at the next minute boundary.")
		fmt.Println("Resumed.")
	}
	return nil
}

func (a *app) shutdown(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("shutdown", flag.ExitOnError)
	off := fs.Bool("off", false, "clear the flag and wake the worker")
	fs.Parse(args)

	if err := a.store.SetShutdown(ctx, !*off); err != nil {
		return err
	}
	if *off {
		fmt.Println("Shutdown flag cleared, the worker leaves standby.")
	} else {
		fmt.Println("Shutdown flag set, the worker parks in standby after the current cycle.")
	}
	return nil
}

func (a *app) report(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	now := fs.Bool("now", false, "build and send the report for the last closed period")
	enabled := fs.String("enabled", "", "on or off")
	period := fs.Int("period", 0, "period in minutes: 1, 5, 10, 15, 30 or 60")
	fs.Parse(args)

	var diffs []string
	if *enabled != "" {
		if *enabled != "on" && *enabled != "off" {
			return fmt.Errorf("-enabled wants on or off, got %q", *enabled)
		}
		oldRaw, err := a.store.Setting(ctx, "report_enabled")
		if err != nil {
			return err
		}
		want := *enabled == "on"
		if store.Truthy(oldRaw) != want {
			diffs = append(diffs, fmt.Sprintf("ENABLED %v→%v", store.Truthy(oldRaw), want))
		}
		val := "0"
		if want {
			val = "1"
		}
		if err := a.store.SetSetting(ctx, "report_enabled", val); err != nil {
			return err
		}
	}
	if *period != 0 {
		if reporting.NormalizePeriod(strconv.Itoa(*period)) != *period {
			return fmt.Errorf("-period wants 1, 5, 10, 15, 30 or 60, got %d", *period)
		}
		oldRaw, err := a.store.Setting(ctx, "report_period_min")
		if err != nil {
			return err
		}
		if old := reporting.NormalizePeriod(oldRaw); old != *period {
			diffs = append(diffs, fmt.Sprintf("PERIOD %dm→%dm", old, *period))
		}
		if err := a.store.SetSetting(ctx, "report_period_min", strconv.Itoa(*period)); err != nil {
			return err
		}
	}
	if len(diffs) > 0 {
		a.notifier.Notify("reporting_update", "Report settings changed: "+strings.Join(diffs, "; ")+".")
	}

	if *now {
		rep := reporting.New(reporting.Config{
			Store:    a.store,
			Registry: a.registry,
			Notifier: a.notifier,
			Logger:   a.logger,
		})
		if err := rep.RunOnce(ctx); err != nil {
			return err
		}
		fmt.Println("Report sent.")
		return nil
	}

	enabledRaw, err := a.store.Setting(ctx, "report_enabled")
	if err != nil {
		return err
	}
	periodRaw, err := a.store.Setting(ctx, "report_period_min")
	if err != nil {
		return err
	}
	fmt.Println("Reports:", describeReports(enabledRaw, periodRaw))
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	exch := fs.String("exchange", a.cfg.DefaultExchange, "exchange code")
	pair := fs.String("pair", "", "pair as BASE_QUOTE (required)")
	fs.Parse(args)

	if *pair == "" {
		return fmt.Errorf("-pair is required")
	}
	left, err := ops.CancelAndDrain(ctx, a.registry, *exch, *pair, a.opsConfig())
	if err != nil {
		return err
	}
	if left.IsPositive() {
		fmt.Printf("Cancelled %s, leftover %s base could not be sold.\n", slotName(*exch, *pair), left)
	} else {
		fmt.Printf("Cancelled %s, position fully drained.\n", slotName(*exch, *pair))
	}
	return nil
}

func (a *app) opsConfig() ops.Config {
	return ops.Config{
		Drain: drain.Config{
			BaseSleep: a.cfg.DrainBaseSleep,
			MaxSleep:  a.cfg.DrainMaxSleep,
			MaxWait:   a.cfg.DrainMaxWait,
			Logger:    a.logger,
		},
		Logger: a.logger,
	}
}

func (a *app) checkExchange(code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	codes := a.registry.Codes()
	if !slices.Contains(codes, code) {
		return fmt.Errorf("unknown exchange %q (configured: %s)", code, strings.Join(codes, ", "))
	}
	return nil
}

func renderPairs(pairs []store.PairConfig) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("TRADING PAIRS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Exchange", "Pair", "Dev %", "Quote", "Lot", "Gap Mode", "Gap %", "On"})
	for _, p := range pairs {
		t.AppendRow(table.Row{
			p.Idx, p.Exchange, p.Pair, p.DeviationPct, p.Quote, p.LotSizeBase,
			p.GapMode, p.GapSwitchPct, yesNo(p.Enabled),
		})
	}
	t.Render()
}

func describeReports(enabledRaw, periodRaw string) string {
	if !store.Truthy(enabledRaw) {
		return "off"
	}
	return fmt.Sprintf("on, every %dm", reporting.NormalizePeriod(periodRaw))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func samePair(p store.PairConfig, exchange, pair string) bool {
	return p.Exchange == strings.ToLower(strings.TrimSpace(exchange)) &&
		p.Pair == strings.ToUpper(strings.TrimSpace(pair))
}

func slotName(exchange, pair string) string {
	return strings.ToLower(strings.TrimSpace(exchange)) + ":" + strings.ToUpper(strings.TrimSpace(pair))
}

func parseDec(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("-%s: %q is not a number", field, raw)
	}
	return v, nil
}

func checkGapMode(mode string) error {
	switch mode {
	case "off", "down_only", "symmetric":
		return nil
	}
	return fmt.Errorf("-gap-mode wants off, down_only or symmetric, got %q", mode)
}
