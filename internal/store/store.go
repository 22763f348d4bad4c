// Package store persists the bot's pair slots, settings and runtime flags.
// Postgres is used when DATABASE_URL is set, otherwise an embedded SQLite
// file. All statements are written with ? placeholders and rebound for
// Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// MaxPairs caps the number of configured trading slots.
const MaxPairs = 5

var pairPattern = regexp.MustCompile(`^[A-Z0-9]+_[A-Z0-9]+$`)

// PairConfig is one trading slot as the coordinator consumes it each cycle.
type PairConfig struct {
	Idx          int
	Exchange     string
	Pair         string
	DeviationPct decimal.Decimal
	Quote        decimal.Decimal
	LotSizeBase  decimal.Decimal
	GapMode      string
	GapSwitchPct decimal.Decimal
	Enabled      bool
}

// Defaults seed the first pair slot on an empty database.
type Defaults struct {
	Exchange     string
	Pair         string
	DeviationPct decimal.Decimal
	Quote        decimal.Decimal
	LotSizeBase  decimal.Decimal
	GapMode      string
	GapSwitchPct decimal.Decimal
}

// Store is safe for concurrent use; it owns one database handle.
type Store struct {
	db *sql.DB
	pg bool
}

// Open connects to Postgres when databaseURL is non-empty, otherwise opens
// (creating as needed) the SQLite file at sqlitePath.
func Open(databaseURL, sqlitePath string) (*Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Store{db: db, pg: true}, nil
	}

	if sqlitePath == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	if dir := filepath.Dir(sqlitePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers a single writer.
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders as $n for the Postgres driver.
func (s *Store) rebind(q string) string {
	if !s.pg {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const pairColumns = "idx, exchange, pair, deviation_pct, quote, lot_size_base, gap_mode, gap_switch_pct, enabled"

func scanPairs(rows *sql.Rows) ([]PairConfig, error) {
	var out []PairConfig
	for rows.Next() {
		var p PairConfig
		if err := rows.Scan(&p.Idx, &p.Exchange, &p.Pair, &p.DeviationPct, &p.Quote,
			&p.LotSizeBase, &p.GapMode, &p.GapSwitchPct, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scan pair row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActivePairs returns the enabled slots in slot order. Read fresh every
// cycle; edits take effect on the next minute.
func (s *Store) ActivePairs(ctx context.Context) ([]PairConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+pairColumns+" FROM bot_pairs WHERE enabled = ? ORDER BY idx ASC"), true)
	if err != nil {
		return nil, fmt.Errorf("list active pairs: %w", err)
	}
	defer rows.Close()
	return scanPairs(rows)
}

// AllPairs returns every slot, disabled ones included.
func (s *Store) AllPairs(ctx context.Context) ([]PairConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+pairColumns+" FROM bot_pairs ORDER BY idx ASC")
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()
	return scanPairs(rows)
}

// normalizePairs validates and normalizes a full replacement set: uppercase
// pairs matching BASE_QUOTE, lowercase exchanges (gate when empty), gap mode
// defaults, at most MaxPairs slots, (exchange, pair) de-duplicated keeping
// the first occurrence. Slot indexes are reassigned 1..n.
func normalizePairs(pairs []PairConfig) ([]PairConfig, error) {
	if len(pairs) > MaxPairs {
		return nil, fmt.Errorf("too many pairs: %d (max %d)", len(pairs), MaxPairs)
	}
	seen := make(map[string]bool)
	out := make([]PairConfig, 0, len(pairs))
	for i, p := range pairs {
		p.Exchange = strings.ToLower(strings.TrimSpace(p.Exchange))
		if p.Exchange == "" {
			p.Exchange = "gate"
		}
		p.Pair = strings.ToUpper(strings.TrimSpace(p.Pair))
		if !pairPattern.MatchString(p.Pair) {
			return nil, fmt.Errorf("slot %d: bad pair %q (want BASE_QUOTE)", i+1, p.Pair)
		}
		key := p.Exchange + ":" + p.Pair
		if seen[key] {
			continue
		}
		seen[key] = true

		p.GapMode = strings.ToLower(strings.TrimSpace(p.GapMode))
		if p.GapMode == "" {
			p.GapMode = "down_only"
		}
		p.Idx = len(out) + 1
		out = append(out, p)
	}
	return out, nil
}

// ReplacePairs swaps the whole slot table for the given set and returns the
// stored result.
func (s *Store) ReplacePairs(ctx context.Context, pairs []PairConfig) ([]PairConfig, error) {
	norm, err := normalizePairs(pairs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace pairs: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM bot_pairs"); err != nil {
		return nil, fmt.Errorf("clear pairs: %w", err)
	}
	ins := s.rebind("INSERT INTO bot_pairs(" + pairColumns + ") VALUES (?,?,?,?,?,?,?,?,?)")
	for _, p := range norm {
		if _, err := tx.ExecContext(ctx, ins, p.Idx, p.Exchange, p.Pair, p.DeviationPct,
			p.Quote, p.LotSizeBase, p.GapMode, p.GapSwitchPct, p.Enabled); err != nil {
			return nil, fmt.Errorf("insert pair %s:%s: %w", p.Exchange, p.Pair, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace pairs: %w", err)
	}
	return s.AllPairs(ctx)
}

// SetPairEnabled toggles one slot without touching its parameters.
func (s *Store) SetPairEnabled(ctx context.Context, exchange, pair string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE bot_pairs SET enabled = ? WHERE exchange = ? AND pair = ?"),
		enabled, strings.ToLower(strings.TrimSpace(exchange)), strings.ToUpper(strings.TrimSpace(pair)))
	if err != nil {
		return fmt.Errorf("toggle pair: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no such pair %s:%s", exchange, pair)
	}
	return nil
}

// Seed inserts one slot from environment defaults when the table is empty.
func (s *Store) Seed(ctx context.Context, d Defaults) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM bot_pairs").Scan(&n); err != nil {
		return fmt.Errorf("count pairs: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err := s.ReplacePairs(ctx, []PairConfig{{
		Exchange:     d.Exchange,
		Pair:         d.Pair,
		DeviationPct: d.DeviationPct,
		Quote:        d.Quote,
		LotSizeBase:  d.LotSizeBase,
		GapMode:      d.GapMode,
		GapSwitchPct: d.GapSwitchPct,
		Enabled:      true,
	}})
	return err
}

// upsertKV writes one key/value row into a key-valued table.
func (s *Store) upsertKV(ctx context.Context, table, key, value string) error {
	var q string
	if s.pg {
		q = s.rebind("INSERT INTO " + table + "(key, value) VALUES (?, ?) " +
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()")
	} else {
		q = "INSERT OR REPLACE INTO " + table + "(key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)"
	}
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("upsert %s[%s]: %w", table, key, err)
	}
	return nil
}

func (s *Store) readKV(ctx context.Context, table, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT value FROM "+table+" WHERE key = ?"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s[%s]: %w", table, key, err)
	}
	return v, nil
}

// Truthy interprets a stored flag value. Anything outside the accepted set,
// including a missing key's empty string, reads as false.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// Paused reports the operator pause flag; missing means not paused.
func (s *Store) Paused(ctx context.Context) (bool, error) {
	v, err := s.readKV(ctx, "bot_runtime", "paused")
	return Truthy(v), err
}

func (s *Store) SetPaused(ctx context.Context, flag bool) error {
	return s.upsertKV(ctx, "bot_runtime", "paused", fmt.Sprintf("%t", flag))
}

// Shutdown reports the persisted standby flag the supervisor polls.
func (s *Store) Shutdown(ctx context.Context) (bool, error) {
	v, err := s.readKV(ctx, "bot_runtime", "shutdown")
	return Truthy(v), err
}

func (s *Store) SetShutdown(ctx context.Context, flag bool) error {
	return s.upsertKV(ctx, "bot_runtime", "shutdown", fmt.Sprintf("%t", flag))
}

// Setting reads one settings key; a missing key reads as "".
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	return s.readKV(ctx, "bot_settings", key)
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.upsertKV(ctx, "bot_settings", key, value)
}

// Runtime reads one runtime key (cursors, heartbeat marks); missing is "".
func (s *Store) Runtime(ctx context.Context, key string) (string, error) {
	return s.readKV(ctx, "bot_runtime", key)
}

func (s *Store) SetRuntime(ctx context.Context, key, value string) error {
	return s.upsertKV(ctx, "bot_runtime", key, value)
}
