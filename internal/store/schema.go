package store

import (
	"context"
	"fmt"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS bot_settings (
		key text PRIMARY KEY,
		value text NOT NULL,
		updated_at timestamptz DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bot_runtime (
		key text PRIMARY KEY,
		value text NOT NULL,
		updated_at timestamptz DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bot_pairs (
		idx smallint PRIMARY KEY,
		exchange varchar(16) NOT NULL DEFAULT 'gate',
		pair text NOT NULL,
		deviation_pct numeric(36,18) NOT NULL,
		quote numeric(36,12) NOT NULL,
		lot_size_base numeric(36,18) NOT NULL,
		gap_mode text NOT NULL,
		gap_switch_pct numeric(36,18) NOT NULL,
		enabled boolean NOT NULL DEFAULT true,
		updated_at timestamptz DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_bot_pairs_exchange_pair ON bot_pairs(exchange, pair)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS bot_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bot_runtime (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bot_pairs (
		idx INTEGER PRIMARY KEY,
		exchange TEXT NOT NULL DEFAULT 'gate',
		pair TEXT NOT NULL,
		deviation_pct NUMERIC NOT NULL,
		quote NUMERIC NOT NULL,
		lot_size_base NUMERIC NOT NULL,
		gap_mode TEXT NOT NULL,
		gap_switch_pct NUMERIC NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_bot_pairs_exchange_pair ON bot_pairs(exchange, pair)`,
}

// EnsureSchema creates the tables and applies the additive migrations that
// older databases may be missing. Idempotent for both backends.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.pg {
		schema = pgSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	migrations := []struct{ column, sqliteDDL, pgDDL string }{
		{
			"exchange",
			"ALTER TABLE bot_pairs ADD COLUMN exchange TEXT NOT NULL DEFAULT 'gate'",
			"ALTER TABLE bot_pairs ADD COLUMN IF NOT EXISTS exchange varchar(16) NOT NULL DEFAULT 'gate'",
		},
		{
			"gap_mode",
			"ALTER TABLE bot_pairs ADD COLUMN gap_mode TEXT NOT NULL DEFAULT 'down_only'",
			"ALTER TABLE bot_pairs ADD COLUMN IF NOT EXISTS gap_mode text NOT NULL DEFAULT 'down_only'",
		},
		{
			"gap_switch_pct",
			"ALTER TABLE bot_pairs ADD COLUMN gap_switch_pct NUMERIC NOT NULL DEFAULT 1",
			"ALTER TABLE bot_pairs ADD COLUMN IF NOT EXISTS gap_switch_pct numeric(36,18) NOT NULL DEFAULT 1",
		},
	}
	for _, m := range migrations {
		if err := s.ensureColumn(ctx, "bot_pairs", m.column, m.sqliteDDL, m.pgDDL); err != nil {
			return err
		}
	}
	return nil
}

// ensureColumn adds a column when absent. Postgres supports IF NOT EXISTS
// directly; SQLite needs a pragma check first.
func (s *Store) ensureColumn(ctx context.Context, table, column, sqliteDDL, pgDDL string) error {
	if s.pg {
		if _, err := s.db.ExecContext(ctx, pgDDL); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", table, column, err)
		}
		return nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			cid, notNull, pk  int
			name, typ         string
			dflt              any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if found {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, sqliteDDL); err != nil {
		return fmt.Errorf("migrate %s.%s: %w", table, column, err)
	}
	return nil
}
