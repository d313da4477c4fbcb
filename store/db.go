// Package store provides sqlx/sqlite persistence for every entity in the
// trading orchestration engine (spec.md §3).
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlx database connection shared by every entity store.
type DB struct {
	*sqlx.DB
}

// Open connects to the sqlite database at path and runs migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	conn, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	log.Info().Str("path", path).Msg("connected to database")

	db := &DB{conn}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

// Migrate creates every table this engine persists to, idempotently.
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		signal_type TEXT NOT NULL,

		htf_low TEXT, htf_high TEXT, itf_low TEXT, itf_high TEXT,
		ltf_low TEXT, ltf_high TEXT, zone_index INTEGER,

		confluence_type TEXT NOT NULL,
		confluence_score TEXT NOT NULL,
		p_win TEXT NOT NULL,
		p_fill TEXT NOT NULL,
		kelly TEXT NOT NULL,

		ref_price TEXT NOT NULL,
		bid_price TEXT NOT NULL,
		ask_price TEXT NOT NULL,
		entry_low TEXT NOT NULL,
		entry_high TEXT NOT NULL,
		effective_floor TEXT NOT NULL,
		effective_ceiling TEXT NOT NULL,

		reason TEXT,
		signal_day DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		status TEXT NOT NULL,

		UNIQUE(symbol, signal_day, signal_type, direction)
	);
	CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);

	CREATE TABLE IF NOT EXISTS signal_deliveries (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		signal_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_broker_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reject_reason TEXT,
		consumed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_status ON signal_deliveries(status);
	CREATE INDEX IF NOT EXISTS idx_deliveries_signal ON signal_deliveries(signal_id);

	CREATE TABLE IF NOT EXISTS trade_intents (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		signal_id TEXT NOT NULL,
		signal_delivery_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_broker_id TEXT NOT NULL,
		intent_id TEXT NOT NULL UNIQUE,

		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		order_type TEXT NOT NULL,
		product_type TEXT NOT NULL,
		validity TEXT NOT NULL,

		quantity INTEGER NOT NULL,
		limit_price TEXT,
		stop_loss TEXT NOT NULL,
		target_price TEXT NOT NULL,
		notional_value TEXT NOT NULL,
		risk_amount TEXT NOT NULL,
		kelly TEXT NOT NULL,

		status TEXT NOT NULL,
		reject_reason TEXT,
		broker_order_id TEXT,
		placed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_intents_status ON trade_intents(status);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		intent_id TEXT NOT NULL UNIQUE,
		signal_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_broker_id TEXT NOT NULL,

		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,

		entry_price TEXT NOT NULL,
		entry_quantity INTEGER NOT NULL,
		entry_filled_at DATETIME NOT NULL,

		initial_stop_loss TEXT NOT NULL,
		initial_target TEXT NOT NULL,

		last_price TEXT NOT NULL,
		last_marked_at DATETIME,
		open_quantity INTEGER NOT NULL,
		realized_pnl TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL,
		current_log_return TEXT NOT NULL DEFAULT '0',

		trailing_stop TEXT,
		trailing_active INTEGER NOT NULL DEFAULT 0,
		trailing_highest_price TEXT,

		exit_price TEXT,
		exit_quantity INTEGER NOT NULL DEFAULT 0,
		exit_reason TEXT,
		closed_at DATETIME,
		realized_log_return TEXT NOT NULL DEFAULT '0',
		holding_days INTEGER NOT NULL DEFAULT 0,

		entry_broker_order_id TEXT NOT NULL,
		exit_broker_order_id TEXT,
		last_broker_update_at DATETIME,
		reject_reason TEXT,

		status TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_broker_order_id
		ON trades(entry_broker_order_id) WHERE entry_broker_order_id != '';
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_broker ON trades(user_broker_id);

	CREATE TABLE IF NOT EXISTS exit_intents (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		trade_id TEXT NOT NULL,
		exit_reason TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		limit_price TEXT,

		status TEXT NOT NULL,
		reject_reason TEXT,
		broker_order_id TEXT,
		placed_at DATETIME,
		filled_at DATETIME,
		fill_price TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_exit_intents_status ON exit_intents(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_exit_intents_live_dedupe
		ON exit_intents(trade_id, exit_reason)
		WHERE status NOT IN ('CANCELLED', 'FAILED', 'REJECTED');

	CREATE TABLE IF NOT EXISTS candles (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		open_time DATETIME NOT NULL,
		close_time DATETIME NOT NULL,

		open TEXT NOT NULL, high TEXT NOT NULL, low TEXT NOT NULL, close TEXT NOT NULL,
		volume INTEGER NOT NULL,
		tick_count INTEGER NOT NULL DEFAULT 0,
		finalized INTEGER NOT NULL DEFAULT 0,

		UNIQUE(symbol, timeframe, open_time)
	);
	CREATE INDEX IF NOT EXISTS idx_candles_symbol_tf ON candles(symbol, timeframe);

	CREATE TABLE IF NOT EXISTS oauth_states (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		user_id TEXT NOT NULL,
		user_broker_id TEXT NOT NULL,
		broker_code TEXT NOT NULL,
		state TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		redirect_uri TEXT
	);

	CREATE TABLE IF NOT EXISTS instruments (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,

		symbol TEXT NOT NULL,
		broker_code TEXT NOT NULL,
		broker_token TEXT NOT NULL,
		exchange TEXT NOT NULL,
		tick_size TEXT NOT NULL,
		lot_size INTEGER NOT NULL,
		tradable INTEGER NOT NULL DEFAULT 1,

		UNIQUE(broker_code, exchange, symbol)
	);

	CREATE TABLE IF NOT EXISTS broker_tokens (
		user_broker_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_brokers (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		user_id TEXT NOT NULL,
		broker_code TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		paused BOOLEAN NOT NULL DEFAULT 0,
		allowed_symbols TEXT NOT NULL DEFAULT '',
		capital TEXT NOT NULL,
		cooldown_until DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_user_brokers_role_status ON user_brokers(role, status, paused);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	log.Info().Msg("database migrations complete")
	return nil
}
