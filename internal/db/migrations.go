package db

import (
	"fmt"
)

// sqliteSchema is the full SQLite schema.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS operators (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'viewer' CHECK (role IN ('admin', 'viewer')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_operators_username_active
    ON operators(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scanner_users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    flags         INTEGER NOT NULL DEFAULT 0,
    max_scanners  INTEGER NOT NULL DEFAULT 5,
    disabled      INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scanners (
    id               INTEGER PRIMARY KEY,
    scanner_user_id  INTEGER NOT NULL REFERENCES scanner_users(id),
    name             TEXT NOT NULL UNIQUE,
    flags            INTEGER NOT NULL DEFAULT 0,
    last_scan        DATETIME,
    trader_last_scan DATETIME,
    created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS work_items (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    short_name       TEXT NOT NULL DEFAULT '',
    disabled         INTEGER NOT NULL DEFAULT 0,
    is_preset        INTEGER NOT NULL DEFAULT 0,
    no_flea          INTEGER NOT NULL DEFAULT 0,
    only_flea        INTEGER NOT NULL DEFAULT 0,
    last_scan        DATETIME,
    trader_last_scan DATETIME,
    player_holder    INTEGER REFERENCES scanners(id),
    trader_holder    INTEGER REFERENCES scanners(id),
    last_offer_count INTEGER
);

CREATE TABLE IF NOT EXISTS price_data (
    id         INTEGER PRIMARY KEY,
    item_id    TEXT NOT NULL REFERENCES work_items(id),
    price      INTEGER NOT NULL,
    scanner_id INTEGER NOT NULL REFERENCES scanners(id),
    timestamp  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trader_price_data (
    id          INTEGER PRIMARY KEY,
    item_id     TEXT NOT NULL REFERENCES work_items(id),
    trader_name TEXT NOT NULL,
    currency    TEXT NOT NULL,
    price       INTEGER NOT NULL,
    min_level   INTEGER,
    quest       TEXT,
    scanner_id  INTEGER NOT NULL REFERENCES scanners(id),
    timestamp   DATETIME NOT NULL
);
`

// postgresSchema mirrors sqliteSchema. Flags stay integers so that every
// query is shared between dialects.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS operators (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'viewer' CHECK (role IN ('admin', 'viewer')),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_operators_username_active
    ON operators(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scanner_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    flags         BIGINT NOT NULL DEFAULT 0,
    max_scanners  INTEGER NOT NULL DEFAULT 5,
    disabled      INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scanners (
    id               BIGSERIAL PRIMARY KEY,
    scanner_user_id  BIGINT NOT NULL REFERENCES scanner_users(id),
    name             TEXT NOT NULL UNIQUE,
    flags            BIGINT NOT NULL DEFAULT 0,
    last_scan        TIMESTAMPTZ,
    trader_last_scan TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS work_items (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    short_name       TEXT NOT NULL DEFAULT '',
    disabled         INTEGER NOT NULL DEFAULT 0,
    is_preset        INTEGER NOT NULL DEFAULT 0,
    no_flea          INTEGER NOT NULL DEFAULT 0,
    only_flea        INTEGER NOT NULL DEFAULT 0,
    last_scan        TIMESTAMPTZ,
    trader_last_scan TIMESTAMPTZ,
    player_holder    BIGINT REFERENCES scanners(id),
    trader_holder    BIGINT REFERENCES scanners(id),
    last_offer_count INTEGER
);

CREATE TABLE IF NOT EXISTS price_data (
    id         BIGSERIAL PRIMARY KEY,
    item_id    TEXT NOT NULL REFERENCES work_items(id),
    price      BIGINT NOT NULL,
    scanner_id BIGINT NOT NULL REFERENCES scanners(id),
    timestamp  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trader_price_data (
    id          BIGSERIAL PRIMARY KEY,
    item_id     TEXT NOT NULL REFERENCES work_items(id),
    trader_name TEXT NOT NULL,
    currency    TEXT NOT NULL,
    price       BIGINT NOT NULL,
    min_level   INTEGER,
    quest       TEXT,
    scanner_id  BIGINT NOT NULL REFERENCES scanners(id),
    timestamp   TIMESTAMPTZ NOT NULL
);
`

// migrations is a list of statements applied in order after schema
// creation. Each migration must be idempotent and valid in both dialects.
// Append new migrations at the end.
var migrations = []string{
	// Migration 1: holder lookups back release-all and the reclaim sweep.
	`CREATE INDEX IF NOT EXISTS idx_work_items_player_holder ON work_items(player_holder)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_trader_holder ON work_items(trader_holder)`,
	// Migration 2: claim ordering scans by freshness.
	`CREATE INDEX IF NOT EXISTS idx_work_items_last_scan ON work_items(last_scan, id)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_trader_last_scan ON work_items(trader_last_scan, id)`,
}

// Migrate creates the schema and runs the migrations.
func Migrate(d *DB) error {
	schema := sqliteSchema
	if d.Dialect == Postgres {
		schema = postgresSchema
	}
	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	for i, m := range migrations {
		if _, err := d.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
