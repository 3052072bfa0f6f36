// Package sqlite provides SQLite-based persistent storage for Fieldwise.
// Uses WAL mode for concurrent reads and crash-safe writes.
// Every engine operation runs inside one immediate transaction (DB.WithTx),
// so read-modify-write sequences on the same row are linearizable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/fieldwise.db.
// Enables WAL mode, foreign keys, a 5-second busy timeout and immediate
// transactions (the write lock is taken at BEGIN, not at first write).
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "fieldwise.db")
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Tx is one atomic unit of work. All repository methods hang off Tx.
// Never call back into DB while holding a Tx: the pool has one connection.
type Tx struct {
	ctx         context.Context
	tx          *sql.Tx
	afterCommit []func()
}

// Context returns the context the transaction was started with.
func (t *Tx) Context() context.Context { return t.ctx }

// AfterCommit queues fn to run once the transaction has committed.
// Queued functions are dropped on rollback.
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// WithTx runs fn in a transaction. fn's error (or a panic) rolls everything
// back; a nil return commits.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{ctx: ctx, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, f := range tx.afterCommit {
		f()
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
// Use it for side-effect-free queries that need a consistent snapshot.
func (d *DB) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&Tx{ctx: ctx, tx: sqlTx})
}

func (t *Tx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

// execCAS runs a guarded UPDATE and reports whether it matched a row.
func (t *Tx) execCAS(query string, args ...any) (bool, error) {
	result, err := t.exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ─── Migrations ─────────────────────────────────────────────────────────────

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Points ledger: immutable entries + materialized balance per account
		`CREATE TABLE IF NOT EXISTS point_balances (
			account         TEXT PRIMARY KEY,
			balance         INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			lifetime_earned INTEGER NOT NULL DEFAULT 0,
			lifetime_spent  INTEGER NOT NULL DEFAULT 0,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS points_ledger (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			account       TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			kind          TEXT NOT NULL,
			source        TEXT NOT NULL,
			ref_id        TEXT,
			note          TEXT,
			balance_after INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_points_account ON points_ledger(account, id)`,

		// XP grants + level projection
		`CREATE TABLE IF NOT EXISTS xp_grants (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			account    TEXT NOT NULL,
			action     TEXT NOT NULL,
			amount     INTEGER NOT NULL CHECK (amount > 0),
			metadata   TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_account ON xp_grants(account, id)`,
		`CREATE TABLE IF NOT EXISTS user_levels (
			account    TEXT PRIMARY KEY,
			total_xp   INTEGER NOT NULL DEFAULT 0,
			level      INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		)`,

		// Action counters (daily caps), lifetime totals, badges
		`CREATE TABLE IF NOT EXISTS action_counters (
			account TEXT NOT NULL,
			action  TEXT NOT NULL,
			day     TEXT NOT NULL,
			count   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account, action, day)
		)`,
		`CREATE TABLE IF NOT EXISTS action_totals (
			account TEXT NOT NULL,
			action  TEXT NOT NULL,
			count   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account, action)
		)`,
		`CREATE TABLE IF NOT EXISTS badge_progress (
			account TEXT NOT NULL,
			badge   TEXT NOT NULL,
			count   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account, badge)
		)`,
		`CREATE TABLE IF NOT EXISTS badge_unlocks (
			account     TEXT NOT NULL,
			badge       TEXT NOT NULL,
			tier        TEXT NOT NULL,
			unlocked_at INTEGER NOT NULL,
			PRIMARY KEY (account, badge, tier)
		)`,

		// Streaks
		`CREATE TABLE IF NOT EXISTS streaks (
			user_id        TEXT PRIMARY KEY,
			current        INTEGER NOT NULL DEFAULT 0,
			longest        INTEGER NOT NULL DEFAULT 0,
			last_day       TEXT NOT NULL DEFAULT '',
			freeze_tokens  INTEGER NOT NULL DEFAULT 0 CHECK (freeze_tokens >= 0),
			milestone_mark INTEGER NOT NULL DEFAULT 0,
			version        INTEGER NOT NULL DEFAULT 0,
			updated_at     INTEGER NOT NULL
		)`,

		// Challenges (individual and team)
		`CREATE TABLE IF NOT EXISTS challenge_templates (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			subject_kind  TEXT NOT NULL,
			team_id       TEXT NOT NULL DEFAULT '',
			action_key    TEXT NOT NULL,
			target        INTEGER NOT NULL CHECK (target > 0),
			reward_points INTEGER NOT NULL DEFAULT 0,
			reward_xp     INTEGER NOT NULL DEFAULT 0,
			starts_at     INTEGER NOT NULL DEFAULT 0,
			ends_at       INTEGER NOT NULL DEFAULT 0,
			recurrence    TEXT NOT NULL DEFAULT 'none',
			is_active     BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_challenge_action ON challenge_templates(action_key, subject_kind)`,
		`CREATE TABLE IF NOT EXISTS challenge_progress (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			subject      TEXT NOT NULL,
			template_id  TEXT NOT NULL REFERENCES challenge_templates(id),
			window_start INTEGER NOT NULL,
			window_end   INTEGER NOT NULL DEFAULT 0,
			progress     INTEGER NOT NULL DEFAULT 0,
			target       INTEGER NOT NULL,
			status       TEXT NOT NULL DEFAULT 'active',
			completed_at INTEGER,
			created_at   INTEGER NOT NULL,
			UNIQUE (subject, template_id, window_start),
			CHECK (progress <= target)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_challenge_subject ON challenge_progress(subject, status)`,

		// Missions
		`CREATE TABLE IF NOT EXISTS mission_templates (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			category          TEXT NOT NULL DEFAULT '',
			completion_points INTEGER NOT NULL DEFAULT 0,
			completion_xp     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS mission_steps (
			mission_id  TEXT NOT NULL REFERENCES mission_templates(id),
			idx         INTEGER NOT NULL,
			name        TEXT NOT NULL,
			offset_days INTEGER NOT NULL DEFAULT 0,
			optional    BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (mission_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS user_missions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			mission_id    TEXT NOT NULL REFERENCES mission_templates(id),
			field_id      TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			current_step  INTEGER NOT NULL DEFAULT 0,
			total_steps   INTEGER NOT NULL,
			progress_pct  REAL NOT NULL DEFAULT 0,
			reward_points INTEGER NOT NULL DEFAULT 0,
			reward_xp     INTEGER NOT NULL DEFAULT 0,
			started_at    INTEGER NOT NULL,
			completed_at  INTEGER,
			updated_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_missions_user ON user_missions(user_id, status)`,
		// At most one active instance per (user, mission, field)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_missions_active
			ON user_missions(user_id, mission_id, field_id) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS step_progress (
			user_mission_id TEXT NOT NULL REFERENCES user_missions(id),
			idx             INTEGER NOT NULL,
			name            TEXT NOT NULL,
			status          TEXT NOT NULL,
			due_at          INTEGER NOT NULL,
			evidence        TEXT NOT NULL DEFAULT '',
			notes           TEXT NOT NULL DEFAULT '',
			completed_at    INTEGER,
			PRIMARY KEY (user_mission_id, idx)
		)`,

		// Referrals
		`CREATE TABLE IF NOT EXISTS referral_codes (
			user_id    TEXT PRIMARY KEY,
			code       TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS referrals (
			id                TEXT PRIMARY KEY,
			referrer_id       TEXT NOT NULL,
			referred_id       TEXT NOT NULL UNIQUE,
			code              TEXT NOT NULL,
			status            TEXT NOT NULL,
			activation_action TEXT NOT NULL DEFAULT '',
			referrer_points   INTEGER NOT NULL DEFAULT 0,
			referrer_xp       INTEGER NOT NULL DEFAULT 0,
			referred_points   INTEGER NOT NULL DEFAULT 0,
			referred_xp       INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL,
			activated_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id, status)`,
		`CREATE TABLE IF NOT EXISTS referral_ledger (
			user_id             TEXT PRIMARY KEY,
			total_referrals     INTEGER NOT NULL DEFAULT 0,
			activated_referrals INTEGER NOT NULL DEFAULT 0,
			tier                TEXT NOT NULL DEFAULT '',
			updated_at          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS referral_milestone_claims (
			user_id    TEXT NOT NULL,
			threshold  INTEGER NOT NULL,
			points     INTEGER NOT NULL,
			claimed_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, threshold)
		)`,

		// Trust score snapshots
		`CREATE TABLE IF NOT EXISTS farmer_scores (
			user_id     TEXT PRIMARY KEY,
			learning    REAL NOT NULL,
			missions    REAL NOT NULL,
			engagement  REAL NOT NULL,
			reliability REAL NOT NULL,
			total       REAL NOT NULL,
			tier        TEXT NOT NULL,
			inputs      TEXT NOT NULL,
			computed_at INTEGER NOT NULL
		)`,

		// Shop
		`CREATE TABLE IF NOT EXISTS shop_items (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			points_cost   INTEGER NOT NULL CHECK (points_cost > 0),
			stock         INTEGER NOT NULL DEFAULT -1,
			freeze_tokens INTEGER NOT NULL DEFAULT 0,
			active        BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS redemptions (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			item_id      TEXT NOT NULL REFERENCES shop_items(id),
			quantity     INTEGER NOT NULL CHECK (quantity > 0),
			points_spent INTEGER NOT NULL,
			code         TEXT NOT NULL UNIQUE,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_user ON redemptions(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// IsUniqueViolation reports whether err is a UNIQUE/PRIMARY KEY conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
