package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Points Ledger
// ═══════════════════════════════════════════════════════════════════════════

// CreditPoints adds amount to account and appends the ledger entry.
func (t *Tx) CreditPoints(account string, amount int64, source, refID, note string, now time.Time) (domain.LedgerEntry, error) {
	var balance int64
	err := t.queryRow(`
		INSERT INTO point_balances (account, balance, lifetime_earned, lifetime_spent, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(account) DO UPDATE SET
			balance         = balance + excluded.balance,
			lifetime_earned = lifetime_earned + excluded.lifetime_earned,
			updated_at      = excluded.updated_at
		RETURNING balance`,
		account, amount, amount, now.Unix(),
	).Scan(&balance)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("credit %s: %w", account, err)
	}
	return t.insertEntry(account, amount, domain.EntryEarn, source, refID, note, balance, now)
}

// DebitPoints subtracts amount from account if the balance covers it.
// ok is false (and nothing is written) when it does not.
func (t *Tx) DebitPoints(account string, amount int64, source, refID, note string, now time.Time) (entry domain.LedgerEntry, ok bool, err error) {
	var balance int64
	err = t.queryRow(`
		UPDATE point_balances
		SET balance = balance - ?, lifetime_spent = lifetime_spent + ?, updated_at = ?
		WHERE account = ? AND balance >= ?
		RETURNING balance`,
		amount, amount, now.Unix(), account, amount,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, nil
	}
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("debit %s: %w", account, err)
	}
	entry, err = t.insertEntry(account, -amount, domain.EntryRedeem, source, refID, note, balance, now)
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	return entry, true, nil
}

func (t *Tx) insertEntry(account string, amount int64, kind domain.EntryKind, source, refID, note string, balanceAfter int64, now time.Time) (domain.LedgerEntry, error) {
	result, err := t.exec(`
		INSERT INTO points_ledger (account, amount, kind, source, ref_id, note, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account, amount, string(kind), source, nullStr(refID), nullStr(note), balanceAfter, now.Unix(),
	)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, _ := result.LastInsertId()
	return domain.LedgerEntry{
		ID:           id,
		Account:      account,
		Amount:       amount,
		Kind:         kind,
		Source:       source,
		RefID:        refID,
		Note:         note,
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Unix(now.Unix(), 0).UTC(),
	}, nil
}

// GetBalance returns the materialized balance. Unknown accounts read as zero.
func (t *Tx) GetBalance(account string) (domain.Balance, error) {
	b := domain.Balance{Account: account}
	var updated int64
	err := t.queryRow(`
		SELECT balance, lifetime_earned, lifetime_spent, updated_at
		FROM point_balances WHERE account = ?`, account,
	).Scan(&b.Balance, &b.LifetimeEarned, &b.LifetimeSpent, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("get balance %s: %w", account, err)
	}
	b.UpdatedAt = fromUnix(updated)
	return b, nil
}

// LedgerEntries returns the newest entries for account, newest first.
func (t *Tx) LedgerEntries(account string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.query(`
		SELECT id, account, amount, kind, source, ref_id, note, balance_after, created_at
		FROM points_ledger WHERE account = ?
		ORDER BY id DESC LIMIT ?`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger %s: %w", account, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e         domain.LedgerEntry
			kind      string
			ref, note sql.NullString
			created   int64
		)
		if err := rows.Scan(&e.ID, &e.Account, &e.Amount, &kind, &e.Source, &ref, &note, &e.BalanceAfter, &created); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		e.RefID = ref.String
		e.Note = note.String
		e.CreatedAt = fromUnix(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LedgerSum returns the signed sum of all entries for account.
func (t *Tx) LedgerSum(account string) (int64, error) {
	var sum int64
	err := t.queryRow(`SELECT COALESCE(SUM(amount), 0) FROM points_ledger WHERE account = ?`, account).Scan(&sum)
	return sum, err
}

// LedgerMismatch is an account whose materialized balance disagrees with
// its entries.
type LedgerMismatch struct {
	Account string
	Balance int64
	Sum     int64
}

// LedgerMismatches audits every account and returns up to limit mismatches.
func (t *Tx) LedgerMismatches(limit int) ([]LedgerMismatch, error) {
	rows, err := t.query(`
		SELECT b.account, b.balance, COALESCE(SUM(l.amount), 0) AS total
		FROM point_balances b
		LEFT JOIN points_ledger l ON l.account = b.account
		GROUP BY b.account, b.balance
		HAVING b.balance != total
		ORDER BY b.account
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit ledger: %w", err)
	}
	defer rows.Close()

	var out []LedgerMismatch
	for rows.Next() {
		var m LedgerMismatch
		if err := rows.Scan(&m.Account, &m.Balance, &m.Sum); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════
// XP & Levels
// ═══════════════════════════════════════════════════════════════════════════

// AddXP appends a grant and returns the account's new total and stored level.
func (t *Tx) AddXP(account, action string, amount int64, metadata map[string]string, now time.Time) (total int64, level int, err error) {
	var meta sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return 0, 0, fmt.Errorf("marshal xp metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}
	if _, err := t.exec(`
		INSERT INTO xp_grants (account, action, amount, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		account, action, amount, meta, now.Unix(),
	); err != nil {
		return 0, 0, fmt.Errorf("insert xp grant: %w", err)
	}
	err = t.queryRow(`
		INSERT INTO user_levels (account, total_xp, level, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(account) DO UPDATE SET
			total_xp   = total_xp + excluded.total_xp,
			updated_at = excluded.updated_at
		RETURNING total_xp, level`,
		account, amount, now.Unix(),
	).Scan(&total, &level)
	if err != nil {
		return 0, 0, fmt.Errorf("add xp %s: %w", account, err)
	}
	return total, level, nil
}

// SetLevel stores the level derived from total XP.
func (t *Tx) SetLevel(account string, level int) error {
	_, err := t.exec(`UPDATE user_levels SET level = ? WHERE account = ?`, level, account)
	return err
}

// GetXP returns the account's XP total and stored level (0, 1 if none).
func (t *Tx) GetXP(account string) (total int64, level int, err error) {
	err = t.queryRow(`SELECT total_xp, level FROM user_levels WHERE account = ?`, account).Scan(&total, &level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 1, nil
	}
	return total, level, err
}

// XPGrants returns the newest grants for account, newest first.
func (t *Tx) XPGrants(account string, limit int) ([]domain.XPGrant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.query(`
		SELECT id, account, action, amount, metadata, created_at
		FROM xp_grants WHERE account = ?
		ORDER BY id DESC LIMIT ?`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.XPGrant
	for rows.Next() {
		var (
			g       domain.XPGrant
			meta    sql.NullString
			created int64
		)
		if err := rows.Scan(&g.ID, &g.Account, &g.Action, &g.Amount, &meta, &created); err != nil {
			return nil, err
		}
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &g.Metadata)
		}
		g.CreatedAt = fromUnix(created)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// XPSum returns the sum of all grants for account.
func (t *Tx) XPSum(account string) (int64, error) {
	var sum int64
	err := t.queryRow(`SELECT COALESCE(SUM(amount), 0) FROM xp_grants WHERE account = ?`, account).Scan(&sum)
	return sum, err
}
