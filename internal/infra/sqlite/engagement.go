package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Action Counters
// ═══════════════════════════════════════════════════════════════════════════

// IncrementDailyCounter bumps the (account, action, day) counter unless it
// already reached limit (0 = unlimited). ok is false when the cap held.
func (t *Tx) IncrementDailyCounter(account, action, day string, limit int) (count int, ok bool, err error) {
	err = t.queryRow(`
		INSERT INTO action_counters (account, action, day, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(account, action, day) DO UPDATE SET count = count + 1
		WHERE ? = 0 OR count < ?
		RETURNING count`,
		account, action, day, limit, limit,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		count, err = t.DailyCount(account, action, day)
		return count, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment counter %s/%s: %w", account, action, err)
	}
	return count, true, nil
}

// DailyCount returns today's counter for one action.
func (t *Tx) DailyCount(account, action, day string) (int, error) {
	var n int
	err := t.queryRow(`
		SELECT COALESCE(MAX(count), 0) FROM action_counters
		WHERE account = ? AND action = ? AND day = ?`, account, action, day,
	).Scan(&n)
	return n, err
}

// DailyTotal returns the number of rewarded actions on day across all types.
func (t *Tx) DailyTotal(account, day string) (int, error) {
	var n int
	err := t.queryRow(`
		SELECT COALESCE(SUM(count), 0) FROM action_counters
		WHERE account = ? AND day = ?`, account, day,
	).Scan(&n)
	return n, err
}

// IncrementActionTotal bumps the lifetime counter for one action.
func (t *Tx) IncrementActionTotal(account, action string) error {
	_, err := t.exec(`
		INSERT INTO action_totals (account, action, count) VALUES (?, ?, 1)
		ON CONFLICT(account, action) DO UPDATE SET count = count + 1`,
		account, action)
	return err
}

// ActionTotal returns the summed lifetime counters for the given actions.
func (t *Tx) ActionTotal(account string, actions ...string) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(actions)+1)
	args = append(args, account)
	for _, a := range actions {
		args = append(args, a)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(actions)), ",")
	var n int
	err := t.queryRow(
		`SELECT COALESCE(SUM(count), 0) FROM action_totals WHERE account = ? AND action IN (`+placeholders+`)`,
		args...,
	).Scan(&n)
	return n, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Badges
// ═══════════════════════════════════════════════════════════════════════════

// IncrementBadge bumps a badge counter and returns the new count.
func (t *Tx) IncrementBadge(account, badge string) (int, error) {
	var n int
	err := t.queryRow(`
		INSERT INTO badge_progress (account, badge, count) VALUES (?, ?, 1)
		ON CONFLICT(account, badge) DO UPDATE SET count = count + 1
		RETURNING count`, account, badge,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment badge %s/%s: %w", account, badge, err)
	}
	return n, nil
}

// UnlockBadge records a tier once. Returns true only on first unlock.
func (t *Tx) UnlockBadge(account, badge, tier string, now time.Time) (bool, error) {
	return t.execCAS(`
		INSERT OR IGNORE INTO badge_unlocks (account, badge, tier, unlocked_at)
		VALUES (?, ?, ?, ?)`, account, badge, tier, now.Unix())
}

// BadgeCounts returns every badge counter for account.
func (t *Tx) BadgeCounts(account string) (map[string]int, error) {
	rows, err := t.query(`SELECT badge, count FROM badge_progress WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			badge string
			n     int
		)
		if err := rows.Scan(&badge, &n); err != nil {
			return nil, err
		}
		counts[badge] = n
	}
	return counts, rows.Err()
}

// BadgeUnlocks returns every recorded tier unlock, oldest first.
func (t *Tx) BadgeUnlocks(account string) ([]domain.BadgeUnlock, error) {
	rows, err := t.query(`
		SELECT badge, tier, unlocked_at FROM badge_unlocks
		WHERE account = ? ORDER BY unlocked_at, badge`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []domain.BadgeUnlock
	for rows.Next() {
		var (
			u  domain.BadgeUnlock
			at int64
		)
		if err := rows.Scan(&u.Badge, &u.Tier, &at); err != nil {
			return nil, err
		}
		u.UnlockedAt = fromUnix(at)
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════
// Streaks
// ═══════════════════════════════════════════════════════════════════════════

// ErrStaleStreak is returned when a streak row changed under a CAS update.
var ErrStaleStreak = errors.New("streak record modified concurrently")

// GetStreak returns the stored record and its version.
// found is false for users that never recorded activity.
func (t *Tx) GetStreak(userID string) (rec domain.StreakRecord, version int64, found bool, err error) {
	var updated int64
	err = t.queryRow(`
		SELECT user_id, current, longest, last_day, freeze_tokens, milestone_mark, version, updated_at
		FROM streaks WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.Current, &rec.Longest, &rec.LastDay, &rec.FreezeTokens, &rec.MilestoneMark, &version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StreakRecord{UserID: userID}, 0, false, nil
	}
	if err != nil {
		return rec, 0, false, fmt.Errorf("get streak %s: %w", userID, err)
	}
	rec.UpdatedAt = fromUnix(updated)
	return rec, version, true, nil
}

// InsertStreak creates the first record for a user.
func (t *Tx) InsertStreak(rec domain.StreakRecord, now time.Time) error {
	_, err := t.exec(`
		INSERT INTO streaks (user_id, current, longest, last_day, freeze_tokens, milestone_mark, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		rec.UserID, rec.Current, rec.Longest, rec.LastDay, rec.FreezeTokens, rec.MilestoneMark, now.Unix())
	if IsUniqueViolation(err) {
		return ErrStaleStreak
	}
	return err
}

// UpdateStreak writes rec if the stored version still equals version.
func (t *Tx) UpdateStreak(rec domain.StreakRecord, version int64, now time.Time) error {
	ok, err := t.execCAS(`
		UPDATE streaks
		SET current = ?, longest = ?, last_day = ?, freeze_tokens = ?, milestone_mark = ?,
			version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`,
		rec.Current, rec.Longest, rec.LastDay, rec.FreezeTokens, rec.MilestoneMark, now.Unix(),
		rec.UserID, version)
	if err != nil {
		return fmt.Errorf("update streak %s: %w", rec.UserID, err)
	}
	if !ok {
		return ErrStaleStreak
	}
	return nil
}

// AddFreezeTokens grants n freeze tokens capped at maxTokens. A missing record is
// created holding initial+n. Returns the new token count.
func (t *Tx) AddFreezeTokens(userID string, n, initial, maxTokens int, now time.Time) (int, error) {
	var tokens int
	err := t.queryRow(`
		INSERT INTO streaks (user_id, freeze_tokens, version, updated_at)
		VALUES (?, MIN(? + ?, ?), 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			freeze_tokens = MIN(freeze_tokens + ?, ?),
			version       = version + 1,
			updated_at    = excluded.updated_at
		RETURNING freeze_tokens`,
		userID, initial, n, maxTokens, now.Unix(), n, maxTokens,
	).Scan(&tokens)
	if err != nil {
		return 0, fmt.Errorf("add freeze tokens %s: %w", userID, err)
	}
	return tokens, nil
}
