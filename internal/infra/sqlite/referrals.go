package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Referral Codes
// ═══════════════════════════════════════════════════════════════════════════

// ErrCodeTaken is returned when a generated code collides with another user's.
var ErrCodeTaken = errors.New("referral code already taken")

// GetReferralCode returns the user's code, if one exists.
func (t *Tx) GetReferralCode(userID string) (string, bool, error) {
	var code string
	err := t.queryRow(`SELECT code FROM referral_codes WHERE user_id = ?`, userID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return code, err == nil, err
}

// InsertReferralCode stores a user's code once.
// Returns ErrCodeTaken on collision with another user's code.
func (t *Tx) InsertReferralCode(userID, code string, now time.Time) error {
	_, err := t.exec(`INSERT INTO referral_codes (user_id, code, created_at) VALUES (?, ?, ?)`,
		userID, code, now.Unix())
	if IsUniqueViolation(err) {
		return ErrCodeTaken
	}
	return err
}

// ReferralCodeOwner resolves a code to its owner.
func (t *Tx) ReferralCodeOwner(code string) (string, bool, error) {
	var userID string
	err := t.queryRow(`SELECT user_id FROM referral_codes WHERE code = ?`, code).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return userID, err == nil, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Referrals
// ═══════════════════════════════════════════════════════════════════════════

// ErrDuplicateReferral is returned when the referred user already has a row.
var ErrDuplicateReferral = errors.New("referred user already has a referral")

const referralCols = `id, referrer_id, referred_id, code, status, activation_action,
	referrer_points, referrer_xp, referred_points, referred_xp, created_at, activated_at`

// InsertReferral creates a referral row. referred_id is unique.
func (t *Tx) InsertReferral(r domain.Referral) error {
	_, err := t.exec(`
		INSERT INTO referrals (`+referralCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReferrerID, r.ReferredID, r.Code, string(r.Status), r.ActivationAction,
		r.ReferrerPoints, r.ReferrerXP, r.ReferredPoints, r.ReferredXP,
		r.CreatedAt.Unix(), nullableUnix(r.ActivatedAt),
	)
	if IsUniqueViolation(err) {
		return ErrDuplicateReferral
	}
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

// ReferralFor returns the inbound referral of a referred user.
func (t *Tx) ReferralFor(referredID string) (domain.Referral, bool, error) {
	r, err := scanReferral(t.queryRow(`SELECT `+referralCols+` FROM referrals WHERE referred_id = ?`, referredID))
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	return r, err == nil, err
}

// ReferralsBy lists the referrals made by a referrer, newest first.
func (t *Tx) ReferralsBy(referrerID string) ([]domain.Referral, error) {
	rows, err := t.query(`SELECT `+referralCols+` FROM referrals WHERE referrer_id = ? ORDER BY created_at DESC, id`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActivateReferral flips a pending referral to activated and records the
// rewards paid. Only the caller that performs the flip sees true.
func (t *Tx) ActivateReferral(r domain.Referral, now time.Time) (bool, error) {
	return t.execCAS(`
		UPDATE referrals
		SET status = 'activated', activation_action = ?, referrer_points = ?, referrer_xp = ?,
			referred_points = ?, referred_xp = ?, activated_at = ?
		WHERE id = ? AND status = 'pending'`,
		r.ActivationAction, r.ReferrerPoints, r.ReferrerXP, r.ReferredPoints, r.ReferredXP, now.Unix(), r.ID)
}

func scanReferral(s scanner) (domain.Referral, error) {
	var (
		r         domain.Referral
		status    string
		created   int64
		activated sql.NullInt64
	)
	err := s.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.Code, &status, &r.ActivationAction,
		&r.ReferrerPoints, &r.ReferrerXP, &r.ReferredPoints, &r.ReferredXP, &created, &activated)
	if err != nil {
		return r, err
	}
	r.Status = domain.ReferralStatus(status)
	r.CreatedAt = fromUnix(created)
	r.ActivatedAt = timePtr(activated)
	return r, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Milestone Ledger
// ═══════════════════════════════════════════════════════════════════════════

// ReferralCounters is the per-referrer milestone ledger row.
type ReferralCounters struct {
	Total     int
	Activated int
	Tier      string
}

// BumpReferralCounters adds to a referrer's counters, creating the row at
// baseTier when missing, and returns the new values.
func (t *Tx) BumpReferralCounters(userID string, total, activated int, baseTier string, now time.Time) (ReferralCounters, error) {
	var c ReferralCounters
	err := t.queryRow(`
		INSERT INTO referral_ledger (user_id, total_referrals, activated_referrals, tier, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_referrals     = total_referrals + excluded.total_referrals,
			activated_referrals = activated_referrals + excluded.activated_referrals,
			updated_at          = excluded.updated_at
		RETURNING total_referrals, activated_referrals, tier`,
		userID, total, activated, baseTier, now.Unix(),
	).Scan(&c.Total, &c.Activated, &c.Tier)
	if err != nil {
		return c, fmt.Errorf("bump referral counters %s: %w", userID, err)
	}
	return c, nil
}

// GetReferralCounters returns a referrer's counters; missing rows read as
// zero at baseTier.
func (t *Tx) GetReferralCounters(userID, baseTier string) (ReferralCounters, error) {
	c := ReferralCounters{Tier: baseTier}
	err := t.queryRow(`
		SELECT total_referrals, activated_referrals, tier
		FROM referral_ledger WHERE user_id = ?`, userID,
	).Scan(&c.Total, &c.Activated, &c.Tier)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	return c, err
}

// SetReferralTier stores a referrer's tier label.
func (t *Tx) SetReferralTier(userID, tier string, now time.Time) error {
	_, err := t.exec(`UPDATE referral_ledger SET tier = ?, updated_at = ? WHERE user_id = ?`,
		tier, now.Unix(), userID)
	return err
}

// ClaimReferralMilestone records a one-time claim. Returns true only for the
// first claim of (user, threshold).
func (t *Tx) ClaimReferralMilestone(userID string, threshold int, points int64, now time.Time) (bool, error) {
	return t.execCAS(`
		INSERT OR IGNORE INTO referral_milestone_claims (user_id, threshold, points, claimed_at)
		VALUES (?, ?, ?, ?)`, userID, threshold, points, now.Unix())
}

// ReferralMilestoneClaims returns claim times keyed by threshold.
func (t *Tx) ReferralMilestoneClaims(userID string) (map[int]time.Time, error) {
	rows, err := t.query(`SELECT threshold, claimed_at FROM referral_milestone_claims WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := make(map[int]time.Time)
	for rows.Next() {
		var (
			threshold int
			at        int64
		)
		if err := rows.Scan(&threshold, &at); err != nil {
			return nil, err
		}
		claims[threshold] = fromUnix(at)
	}
	return claims, rows.Err()
}
