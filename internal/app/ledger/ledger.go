// Package ledger implements the points ledger and the XP/level system.
// Every points movement appends one immutable entry and updates the
// materialized balance in the same transaction. A balance can never go
// negative: debits are a compare-and-set on the balance row.
package ledger

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Service manages the points economy and XP.
type Service struct {
	db  *sqlite.DB
	now func() time.Time
}

// NewService creates a ledger service.
func NewService(db *sqlite.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ─── Points ─────────────────────────────────────────────────────────────────

// Earn credits m.Amount points to m.Subject.
func (s *Service) Earn(ctx context.Context, m domain.PointsMove) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		entry, err = s.EarnTx(tx, m, s.now())
		return err
	})
	return entry, err
}

// EarnTx is Earn inside a caller-owned transaction.
func (s *Service) EarnTx(tx *sqlite.Tx, m domain.PointsMove, now time.Time) (domain.LedgerEntry, error) {
	if err := validateMove(m); err != nil {
		return domain.LedgerEntry{}, err
	}
	entry, err := tx.CreditPoints(m.Subject.Key(), m.Amount, m.Source, m.RefID, m.Note, now)
	if err != nil {
		return entry, fmt.Errorf("earn: %w", err)
	}
	tx.AfterCommit(func() {
		metrics.PointsEarned.WithLabelValues(m.Source).Add(float64(m.Amount))
	})
	return entry, nil
}

// Redeem debits m.Amount points from m.Subject.
// Fails with domain.ErrInsufficientBalance, writing nothing, if the
// balance does not cover the amount.
func (s *Service) Redeem(ctx context.Context, m domain.PointsMove) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		entry, err = s.RedeemTx(tx, m, s.now())
		return err
	})
	return entry, err
}

// RedeemTx is Redeem inside a caller-owned transaction.
func (s *Service) RedeemTx(tx *sqlite.Tx, m domain.PointsMove, now time.Time) (domain.LedgerEntry, error) {
	if err := validateMove(m); err != nil {
		return domain.LedgerEntry{}, err
	}
	entry, ok, err := tx.DebitPoints(m.Subject.Key(), m.Amount, m.Source, m.RefID, m.Note, now)
	if err != nil {
		return entry, fmt.Errorf("redeem: %w", err)
	}
	if !ok {
		return entry, domain.ErrInsufficientBalance
	}
	tx.AfterCommit(func() {
		metrics.PointsRedeemed.WithLabelValues(m.Source).Add(float64(m.Amount))
	})
	return entry, nil
}

// Balance returns the materialized balance of subject.
func (s *Service) Balance(ctx context.Context, subject domain.Subject) (domain.Balance, error) {
	if !subject.Valid() {
		return domain.Balance{}, domain.ErrMissingSubject
	}
	var b domain.Balance
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		b, err = tx.GetBalance(subject.Key())
		return err
	})
	return b, err
}

// History returns recent ledger entries for subject, newest first.
func (s *Service) History(ctx context.Context, subject domain.Subject, limit int) ([]domain.LedgerEntry, error) {
	if !subject.Valid() {
		return nil, domain.ErrMissingSubject
	}
	var entries []domain.LedgerEntry
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		entries, err = tx.LedgerEntries(subject.Key(), limit)
		return err
	})
	return entries, err
}

// Verify checks that the materialized balance equals the sum of entries
// and that the XP total equals the sum of grants.
func (s *Service) Verify(ctx context.Context, subject domain.Subject) error {
	return s.db.View(ctx, func(tx *sqlite.Tx) error {
		b, err := tx.GetBalance(subject.Key())
		if err != nil {
			return err
		}
		sum, err := tx.LedgerSum(subject.Key())
		if err != nil {
			return err
		}
		if sum != b.Balance {
			return fmt.Errorf("ledger mismatch for %s: entries sum to %d, balance is %d", subject.Key(), sum, b.Balance)
		}
		if b.Balance < 0 {
			return fmt.Errorf("negative balance for %s: %d", subject.Key(), b.Balance)
		}
		total, _, err := tx.GetXP(subject.Key())
		if err != nil {
			return err
		}
		granted, err := tx.XPSum(subject.Key())
		if err != nil {
			return err
		}
		if granted != total {
			return fmt.Errorf("xp mismatch for %s: grants sum to %d, total is %d", subject.Key(), granted, total)
		}
		return nil
	})
}

func validateMove(m domain.PointsMove) error {
	if !m.Subject.Valid() {
		return domain.ErrMissingSubject
	}
	if m.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if strings.TrimSpace(m.Source) == "" {
		return domain.Validationf("source tag is required")
	}
	return nil
}

// ─── XP & Levels ────────────────────────────────────────────────────────────
// Exponential XP curve, L1-L100. Levels never decrease.

// MaxLevel is the level cap.
const MaxLevel = 100

// XPForLevel returns the cumulative XP required to reach a given level.
// Uses an exponential curve: 100 * 1.2^(level-1) for level >= 2.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	return int64(100 * math.Pow(1.2, float64(level-1)))
}

// LevelForXP returns the level for a given XP amount.
func LevelForXP(xp int64) int {
	level := 1
	for level < MaxLevel {
		if xp < XPForLevel(level+1) {
			return level
		}
		level++
	}
	return MaxLevel
}

// GrantXP awards amount XP to subject under an action label.
func (s *Service) GrantXP(ctx context.Context, subject domain.Subject, action string, amount int64, metadata map[string]string) (domain.XPResult, error) {
	var res domain.XPResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		res, err = s.GrantXPTx(tx, subject, action, amount, metadata, s.now())
		return err
	})
	return res, err
}

// GrantXPTx is GrantXP inside a caller-owned transaction.
func (s *Service) GrantXPTx(tx *sqlite.Tx, subject domain.Subject, action string, amount int64, metadata map[string]string, now time.Time) (domain.XPResult, error) {
	if !subject.Valid() {
		return domain.XPResult{}, domain.ErrMissingSubject
	}
	if amount <= 0 {
		return domain.XPResult{}, fmt.Errorf("xp amount must be positive, got %d: %w", amount, domain.ErrInvalidAmount)
	}

	total, stored, err := tx.AddXP(subject.Key(), action, amount, metadata, now)
	if err != nil {
		return domain.XPResult{}, fmt.Errorf("grant xp: %w", err)
	}

	level := LevelForXP(total)
	res := domain.XPResult{Level: stored, TotalXP: total}
	if level > stored {
		if err := tx.SetLevel(subject.Key(), level); err != nil {
			return res, fmt.Errorf("save level: %w", err)
		}
		res.Level = level
		res.LeveledUp = true
	}

	tx.AfterCommit(func() {
		metrics.XPGranted.WithLabelValues(action).Add(float64(amount))
		if res.LeveledUp {
			log.Printf("[ledger] %s reached level %d (%d XP)", subject.Key(), res.Level, total)
		}
	})
	return res, nil
}

// XPHistory returns recent XP grants for subject, newest first.
func (s *Service) XPHistory(ctx context.Context, subject domain.Subject, limit int) ([]domain.XPGrant, error) {
	if !subject.Valid() {
		return nil, domain.ErrMissingSubject
	}
	var grants []domain.XPGrant
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		grants, err = tx.XPGrants(subject.Key(), limit)
		return err
	})
	return grants, err
}

// Level returns subject's level and progress towards the next one.
func (s *Service) Level(ctx context.Context, subject domain.Subject) (domain.UserLevel, error) {
	if !subject.Valid() {
		return domain.UserLevel{}, domain.ErrMissingSubject
	}
	var ul domain.UserLevel
	err := s.db.View(ctx, func(tx *sqlite.Tx) error {
		total, stored, err := tx.GetXP(subject.Key())
		if err != nil {
			return err
		}
		ul = LevelOf(subject.Key(), total, stored)
		return nil
	})
	return ul, err
}

// LevelOf builds the level read model for a total XP amount.
// stored is the persisted level; the higher of the two wins.
func LevelOf(account string, total int64, stored int) domain.UserLevel {
	level := LevelForXP(total)
	if stored > level {
		level = stored
	}
	ul := domain.UserLevel{Account: account, TotalXP: total, Level: level}
	if level >= MaxLevel {
		ul.ProgressPct = 100.0
		return ul
	}

	thisLevel := XPForLevel(level)
	nextLevel := XPForLevel(level + 1)
	ul.XPToNext = nextLevel - total
	if ul.XPToNext < 0 {
		ul.XPToNext = 0
	}
	span := nextLevel - thisLevel
	if span <= 0 {
		ul.ProgressPct = 100.0
		return ul
	}
	pct := float64(total-thisLevel) / float64(span) * 100.0
	ul.ProgressPct = math.Max(0, math.Min(100, pct))
	return ul
}
