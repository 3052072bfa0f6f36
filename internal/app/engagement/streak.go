package engagement

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// StreakService manages daily activity streaks.
// A day is the timezone-less local date of the activity timestamp.
// Same day: no-op. Next day: extend. Older: spend a freeze token to extend,
// otherwise restart at 1. State is evaluated lazily on read; nothing ticks.
type StreakService struct {
	db     *sqlite.DB
	ledger *ledger.Service
	rules  domain.StreakRules
}

// NewStreakService creates a streak service.
func NewStreakService(db *sqlite.DB, l *ledger.Service, rules domain.StreakRules) *StreakService {
	rules.Milestones = append([]domain.StreakMilestone(nil), rules.Milestones...)
	sort.Slice(rules.Milestones, func(i, j int) bool { return rules.Milestones[i].Days < rules.Milestones[j].Days })
	return &StreakService{db: db, ledger: l, rules: rules}
}

// RecordActivity records a qualifying activity at the given time.
func (s *StreakService) RecordActivity(ctx context.Context, userID, activity string, at time.Time) (domain.StreakResult, error) {
	if userID == "" {
		return domain.StreakResult{}, domain.ErrMissingSubject
	}
	var res domain.StreakResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		res, err = s.RecordActivityTx(tx, userID, activity, at)
		return err
	})
	return res, err
}

// RecordActivityTx is RecordActivity inside a caller-owned transaction.
func (s *StreakService) RecordActivityTx(tx *sqlite.Tx, userID, activity string, at time.Time) (domain.StreakResult, error) {
	rec, version, found, err := tx.GetStreak(userID)
	if err != nil {
		return domain.StreakResult{}, err
	}
	if !found {
		rec.FreezeTokens = min(s.rules.InitialFreezeTokens, s.rules.MaxFreezeTokens)
	}

	today := domain.DayOf(at)
	res := domain.StreakResult{Streak: rec}

	if rec.LastDay == "" || rec.Current == 0 {
		// First activity or fresh run
		rec.Current = 1
		rec.MilestoneMark = 0
	} else {
		gap, err := domain.DaysBetween(rec.LastDay, today)
		if err != nil {
			return res, fmt.Errorf("streak day %q: %w", rec.LastDay, err)
		}
		switch {
		case gap <= 0:
			// Already recorded today, or an event older than the last
			// recorded day arriving late.
			return res, nil
		case gap == 1:
			rec.Current++
		case rec.FreezeTokens > 0:
			rec.FreezeTokens--
			rec.Current++
			res.FreezeUsed = true
		default:
			rec.Current = 1
			rec.MilestoneMark = 0
			res.Reset = true
		}
	}

	rec.LastDay = today
	if rec.Current > rec.Longest {
		rec.Longest = rec.Current
	}

	// Milestones pay once per run
	for _, m := range s.rules.Milestones {
		if m.Days <= rec.MilestoneMark || rec.Current < m.Days {
			continue
		}
		if m.XP > 0 {
			meta := map[string]string{"days": strconv.Itoa(m.Days), "activity": activity}
			if _, err := s.ledger.GrantXPTx(tx, domain.Individual(userID), domain.XPStreakMilestone, m.XP, meta, at); err != nil {
				return res, err
			}
		}
		rec.FreezeTokens = min(rec.FreezeTokens+m.FreezeTokens, s.rules.MaxFreezeTokens)
		rec.MilestoneMark = m.Days
		res.Milestones = append(res.Milestones, m)
	}

	if found {
		err = tx.UpdateStreak(rec, version, at)
	} else {
		rec.UserID = userID
		err = tx.InsertStreak(rec, at)
	}
	if err != nil {
		return res, err
	}
	rec.UpdatedAt = time.Unix(at.Unix(), 0).UTC()

	res.Streak = rec
	res.Changed = true
	milestones := res.Milestones
	tx.AfterCommit(func() {
		for _, m := range milestones {
			metrics.StreakMilestones.WithLabelValues(strconv.Itoa(m.Days)).Inc()
			log.Printf("[streak] %s reached %d-day milestone", userID, m.Days)
		}
	})
	return res, nil
}

// Status returns the lazily evaluated streak state at now.
// A broken streak reads as current 0 without being written.
func (s *StreakService) Status(ctx context.Context, userID string, now time.Time) (domain.StreakStatus, error) {
	if userID == "" {
		return domain.StreakStatus{}, domain.ErrMissingSubject
	}
	var st domain.StreakStatus
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		st, err = s.StatusTx(tx, userID, now)
		return err
	})
	return st, err
}

// StatusTx is Status inside a caller-owned transaction.
func (s *StreakService) StatusTx(tx *sqlite.Tx, userID string, now time.Time) (domain.StreakStatus, error) {
	rec, _, found, err := tx.GetStreak(userID)
	if err != nil {
		return domain.StreakStatus{}, err
	}
	if !found {
		rec.FreezeTokens = min(s.rules.InitialFreezeTokens, s.rules.MaxFreezeTokens)
	}
	return EvaluateStreak(rec, now)
}

// EvaluateStreak derives the state of a record at now.
func EvaluateStreak(rec domain.StreakRecord, now time.Time) (domain.StreakStatus, error) {
	st := domain.StreakStatus{StreakRecord: rec, State: domain.StreakCold}
	if rec.LastDay == "" || rec.Current == 0 {
		st.Current = 0
		return st, nil
	}
	gap, err := domain.DaysBetween(rec.LastDay, domain.DayOf(now))
	if err != nil {
		return st, fmt.Errorf("streak day %q: %w", rec.LastDay, err)
	}
	switch {
	case gap <= 0:
		st.State = domain.StreakWarm
	case gap == 1:
		st.State = domain.StreakAtRisk
	case rec.FreezeTokens > 0:
		st.State = domain.StreakAtRisk
	default:
		st.State = domain.StreakBroken
		st.Current = 0
	}
	st.CanSave = st.State == domain.StreakAtRisk && rec.FreezeTokens > 0
	return st, nil
}

// CanSave reports whether the streak is at risk and a freeze is available.
func (s *StreakService) CanSave(ctx context.Context, userID string, now time.Time) (bool, error) {
	st, err := s.Status(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return st.CanSave, nil
}

// SaveStreak rescues an at-risk streak. The caller must have completed one
// of the configured recovery actions.
func (s *StreakService) SaveStreak(ctx context.Context, userID, recoveryAction string, at time.Time) (domain.StreakResult, error) {
	if userID == "" {
		return domain.StreakResult{}, domain.ErrMissingSubject
	}
	if !s.rules.IsRecoveryAction(recoveryAction) {
		return domain.StreakResult{}, domain.ErrNotRecoveryAction
	}
	var res domain.StreakResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		st, err := s.StatusTx(tx, userID, at)
		if err != nil {
			return err
		}
		if !st.CanSave {
			return domain.ErrCannotSave
		}
		res, err = s.RecordActivityTx(tx, userID, recoveryAction, at)
		return err
	})
	return res, err
}

// GrantFreezeTokensTx adds n freeze tokens, capped at the configured maximum.
func (s *StreakService) GrantFreezeTokensTx(tx *sqlite.Tx, userID string, n int, now time.Time) (int, error) {
	if n <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return tx.AddFreezeTokens(userID, n, s.rules.InitialFreezeTokens, s.rules.MaxFreezeTokens, now)
}
