package engagement

import (
	"context"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Engine runs every tracked action through the reward pipeline.
//
// Ordered steps, all in one transaction:
//  1. reward resolution (daily cap, points, XP)
//  2. streak, when the action type qualifies
//  3. individual challenge progress
//  4. team challenge progress, once per team the user acts for
//  5. badge progress
//
// Steps 3-5 run only for rewarded occurrences. A failure anywhere rolls
// back every earlier step.
type Engine struct {
	db         *sqlite.DB
	resolver   *Resolver
	streaks    *StreakService
	challenges *ChallengeTracker
}

// NewEngine wires the pipeline.
func NewEngine(db *sqlite.DB, r *Resolver, s *StreakService, c *ChallengeTracker) *Engine {
	return &Engine{db: db, resolver: r, streaks: s, challenges: c}
}

// Track processes one action event.
func (e *Engine) Track(ctx context.Context, ev domain.ActionEvent) (domain.ActionOutcome, error) {
	defer metrics.ObserveSince("track", time.Now())

	if err := validateEvent(&ev); err != nil {
		return domain.ActionOutcome{}, err
	}
	var out domain.ActionOutcome
	err := e.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		dec, rule, err := e.resolver.rewardTx(tx, ev)
		if err != nil {
			return err
		}
		out.Reward = dec
		if _, known := e.resolver.Rule(ev.ActionType); !known {
			return nil
		}

		// A capped occurrence is still activity for the day.
		if rule.Streak {
			res, err := e.streaks.RecordActivityTx(tx, ev.UserID, ev.ActionType, ev.At)
			if err != nil {
				return err
			}
			out.Streak = &res
		}
		if !dec.Rewarded {
			return nil
		}

		key := rule.ChallengeKeyFor(ev.ActionType)
		updates, err := e.challenges.UpdateProgressTx(tx, domain.Individual(ev.UserID), key, 1, ev.At)
		if err != nil {
			return err
		}
		out.Challenges = append(out.Challenges, updates...)
		for _, team := range ev.TeamIDs {
			if team == "" {
				continue
			}
			updates, err := e.challenges.UpdateProgressTx(tx, domain.Team(team), key, 1, ev.At)
			if err != nil {
				return err
			}
			out.Challenges = append(out.Challenges, updates...)
		}

		out.Reward.Badge, err = e.resolver.badgeTx(tx, ev.UserID, rule, ev.At)
		return err
	})
	if err != nil {
		return domain.ActionOutcome{}, err
	}
	return out, nil
}
