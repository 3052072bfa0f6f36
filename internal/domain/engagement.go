// Package domain holds the pure types of the progress and reward engine.
// No infrastructure imports: storage and transport depend on this package,
// never the other way round.
package domain

import (
	"strings"
	"time"
)

// ─── Subjects ───────────────────────────────────────────────────────────────

// SubjectKind tags who owns a balance or a challenge row.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectTeam SubjectKind = "team"
)

// Subject is the tagged variant Individual(userID) | Team(teamID).
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// Individual returns the subject for a single user.
func Individual(userID string) Subject { return Subject{Kind: SubjectUser, ID: userID} }

// Team returns the subject for a team.
func Team(teamID string) Subject { return Subject{Kind: SubjectTeam, ID: teamID} }

// Key is the storage key used for ledger accounts and progress rows.
func (s Subject) Key() string { return string(s.Kind) + ":" + s.ID }

// Valid reports whether the subject is usable.
func (s Subject) Valid() bool {
	return (s.Kind == SubjectUser || s.Kind == SubjectTeam) && strings.TrimSpace(s.ID) != ""
}

// ParseSubjectKey is the inverse of Subject.Key.
func ParseSubjectKey(key string) (Subject, bool) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Subject{}, false
	}
	s := Subject{Kind: SubjectKind(kind), ID: id}
	return s, s.Valid()
}

// ─── Points Ledger ──────────────────────────────────────────────────────────

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	EntryEarn   EntryKind = "earn"
	EntryRedeem EntryKind = "redeem"
)

// LedgerEntry is one immutable points movement. Amount is signed:
// positive for earn, negative for redeem.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	Account      string    `json:"account"`
	Amount       int64     `json:"amount"`
	Kind         EntryKind `json:"kind"`
	Source       string    `json:"source"`
	RefID        string    `json:"ref_id,omitempty"`
	Note         string    `json:"note,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// PointsMove is the input to Earn and Redeem.
type PointsMove struct {
	Subject Subject `json:"subject"`
	Amount  int64   `json:"amount"`
	Source  string  `json:"source"`
	RefID   string  `json:"ref_id,omitempty"`
	Note    string  `json:"note,omitempty"`
}

// Balance is the materialized balance of one account.
type Balance struct {
	Account        string    `json:"account"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ─── XP / Levels ────────────────────────────────────────────────────────────

// XPGrant is an immutable XP award.
type XPGrant struct {
	ID        int64             `json:"id"`
	Account   string            `json:"account"`
	Action    string            `json:"action"`
	Amount    int64             `json:"amount"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// UserLevel is the XP total and the level it maps to.
type UserLevel struct {
	Account     string  `json:"account"`
	TotalXP     int64   `json:"total_xp"`
	Level       int     `json:"level"`
	XPToNext    int64   `json:"xp_to_next"`
	ProgressPct float64 `json:"progress_pct"`
}

// XPResult reports the effect of one grant.
type XPResult struct {
	Level     int   `json:"level"`
	TotalXP   int64 `json:"total_xp"`
	LeveledUp bool  `json:"leveled_up"`
}

// XP sources used when the engine itself grants XP.
const (
	XPStreakMilestone   = "streak_milestone"
	XPChallengeComplete = "challenge_completed"
	XPMissionStep       = "mission_step"
	XPMissionComplete   = "mission_completed"
	XPReferral          = "referral"
)

// ─── Streak Types ───────────────────────────────────────────────────────────

// StreakState is the lazily evaluated state of a streak record.
type StreakState string

const (
	StreakCold   StreakState = "cold"
	StreakWarm   StreakState = "warm"
	StreakAtRisk StreakState = "at_risk"
	StreakBroken StreakState = "broken"
)

// StreakRecord is the stored per-user streak.
// LastDay is a timezone-less local date ("2006-01-02").
type StreakRecord struct {
	UserID        string    `json:"user_id"`
	Current       int       `json:"current"`
	Longest       int       `json:"longest"`
	LastDay       string    `json:"last_day,omitempty"`
	FreezeTokens  int       `json:"freeze_tokens"`
	MilestoneMark int       `json:"milestone_mark"` // highest milestone paid in this run
	UpdatedAt     time.Time `json:"updated_at"`
}

// StreakStatus is the read model of a streak at a point in time.
type StreakStatus struct {
	StreakRecord
	State   StreakState `json:"state"`
	CanSave bool        `json:"can_save"`
}

// StreakResult reports what RecordActivity did.
type StreakResult struct {
	Streak     StreakRecord      `json:"streak"`
	Changed    bool              `json:"changed"`
	FreezeUsed bool              `json:"freeze_used"`
	Reset      bool              `json:"reset"`
	Milestones []StreakMilestone `json:"milestones,omitempty"`
}

// DayLayout is the calendar-day format used throughout the engine.
const DayLayout = "2006-01-02"

// DayOf returns the timezone-less local date of t.
func DayOf(t time.Time) string { return t.Format(DayLayout) }

// DaysBetween returns the number of calendar days from a to b ("2006-01-02").
func DaysBetween(a, b string) (int, error) {
	ta, err := time.Parse(DayLayout, a)
	if err != nil {
		return 0, err
	}
	tb, err := time.Parse(DayLayout, b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// ─── Action Rewards ─────────────────────────────────────────────────────────

// ActionEvent is a raw trackable action from a UI handler.
type ActionEvent struct {
	UserID     string            `json:"user_id"`
	ActionType string            `json:"action_type"`
	At         time.Time         `json:"at"`
	TeamIDs    []string          `json:"team_ids,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// RewardDecision is the result of resolving one action occurrence.
type RewardDecision struct {
	Rewarded      bool           `json:"rewarded"`
	Reason        string         `json:"reason,omitempty"`
	PointsAwarded int64          `json:"points_awarded"`
	XPAwarded     int64          `json:"xp_awarded"`
	DailyCount    int            `json:"daily_count"`
	DailyLimit    int            `json:"daily_limit"`
	Badge         *BadgeProgress `json:"badge,omitempty"`
	LeveledUp     bool           `json:"leveled_up,omitempty"`
}

// Reasons reported when an action is not rewarded.
const (
	ReasonDailyLimit = "daily limit reached"
	ReasonNoRule     = "no reward configured"
)

// ─── Badges ─────────────────────────────────────────────────────────────────

// BadgeTier names, lowest first.
var BadgeTiers = []string{"bronze", "silver", "gold"}

// BadgeProgress is the generic counter behind a badge.
type BadgeProgress struct {
	Badge      string `json:"badge"`
	Count      int    `json:"count"`
	Tier       string `json:"tier,omitempty"`
	NextTier   string `json:"next_tier,omitempty"`
	NextTarget int    `json:"next_target,omitempty"`
	Unlocked   string `json:"unlocked,omitempty"` // tier unlocked by this increment
}

// BadgeUnlock records a tier reached once.
type BadgeUnlock struct {
	Badge      string    `json:"badge"`
	Tier       string    `json:"tier"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// ─── Pipeline ───────────────────────────────────────────────────────────────

// ActionOutcome is everything one tracked action caused.
type ActionOutcome struct {
	Reward     RewardDecision    `json:"reward"`
	Streak     *StreakResult     `json:"streak,omitempty"`
	Challenges []ChallengeUpdate `json:"challenges,omitempty"`
}
