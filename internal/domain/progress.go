package domain

import "time"

// ─── Challenges ─────────────────────────────────────────────────────────────

// Recurrence controls how a challenge template is split into windows.
type Recurrence string

const (
	RecurNone   Recurrence = "none"
	RecurWeekly Recurrence = "weekly"
)

// ChallengeStatus tracks a progress row.
type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeExpired   ChallengeStatus = "expired"
)

// ChallengeTemplate defines a time-windowed target-count goal.
type ChallengeTemplate struct {
	ID           string      `json:"id" toml:"id"`
	Title        string      `json:"title" toml:"title"`
	SubjectKind  SubjectKind `json:"subject_kind" toml:"subject_kind"`
	TeamID       string      `json:"team_id,omitempty" toml:"team_id"` // team variant scoped to one team; "" = any team
	ActionKey    string      `json:"action_key" toml:"action_key"`
	Target       int         `json:"target" toml:"target"`
	RewardPoints int64       `json:"reward_points" toml:"reward_points"`
	RewardXP     int64       `json:"reward_xp" toml:"reward_xp"`
	StartsAt     time.Time   `json:"starts_at" toml:"starts_at"`
	EndsAt       time.Time   `json:"ends_at" toml:"ends_at"`
	Recurrence   Recurrence  `json:"recurrence" toml:"recurrence"`
	IsActive     bool        `json:"is_active" toml:"is_active"`
}

// Contains reports whether now falls inside [StartsAt, EndsAt).
// A zero EndsAt means open-ended.
func (t ChallengeTemplate) Contains(now time.Time) bool {
	if now.Before(t.StartsAt) {
		return false
	}
	return t.EndsAt.IsZero() || now.Before(t.EndsAt)
}

// Window returns the window instance containing now.
// Weekly windows start Monday 00:00 UTC and are clipped to the template bounds.
func (t ChallengeTemplate) Window(now time.Time) (start, end time.Time) {
	if t.Recurrence != RecurWeekly {
		return t.StartsAt, t.EndsAt
	}
	start = WeekStart(now)
	end = start.AddDate(0, 0, 7)
	if start.Before(t.StartsAt) {
		start = t.StartsAt
	}
	if !t.EndsAt.IsZero() && end.After(t.EndsAt) {
		end = t.EndsAt
	}
	return start, end
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// ChallengeProgress is one subject's progress in one window instance.
type ChallengeProgress struct {
	ID          int64           `json:"id"`
	Subject     Subject         `json:"subject"`
	TemplateID  string          `json:"template_id"`
	Title       string          `json:"title,omitempty"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end,omitempty"`
	Progress    int             `json:"progress"`
	Target      int             `json:"target"`
	Status      ChallengeStatus `json:"status"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ProgressPct returns completion percentage (0-100).
func (p ChallengeProgress) ProgressPct() float64 {
	if p.Target <= 0 {
		return 100.0
	}
	pct := float64(p.Progress) / float64(p.Target) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// ChallengeUpdate reports one row touched by UpdateProgress.
type ChallengeUpdate struct {
	Progress      ChallengeProgress `json:"progress"`
	Completed     bool              `json:"completed"` // flipped to completed by this call
	PointsAwarded int64             `json:"points_awarded"`
	XPAwarded     int64             `json:"xp_awarded"`
}

// ─── Missions ───────────────────────────────────────────────────────────────

// MissionStatus tracks a user mission instance.
type MissionStatus string

const (
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
	MissionAbandoned MissionStatus = "abandoned"
)

// StepStatus tracks one step of a user mission.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
)

// Done reports whether the step no longer blocks later steps.
func (s StepStatus) Done() bool { return s == StepCompleted || s == StepSkipped }

// MissionStep is a step definition inside a mission template.
type MissionStep struct {
	Name       string `json:"name" toml:"name"`
	OffsetDays int    `json:"offset_days" toml:"offset_days"`
	Optional   bool   `json:"optional,omitempty" toml:"optional"`
}

// MissionTemplate is an immutable catalog entry.
type MissionTemplate struct {
	ID               string        `json:"id" toml:"id"`
	Name             string        `json:"name" toml:"name"`
	Category         string        `json:"category,omitempty" toml:"category"`
	CompletionPoints int64         `json:"completion_points" toml:"completion_points"`
	CompletionXP     int64         `json:"completion_xp" toml:"completion_xp"`
	Steps            []MissionStep `json:"steps" toml:"steps"`
}

// UserMission is a mission instance.
type UserMission struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	MissionID    string         `json:"mission_id"`
	FieldID      string         `json:"field_id,omitempty"`
	Status       MissionStatus  `json:"status"`
	CurrentStep  int            `json:"current_step"`
	TotalSteps   int            `json:"total_steps"`
	ProgressPct  float64        `json:"progress_pct"`
	RewardPoints int64          `json:"reward_points"`
	RewardXP     int64          `json:"reward_xp"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Steps        []StepProgress `json:"steps,omitempty"`
}

// StepProgress is one stored step row.
type StepProgress struct {
	Index       int        `json:"index"`
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	DueAt       time.Time  `json:"due_at"`
	Evidence    string     `json:"evidence,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepResult reports what CompleteStep did.
type StepResult struct {
	Mission          UserMission  `json:"mission"`
	AlreadyCompleted bool         `json:"already_completed"`
	XPAwarded        int64        `json:"xp_awarded"`
	MissionCompleted bool         `json:"mission_completed"`
	CompletionPoints int64        `json:"completion_points"`
	CompletionXP     int64        `json:"completion_xp"`
	Score            *FarmerScore `json:"score,omitempty"`
}

// ─── Referrals ──────────────────────────────────────────────────────────────

// ReferralStatus tracks one referral.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralActivated ReferralStatus = "activated"
	ReferralRewarded  ReferralStatus = "rewarded" // milestone bookkeeping only
)

// Referral links a referrer to a referred user.
type Referral struct {
	ID               string         `json:"id"`
	ReferrerID       string         `json:"referrer_id"`
	ReferredID       string         `json:"referred_id"`
	Code             string         `json:"code"`
	Status           ReferralStatus `json:"status"`
	ActivationAction string         `json:"activation_action,omitempty"`
	ReferrerPoints   int64          `json:"referrer_points"`
	ReferrerXP       int64          `json:"referrer_xp"`
	ReferredPoints   int64          `json:"referred_points"`
	ReferredXP       int64          `json:"referred_xp"`
	CreatedAt        time.Time      `json:"created_at"`
	ActivatedAt      *time.Time     `json:"activated_at,omitempty"`
}

// MilestoneClaim is one rung of the referral ladder for a referrer.
type MilestoneClaim struct {
	Threshold int        `json:"threshold"`
	Points    int64      `json:"points"`
	Tier      string     `json:"tier,omitempty"`
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// ReferralStats is the per-referrer read model.
type ReferralStats struct {
	UserID     string           `json:"user_id"`
	Code       string           `json:"code"`
	Total      int              `json:"total_referrals"`
	Activated  int              `json:"activated_referrals"`
	Tier       string           `json:"tier"`
	Milestones []MilestoneClaim `json:"milestones"`
}

// ActivationResult reports what ActivateReferral paid.
type ActivationResult struct {
	Referral Referral `json:"referral"`
}

// MilestoneResult reports what CheckMilestones claimed in this call.
type MilestoneResult struct {
	Claimed      []MilestoneClaim `json:"claimed"`
	PointsPaid   int64            `json:"points_paid"`
	Tier         string           `json:"tier"`
	TierUpgraded bool             `json:"tier_upgraded"`
}

// ─── Trust Score ────────────────────────────────────────────────────────────

// ScoreTier is the farmer trust tier.
type ScoreTier string

const (
	TierBronze   ScoreTier = "bronze"
	TierSilver   ScoreTier = "silver"
	TierGold     ScoreTier = "gold"
	TierChampion ScoreTier = "champion"
)

// ScoreInputs are the aggregated counters the trust score derives from.
type ScoreInputs struct {
	ArticlesCompleted int `json:"articles_completed"`
	VideosCompleted   int `json:"videos_completed"`
	CompletedMissions int `json:"completed_missions"`
	CurrentStreak     int `json:"current_streak"`
	DailyActions      int `json:"daily_actions"`
	PhotoUploads      int `json:"photo_uploads"`
}

// FarmerScore is the derived composite score.
type FarmerScore struct {
	UserID      string      `json:"user_id"`
	Learning    float64     `json:"learning_score"`
	Missions    float64     `json:"mission_score"`
	Engagement  float64     `json:"engagement_score"`
	Reliability float64     `json:"reliability_score"`
	Total       float64     `json:"total_score"`
	Tier        ScoreTier   `json:"tier"`
	Inputs      ScoreInputs `json:"inputs"`
	ComputedAt  time.Time   `json:"computed_at"`
}

// ─── Shop ───────────────────────────────────────────────────────────────────

// UnlimitedStock marks an item that never runs out.
const UnlimitedStock = -1

// ShopItem is a catalog entry redeemable for points.
type ShopItem struct {
	ID           string `json:"id" toml:"id"`
	Name         string `json:"name" toml:"name"`
	Description  string `json:"description,omitempty" toml:"description"`
	PointsCost   int64  `json:"points_cost" toml:"points_cost"`
	Stock        int    `json:"stock" toml:"stock"`
	FreezeTokens int    `json:"freeze_tokens,omitempty" toml:"freeze_tokens"` // streak freezes granted per unit
	Active       bool   `json:"active" toml:"active"`
}

// Redemption is a completed purchase.
type Redemption struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ItemID      string    `json:"item_id"`
	Quantity    int       `json:"quantity"`
	PointsSpent int64     `json:"points_spent"`
	Code        string    `json:"redemption_code"`
	CreatedAt   time.Time `json:"created_at"`
}
