package domain

import "github.com/gosimple/slug"

// ─── Rule Tables ────────────────────────────────────────────────────────────
// Reward amounts, caps and thresholds are data, loaded from config.toml.
// Tuning a reward never requires a code change.

// Rules is the versioned reward configuration.
type Rules struct {
	Version    string                `toml:"version" json:"version"`
	Actions    map[string]ActionRule `toml:"actions" json:"actions"`
	Badges     []BadgeRule           `toml:"badges" json:"badges"`
	Streak     StreakRules           `toml:"streak" json:"streak"`
	Missions   MissionRules          `toml:"missions" json:"missions"`
	Challenges []ChallengeTemplate   `toml:"challenges" json:"challenges"`
	Referral   ReferralRules         `toml:"referral" json:"referral"`
	Trust      TrustRules            `toml:"trust" json:"trust"`
	Shop       []ShopItem            `toml:"shop" json:"shop"`
}

// ActionRule is the reward row for one action type.
type ActionRule struct {
	Points          int64  `toml:"points" json:"points"`
	XP              int64  `toml:"xp" json:"xp"`
	DailyLimit      int    `toml:"daily_limit" json:"daily_limit"` // 0 = unlimited
	FirstDailyBonus int64  `toml:"first_daily_bonus" json:"first_daily_bonus"`
	Badge           string `toml:"badge" json:"badge,omitempty"`
	Streak          bool   `toml:"streak" json:"streak"`
	ChallengeKey    string `toml:"challenge_key" json:"challenge_key,omitempty"`
}

// ChallengeKeyFor returns the action key used to match challenge templates.
func (r ActionRule) ChallengeKeyFor(actionType string) string {
	if r.ChallengeKey != "" {
		return r.ChallengeKey
	}
	return actionType
}

// BadgeRule defines ascending tier thresholds for a badge counter.
// Thresholds[i] unlocks BadgeTiers[i].
type BadgeRule struct {
	Key        string `toml:"key" json:"key"`
	Name       string `toml:"name" json:"name"`
	Thresholds []int  `toml:"thresholds" json:"thresholds"`
}

// TierFor returns the highest tier reached by count, and the next one.
func (b BadgeRule) TierFor(count int) (tier, next string, nextTarget int) {
	for i, th := range b.Thresholds {
		if i >= len(BadgeTiers) {
			break
		}
		if count >= th {
			tier = BadgeTiers[i]
			continue
		}
		return tier, BadgeTiers[i], th
	}
	return tier, "", 0
}

// StreakMilestone is a one-time-per-run streak bonus.
type StreakMilestone struct {
	Days         int   `toml:"days" json:"days"`
	XP           int64 `toml:"xp" json:"xp"`
	FreezeTokens int   `toml:"freeze_tokens" json:"freeze_tokens,omitempty"`
}

// StreakRules configures the streak tracker.
type StreakRules struct {
	InitialFreezeTokens int               `toml:"initial_freeze_tokens" json:"initial_freeze_tokens"`
	MaxFreezeTokens     int               `toml:"max_freeze_tokens" json:"max_freeze_tokens"`
	RecoveryActions     []string          `toml:"recovery_actions" json:"recovery_actions"`
	Milestones          []StreakMilestone `toml:"milestones" json:"milestones"`
}

// IsRecoveryAction reports whether action may be used to save a streak.
func (r StreakRules) IsRecoveryAction(action string) bool {
	for _, a := range r.RecoveryActions {
		if a == action {
			return true
		}
	}
	return false
}

// MissionRules configures mission step rewards and the catalog.
type MissionRules struct {
	StepXP           int64             `toml:"step_xp" json:"step_xp"`
	EvidenceBonusXP  int64             `toml:"evidence_bonus_xp" json:"evidence_bonus_xp"`
	OverdueGraceDays int               `toml:"overdue_grace_days" json:"overdue_grace_days"`
	Catalog          []MissionTemplate `toml:"catalog" json:"catalog"`
}

// ReferralMilestone is one rung of the referral ladder.
type ReferralMilestone struct {
	Threshold int    `toml:"threshold" json:"threshold"`
	Points    int64  `toml:"points" json:"points"`
	Tier      string `toml:"tier" json:"tier,omitempty"` // "" = no tier change
}

// ReferralRules configures the referral pipeline.
type ReferralRules struct {
	CodePrefix     string              `toml:"code_prefix" json:"code_prefix"`
	ReferrerPoints int64               `toml:"referrer_points" json:"referrer_points"`
	ReferrerXP     int64               `toml:"referrer_xp" json:"referrer_xp"`
	ReferredPoints int64               `toml:"referred_points" json:"referred_points"`
	ReferredXP     int64               `toml:"referred_xp" json:"referred_xp"`
	BaseTier       string              `toml:"base_tier" json:"base_tier"`
	Milestones     []ReferralMilestone `toml:"milestones" json:"milestones"`
}

// TrustRules maps action types onto trust score counters.
type TrustRules struct {
	ArticleActions []string `toml:"article_actions" json:"article_actions"`
	VideoActions   []string `toml:"video_actions" json:"video_actions"`
	PhotoActions   []string `toml:"photo_actions" json:"photo_actions"`
}

// Normalize fills derived defaults: ids from names, subject kinds, recurrence.
func (r *Rules) Normalize() {
	for i := range r.Missions.Catalog {
		m := &r.Missions.Catalog[i]
		if m.ID == "" {
			m.ID = slug.Make(m.Name)
		}
	}
	for i := range r.Challenges {
		c := &r.Challenges[i]
		if c.ID == "" {
			c.ID = slug.Make(c.Title)
		}
		if c.SubjectKind == "" {
			c.SubjectKind = SubjectUser
		}
		if c.Recurrence == "" {
			c.Recurrence = RecurNone
		}
	}
	for i := range r.Shop {
		it := &r.Shop[i]
		if it.ID == "" {
			it.ID = slug.Make(it.Name)
		}
	}
	if r.Actions == nil {
		r.Actions = map[string]ActionRule{}
	}
}

// Badge returns the rule for a badge key.
func (r Rules) Badge(key string) (BadgeRule, bool) {
	for _, b := range r.Badges {
		if b.Key == key {
			return b, true
		}
	}
	return BadgeRule{}, false
}

// DefaultRules returns the shipped reward tables.
func DefaultRules() Rules {
	r := Rules{
		Version: "2024.1",
		Actions: map[string]ActionRule{
			"price_check":       {Points: 2, XP: 5, DailyLimit: 5, FirstDailyBonus: 3, Badge: "market_watcher", Streak: true},
			"weather_check":     {Points: 1, XP: 3, DailyLimit: 3, Streak: true},
			"article_completed": {Points: 10, XP: 20, DailyLimit: 10, Badge: "learner", Streak: true},
			"video_completed":   {Points: 15, XP: 30, DailyLimit: 10, Badge: "learner", Streak: true},
			"photo_upload":      {Points: 5, XP: 10, DailyLimit: 5, Badge: "field_reporter", Streak: true},
			"task_completed":    {Points: 5, XP: 10, DailyLimit: 10, Badge: "hard_worker", Streak: true},
			"community_post":    {Points: 3, XP: 8, DailyLimit: 3, Badge: "community_voice"},
			"pest_diagnosis":    {Points: 4, XP: 10, DailyLimit: 3, Streak: true},
			"daily_login":       {Points: 1, XP: 2, DailyLimit: 1, Streak: true},
		},
		Badges: []BadgeRule{
			{Key: "market_watcher", Name: "Market Watcher", Thresholds: []int{10, 50, 200}},
			{Key: "learner", Name: "Lifelong Learner", Thresholds: []int{5, 25, 100}},
			{Key: "field_reporter", Name: "Field Reporter", Thresholds: []int{10, 50, 150}},
			{Key: "hard_worker", Name: "Hard Worker", Thresholds: []int{20, 100, 500}},
			{Key: "community_voice", Name: "Community Voice", Thresholds: []int{5, 30, 100}},
		},
		Streak: StreakRules{
			InitialFreezeTokens: 1,
			MaxFreezeTokens:     3,
			RecoveryActions:     []string{"photo_upload", "price_check", "task_completed"},
			Milestones: []StreakMilestone{
				{Days: 3, XP: 25},
				{Days: 7, XP: 75, FreezeTokens: 1},
				{Days: 14, XP: 150},
				{Days: 30, XP: 400, FreezeTokens: 1},
			},
		},
		Missions: MissionRules{
			StepXP:           20,
			EvidenceBonusXP:  5,
			OverdueGraceDays: 7,
			Catalog: []MissionTemplate{
				{
					Name: "Soil Health Check", Category: "soil",
					CompletionPoints: 50, CompletionXP: 100,
					Steps: []MissionStep{
						{Name: "Collect soil sample", OffsetDays: 0},
						{Name: "Submit sample to lab", OffsetDays: 3},
						{Name: "Record test results", OffsetDays: 14},
						{Name: "Apply recommended nutrients", OffsetDays: 21},
					},
				},
				{
					Name: "Kharif Sowing", Category: "season",
					CompletionPoints: 80, CompletionXP: 150,
					Steps: []MissionStep{
						{Name: "Prepare the field", OffsetDays: 0},
						{Name: "Treat seeds", OffsetDays: 2},
						{Name: "Sow seeds", OffsetDays: 5},
						{Name: "Photograph germination", OffsetDays: 12, Optional: true},
						{Name: "First weeding", OffsetDays: 20},
					},
				},
				{
					Name: "Drip Irrigation Setup", Category: "water",
					CompletionPoints: 60, CompletionXP: 120,
					Steps: []MissionStep{
						{Name: "Survey water source", OffsetDays: 0},
						{Name: "Install main line", OffsetDays: 4},
						{Name: "Lay drip laterals", OffsetDays: 7},
					},
				},
			},
		},
		Challenges: []ChallengeTemplate{
			{ID: "weekly-price-watch", Title: "Check prices 10 times this week", SubjectKind: SubjectUser,
				ActionKey: "price_check", Target: 10, RewardPoints: 25, RewardXP: 50, Recurrence: RecurWeekly, IsActive: true},
			{ID: "weekly-learning", Title: "Finish 3 lessons this week", SubjectKind: SubjectUser,
				ActionKey: "article_completed", Target: 3, RewardPoints: 30, RewardXP: 60, Recurrence: RecurWeekly, IsActive: true},
			{ID: "team-field-reports", Title: "Team: upload 25 field photos this week", SubjectKind: SubjectTeam,
				ActionKey: "photo_upload", Target: 25, RewardPoints: 100, RewardXP: 200, Recurrence: RecurWeekly, IsActive: true},
		},
		Referral: ReferralRules{
			CodePrefix:     "FARM",
			ReferrerPoints: 50,
			ReferrerXP:     100,
			ReferredPoints: 25,
			ReferredXP:     50,
			BaseTier:       "starter",
			Milestones: []ReferralMilestone{
				{Threshold: 3, Points: 100},
				{Threshold: 10, Points: 400, Tier: "silver"},
				{Threshold: 25, Points: 1000},
				{Threshold: 50, Points: 2500, Tier: "gold"},
				{Threshold: 100, Points: 6000, Tier: "platinum"},
			},
		},
		Trust: TrustRules{
			ArticleActions: []string{"article_completed"},
			VideoActions:   []string{"video_completed"},
			PhotoActions:   []string{"photo_upload"},
		},
		Shop: []ShopItem{
			{Name: "Seed voucher (1 kg)", PointsCost: 200, Stock: 100, Active: true},
			{Name: "Soil test kit", PointsCost: 500, Stock: 25, Active: true},
			{Name: "Expert call (15 min)", PointsCost: 300, Stock: UnlimitedStock, Active: true},
			{Name: "Streak freeze", PointsCost: 100, Stock: UnlimitedStock, FreezeTokens: 1, Active: true},
		},
	}
	r.Normalize()
	return r
}
