// Package metrics provides Prometheus metrics for Fieldwise.
// Counters for points, XP, streaks, challenges, missions, referrals and the
// shop; a latency histogram per engine operation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// PointsEarned tracks points credited, by source.
var PointsEarned = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "points_earned_total",
	Help:      "Total points credited.",
}, []string{"source"})

// PointsRedeemed tracks points debited, by source.
var PointsRedeemed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "points_redeemed_total",
	Help:      "Total points debited.",
}, []string{"source"})

// XPGranted tracks XP granted, by action label.
var XPGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "xp_granted_total",
	Help:      "Total XP granted.",
}, []string{"action"})

// ─── Rewards ────────────────────────────────────────────────────────────────

// RewardsSuppressed tracks actions that earned nothing, by reason.
var RewardsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "rewards_suppressed_total",
	Help:      "Actions resolved without a reward.",
}, []string{"reason"})

// StreakMilestones tracks streak milestone bonuses, by day threshold.
var StreakMilestones = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "streak_milestones_total",
	Help:      "Streak milestone bonuses paid.",
}, []string{"days"})

// ChallengeCompletions tracks challenge completions, by subject kind.
var ChallengeCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "challenge_completions_total",
	Help:      "Challenge window instances completed.",
}, []string{"subject"})

// MissionsCompleted tracks user missions completed.
var MissionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "missions_completed_total",
	Help:      "User missions completed.",
})

// ReferralActivations tracks referrals activated.
var ReferralActivations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "referral_activations_total",
	Help:      "Referrals activated.",
})

// Redemptions tracks shop redemption attempts, by result.
var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fieldwise",
	Name:      "redemptions_total",
	Help:      "Shop redemption attempts by result.",
}, []string{"result"})

// ─── Operations ─────────────────────────────────────────────────────────────

// OperationDuration tracks engine operation latency in seconds.
var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "fieldwise",
	Name:      "operation_duration_seconds",
	Help:      "Engine operation duration in seconds.",
	Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
}, []string{"op"})

// ObserveSince records the time elapsed since start for op.
//
//	defer metrics.ObserveSince("track", time.Now())
func ObserveSince(op string, start time.Time) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
