package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trust Score Snapshots
// ═══════════════════════════════════════════════════════════════════════════

// SaveFarmerScore replaces the stored snapshot for a user.
func (t *Tx) SaveFarmerScore(s domain.FarmerScore) error {
	inputs, err := json.Marshal(s.Inputs)
	if err != nil {
		return fmt.Errorf("marshal score inputs: %w", err)
	}
	_, err = t.exec(`
		INSERT OR REPLACE INTO farmer_scores
			(user_id, learning, missions, engagement, reliability, total, tier, inputs, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.Learning, s.Missions, s.Engagement, s.Reliability, s.Total, string(s.Tier),
		string(inputs), s.ComputedAt.Unix())
	return err
}

// GetFarmerScore returns the last stored snapshot.
func (t *Tx) GetFarmerScore(userID string) (domain.FarmerScore, bool, error) {
	var (
		s        domain.FarmerScore
		tier     string
		inputs   string
		computed int64
	)
	err := t.queryRow(`
		SELECT user_id, learning, missions, engagement, reliability, total, tier, inputs, computed_at
		FROM farmer_scores WHERE user_id = ?`, userID,
	).Scan(&s.UserID, &s.Learning, &s.Missions, &s.Engagement, &s.Reliability, &s.Total, &tier, &inputs, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	s.Tier = domain.ScoreTier(tier)
	s.ComputedAt = fromUnix(computed)
	if err := json.Unmarshal([]byte(inputs), &s.Inputs); err != nil {
		return s, false, fmt.Errorf("decode score inputs: %w", err)
	}
	return s, true, nil
}
