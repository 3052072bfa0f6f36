package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Mission Catalog
// ═══════════════════════════════════════════════════════════════════════════

// UpsertMissionTemplate stores a catalog entry and replaces its steps.
func (t *Tx) UpsertMissionTemplate(m domain.MissionTemplate) error {
	if _, err := t.exec(`
		INSERT INTO mission_templates (id, name, category, completion_points, completion_xp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name              = excluded.name,
			category          = excluded.category,
			completion_points = excluded.completion_points,
			completion_xp     = excluded.completion_xp`,
		m.ID, m.Name, m.Category, m.CompletionPoints, m.CompletionXP,
	); err != nil {
		return fmt.Errorf("upsert mission %s: %w", m.ID, err)
	}
	if _, err := t.exec(`DELETE FROM mission_steps WHERE mission_id = ?`, m.ID); err != nil {
		return err
	}
	for i, s := range m.Steps {
		if _, err := t.exec(`
			INSERT INTO mission_steps (mission_id, idx, name, offset_days, optional)
			VALUES (?, ?, ?, ?, ?)`, m.ID, i, s.Name, s.OffsetDays, s.Optional,
		); err != nil {
			return fmt.Errorf("insert mission step %s/%d: %w", m.ID, i, err)
		}
	}
	return nil
}

// GetMissionTemplate returns one catalog entry with its ordered steps.
func (t *Tx) GetMissionTemplate(id string) (domain.MissionTemplate, bool, error) {
	var m domain.MissionTemplate
	err := t.queryRow(`
		SELECT id, name, category, completion_points, completion_xp
		FROM mission_templates WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Category, &m.CompletionPoints, &m.CompletionXP)
	if errors.Is(err, sql.ErrNoRows) {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	m.Steps, err = t.missionSteps(id)
	return m, err == nil, err
}

// ListMissionTemplates returns the whole catalog ordered by name.
func (t *Tx) ListMissionTemplates() ([]domain.MissionTemplate, error) {
	rows, err := t.query(`
		SELECT id, name, category, completion_points, completion_xp
		FROM mission_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var out []domain.MissionTemplate
	for rows.Next() {
		var m domain.MissionTemplate
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.CompletionPoints, &m.CompletionXP); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Steps, err = t.missionSteps(out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tx) missionSteps(missionID string) ([]domain.MissionStep, error) {
	rows, err := t.query(`
		SELECT name, offset_days, optional FROM mission_steps
		WHERE mission_id = ? ORDER BY idx`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.MissionStep
	for rows.Next() {
		var s domain.MissionStep
		if err := rows.Scan(&s.Name, &s.OffsetDays, &s.Optional); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════
// User Missions
// ═══════════════════════════════════════════════════════════════════════════

// ErrActiveMissionExists is returned when the partial unique index rejects
// a second active instance.
var ErrActiveMissionExists = errors.New("active mission instance exists")

const userMissionCols = `id, user_id, mission_id, field_id, status, current_step, total_steps,
	progress_pct, reward_points, reward_xp, started_at, completed_at, updated_at`

// ActiveMissionExists reports whether (user, mission, field) has an active instance.
func (t *Tx) ActiveMissionExists(userID, missionID, fieldID string) (bool, error) {
	var n int
	err := t.queryRow(`
		SELECT COUNT(*) FROM user_missions
		WHERE user_id = ? AND mission_id = ? AND field_id = ? AND status = 'active'`,
		userID, missionID, fieldID,
	).Scan(&n)
	return n > 0, err
}

// InsertUserMission creates the instance and one step row per step.
func (t *Tx) InsertUserMission(um domain.UserMission) error {
	_, err := t.exec(`
		INSERT INTO user_missions (`+userMissionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		um.ID, um.UserID, um.MissionID, um.FieldID, string(um.Status), um.CurrentStep, um.TotalSteps,
		um.ProgressPct, um.RewardPoints, um.RewardXP, um.StartedAt.Unix(), nullableUnix(um.CompletedAt),
		um.UpdatedAt.Unix(),
	)
	if IsUniqueViolation(err) {
		return ErrActiveMissionExists
	}
	if err != nil {
		return fmt.Errorf("insert user mission: %w", err)
	}
	for _, s := range um.Steps {
		if _, err := t.exec(`
			INSERT INTO step_progress (user_mission_id, idx, name, status, due_at, evidence, notes, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			um.ID, s.Index, s.Name, string(s.Status), s.DueAt.Unix(), s.Evidence, s.Notes, nullableUnix(s.CompletedAt),
		); err != nil {
			return fmt.Errorf("insert step %s/%d: %w", um.ID, s.Index, err)
		}
	}
	return nil
}

// GetUserMission returns one instance with its steps.
func (t *Tx) GetUserMission(id string) (domain.UserMission, bool, error) {
	um, err := scanUserMission(t.queryRow(`SELECT `+userMissionCols+` FROM user_missions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return um, false, nil
	}
	if err != nil {
		return um, false, err
	}
	um.Steps, err = t.stepProgress(id)
	return um, err == nil, err
}

// ListUserMissions returns a user's missions, newest first.
// An empty status lists every status.
func (t *Tx) ListUserMissions(userID string, status domain.MissionStatus) ([]domain.UserMission, error) {
	rows, err := t.query(`
		SELECT `+userMissionCols+` FROM user_missions
		WHERE user_id = ? AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id`, userID, string(status), string(status))
	if err != nil {
		return nil, err
	}
	var out []domain.UserMission
	for rows.Next() {
		um, err := scanUserMission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, um)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Steps, err = t.stepProgress(out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountMissions returns how many of a user's missions have status.
func (t *Tx) CountMissions(userID string, status domain.MissionStatus) (int, error) {
	var n int
	err := t.queryRow(`SELECT COUNT(*) FROM user_missions WHERE user_id = ? AND status = ?`,
		userID, string(status)).Scan(&n)
	return n, err
}

// SetStepStatus moves a step from one status to another.
// Returns false when the step was not in from.
func (t *Tx) SetStepStatus(userMissionID string, idx int, from, to domain.StepStatus, evidence, notes string, now time.Time) (bool, error) {
	var completed sql.NullInt64
	if to.Done() {
		completed = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}
	return t.execCAS(`
		UPDATE step_progress
		SET status = ?, evidence = CASE WHEN ? != '' THEN ? ELSE evidence END,
			notes = CASE WHEN ? != '' THEN ? ELSE notes END,
			completed_at = COALESCE(?, completed_at)
		WHERE user_mission_id = ? AND idx = ? AND status = ?`,
		string(to), evidence, evidence, notes, notes, completed,
		userMissionID, idx, string(from))
}

// UpdateMissionProgress writes progress fields of an active instance and
// adds to its accumulated rewards.
func (t *Tx) UpdateMissionProgress(id string, currentStep int, pct float64, addPoints, addXP int64, now time.Time) (bool, error) {
	return t.execCAS(`
		UPDATE user_missions
		SET current_step = ?, progress_pct = ?, reward_points = reward_points + ?,
			reward_xp = reward_xp + ?, updated_at = ?
		WHERE id = ? AND status = 'active'`,
		currentStep, pct, addPoints, addXP, now.Unix(), id)
}

// TransitionMission flips an active instance to a terminal status.
// Only the caller that performs the flip sees true.
func (t *Tx) TransitionMission(id string, to domain.MissionStatus, now time.Time) (bool, error) {
	var completed sql.NullInt64
	if to == domain.MissionCompleted {
		completed = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}
	return t.execCAS(`
		UPDATE user_missions SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`,
		string(to), completed, now.Unix(), id)
}

// OverdueMissions returns active instances whose last due date is before cutoff.
func (t *Tx) OverdueMissions(cutoff time.Time) ([]string, error) {
	rows, err := t.query(`
		SELECT m.id FROM user_missions m
		WHERE m.status = 'active'
		  AND (SELECT MAX(s.due_at) FROM step_progress s WHERE s.user_mission_id = m.id) < ?
		ORDER BY m.id`, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) stepProgress(userMissionID string) ([]domain.StepProgress, error) {
	rows, err := t.query(`
		SELECT idx, name, status, due_at, evidence, notes, completed_at
		FROM step_progress WHERE user_mission_id = ? ORDER BY idx`, userMissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.StepProgress
	for rows.Next() {
		var (
			s         domain.StepProgress
			status    string
			due       int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&s.Index, &s.Name, &status, &due, &s.Evidence, &s.Notes, &completed); err != nil {
			return nil, err
		}
		s.Status = domain.StepStatus(status)
		s.DueAt = fromUnix(due)
		s.CompletedAt = timePtr(completed)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func scanUserMission(s scanner) (domain.UserMission, error) {
	var (
		um               domain.UserMission
		status           string
		started, updated int64
		completed        sql.NullInt64
	)
	err := s.Scan(&um.ID, &um.UserID, &um.MissionID, &um.FieldID, &status, &um.CurrentStep, &um.TotalSteps,
		&um.ProgressPct, &um.RewardPoints, &um.RewardXP, &started, &completed, &updated)
	if err != nil {
		return um, err
	}
	um.Status = domain.MissionStatus(status)
	um.StartedAt = fromUnix(started)
	um.CompletedAt = timePtr(completed)
	um.UpdatedAt = fromUnix(updated)
	return um, nil
}
