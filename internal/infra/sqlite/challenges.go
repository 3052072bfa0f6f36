package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Templates
// ═══════════════════════════════════════════════════════════════════════════

const challengeTemplateCols = `id, title, subject_kind, team_id, action_key, target,
	reward_points, reward_xp, starts_at, ends_at, recurrence, is_active`

// UpsertChallengeTemplate inserts or replaces a template definition.
func (t *Tx) UpsertChallengeTemplate(c domain.ChallengeTemplate) error {
	_, err := t.exec(`
		INSERT INTO challenge_templates (`+challengeTemplateCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title         = excluded.title,
			subject_kind  = excluded.subject_kind,
			team_id       = excluded.team_id,
			action_key    = excluded.action_key,
			target        = excluded.target,
			reward_points = excluded.reward_points,
			reward_xp     = excluded.reward_xp,
			starts_at     = excluded.starts_at,
			ends_at       = excluded.ends_at,
			recurrence    = excluded.recurrence,
			is_active     = excluded.is_active`,
		c.ID, c.Title, string(c.SubjectKind), c.TeamID, c.ActionKey, c.Target,
		c.RewardPoints, c.RewardXP, unixOrZero(c.StartsAt), unixOrZero(c.EndsAt),
		string(c.Recurrence), c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert challenge %s: %w", c.ID, err)
	}
	return nil
}

// InsertChallengeTemplate creates a template. It never touches an existing
// row; callers check for the id first.
func (t *Tx) InsertChallengeTemplate(c domain.ChallengeTemplate) error {
	_, err := t.exec(`
		INSERT INTO challenge_templates (`+challengeTemplateCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, string(c.SubjectKind), c.TeamID, c.ActionKey, c.Target,
		c.RewardPoints, c.RewardXP, unixOrZero(c.StartsAt), unixOrZero(c.EndsAt),
		string(c.Recurrence), c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert challenge %s: %w", c.ID, err)
	}
	return nil
}

// GetChallengeTemplate returns one template.
func (t *Tx) GetChallengeTemplate(id string) (domain.ChallengeTemplate, bool, error) {
	c, err := scanChallengeTemplate(t.queryRow(`SELECT `+challengeTemplateCols+` FROM challenge_templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	return c, err == nil, err
}

// MatchingChallenges returns active templates for kind and actionKey whose
// bounds contain now. For team templates, teamID restricts to templates
// scoped to that team or to any team.
func (t *Tx) MatchingChallenges(kind domain.SubjectKind, actionKey, teamID string, now time.Time) ([]domain.ChallengeTemplate, error) {
	return t.listChallengeTemplates(`
		SELECT `+challengeTemplateCols+` FROM challenge_templates
		WHERE is_active = 1 AND subject_kind = ? AND action_key = ?
		  AND (team_id = '' OR team_id = ?)
		  AND starts_at <= ? AND (ends_at = 0 OR ends_at > ?)
		ORDER BY id`,
		string(kind), actionKey, teamID, now.Unix(), now.Unix())
}

// ListChallengeTemplates returns the active templates visible to a subject.
func (t *Tx) ListChallengeTemplates(kind domain.SubjectKind, teamID string) ([]domain.ChallengeTemplate, error) {
	return t.listChallengeTemplates(`
		SELECT `+challengeTemplateCols+` FROM challenge_templates
		WHERE is_active = 1 AND subject_kind = ? AND (team_id = '' OR team_id = ?)
		ORDER BY id`,
		string(kind), teamID)
}

func (t *Tx) listChallengeTemplates(query string, args ...any) ([]domain.ChallengeTemplate, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.ChallengeTemplate
	for rows.Next() {
		c, err := scanChallengeTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChallengeTemplate(s scanner) (domain.ChallengeTemplate, error) {
	var (
		c                domain.ChallengeTemplate
		kind, recurrence string
		starts, ends     int64
	)
	err := s.Scan(&c.ID, &c.Title, &kind, &c.TeamID, &c.ActionKey, &c.Target,
		&c.RewardPoints, &c.RewardXP, &starts, &ends, &recurrence, &c.IsActive)
	if err != nil {
		return c, err
	}
	c.SubjectKind = domain.SubjectKind(kind)
	c.Recurrence = domain.Recurrence(recurrence)
	c.StartsAt = fromUnix(starts)
	c.EndsAt = fromUnix(ends)
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Progress
// ═══════════════════════════════════════════════════════════════════════════

const challengeProgressCols = `p.id, p.subject, p.template_id, COALESCE(c.title, ''), p.window_start,
	p.window_end, p.progress, p.target, p.status, p.completed_at`

// EnsureChallengeProgress gets or creates the progress row for one window
// instance and returns its id.
func (t *Tx) EnsureChallengeProgress(subject domain.Subject, templateID string, windowStart, windowEnd time.Time, target int, now time.Time) (int64, error) {
	if _, err := t.exec(`
		INSERT OR IGNORE INTO challenge_progress
			(subject, template_id, window_start, window_end, progress, target, status, created_at)
		VALUES (?, ?, ?, ?, 0, ?, 'active', ?)`,
		subject.Key(), templateID, unixOrZero(windowStart), unixOrZero(windowEnd), target, now.Unix(),
	); err != nil {
		return 0, fmt.Errorf("ensure progress %s/%s: %w", subject.Key(), templateID, err)
	}
	var id int64
	err := t.queryRow(`
		SELECT id FROM challenge_progress
		WHERE subject = ? AND template_id = ? AND window_start = ?`,
		subject.Key(), templateID, unixOrZero(windowStart),
	).Scan(&id)
	return id, err
}

// IncrementChallengeProgress adds inc to an active row, clamped to target.
// advanced is false when the row is no longer active.
func (t *Tx) IncrementChallengeProgress(id int64, inc int) (p domain.ChallengeProgress, advanced bool, err error) {
	advanced, err = t.execCAS(`
		UPDATE challenge_progress SET progress = MIN(target, progress + ?)
		WHERE id = ? AND status = 'active'`, inc, id)
	if err != nil {
		return p, false, fmt.Errorf("increment progress %d: %w", id, err)
	}
	p, err = t.GetChallengeProgress(id)
	return p, advanced, err
}

// CompleteChallengeProgress flips active to completed once progress reached
// target. Only the caller that performs the flip sees true.
func (t *Tx) CompleteChallengeProgress(id int64, now time.Time) (bool, error) {
	return t.execCAS(`
		UPDATE challenge_progress SET status = 'completed', completed_at = ?
		WHERE id = ? AND status = 'active' AND progress >= target`, now.Unix(), id)
}

// GetChallengeProgress returns one progress row.
func (t *Tx) GetChallengeProgress(id int64) (domain.ChallengeProgress, error) {
	return scanChallengeProgress(t.queryRow(`
		SELECT `+challengeProgressCols+`
		FROM challenge_progress p LEFT JOIN challenge_templates c ON c.id = p.template_id
		WHERE p.id = ?`, id))
}

// ListChallengeProgress returns every progress row of a subject, newest window first.
func (t *Tx) ListChallengeProgress(subject domain.Subject) ([]domain.ChallengeProgress, error) {
	rows, err := t.query(`
		SELECT `+challengeProgressCols+`
		FROM challenge_progress p LEFT JOIN challenge_templates c ON c.id = p.template_id
		WHERE p.subject = ?
		ORDER BY p.window_start DESC, p.template_id`, subject.Key())
	if err != nil {
		return nil, fmt.Errorf("list progress %s: %w", subject.Key(), err)
	}
	defer rows.Close()

	var out []domain.ChallengeProgress
	for rows.Next() {
		p, err := scanChallengeProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExpireChallengeProgress flips active rows whose window ended at or before
// now to expired. An empty subject key expires across all subjects.
func (t *Tx) ExpireChallengeProgress(subjectKey string, now time.Time) (int64, error) {
	result, err := t.exec(`
		UPDATE challenge_progress SET status = 'expired'
		WHERE status = 'active' AND window_end != 0 AND window_end <= ?
		  AND (? = '' OR subject = ?)`, now.Unix(), subjectKey, subjectKey)
	if err != nil {
		return 0, fmt.Errorf("expire progress: %w", err)
	}
	return result.RowsAffected()
}

func scanChallengeProgress(s scanner) (domain.ChallengeProgress, error) {
	var (
		p               domain.ChallengeProgress
		subject, status string
		wstart, wend    int64
		completed       sql.NullInt64
	)
	err := s.Scan(&p.ID, &subject, &p.TemplateID, &p.Title, &wstart, &wend,
		&p.Progress, &p.Target, &status, &completed)
	if err != nil {
		return p, err
	}
	p.Subject, _ = domain.ParseSubjectKey(subject)
	p.Status = domain.ChallengeStatus(status)
	p.WindowStart = fromUnix(wstart)
	p.WindowEnd = fromUnix(wend)
	p.CompletedAt = timePtr(completed)
	return p, nil
}
