package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ─── Actions ────────────────────────────────────────────────────────────────

// Accepted window for client timestamps, and the largest team increment.
const (
	maxFutureSkew = 5 * time.Minute
	maxBackfill   = 72 * time.Hour
	maxIncrement  = 100
)

type trackRequest struct {
	ActionType string            `json:"action_type"`
	At         *time.Time        `json:"at,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var req trackRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	ev := domain.ActionEvent{
		UserID:     id.UserID,
		ActionType: req.ActionType,
		At:         s.now(),
		TeamIDs:    id.TeamIDs(),
		Context:    req.Context,
	}
	if req.At != nil {
		at := *req.At
		switch {
		case at.After(ev.At.Add(maxFutureSkew)):
			writeDomainError(w, r, domain.Validationf("at is more than %s ahead of the server clock", maxFutureSkew))
			return
		case at.Before(ev.At.Add(-maxBackfill)):
			writeDomainError(w, r, domain.Validationf("at is more than %s in the past", maxBackfill))
			return
		}
		ev.At = at
	}
	out, err := s.svc.Engine.Track(r.Context(), ev)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

type pointsRequest struct {
	Amount int64  `json:"amount"`
	Source string `json:"source"`
	RefID  string `json:"ref_id,omitempty"`
	Note   string `json:"note,omitempty"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Ledger.Balance(r.Context(), domain.Individual(identityFrom(r.Context()).UserID))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	entries, err := s.svc.Ledger.History(r.Context(), domain.Individual(identityFrom(r.Context()).UserID), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	ul, err := s.svc.Ledger.Level(r.Context(), domain.Individual(identityFrom(r.Context()).UserID))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ul)
}

func (s *Server) handleXP(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	grants, err := s.svc.Ledger.XPHistory(r.Context(), domain.Individual(identityFrom(r.Context()).UserID), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (s *Server) pointsMove(r *http.Request) (domain.PointsMove, error) {
	var req pointsRequest
	if err := decode(r, &req); err != nil {
		return domain.PointsMove{}, err
	}
	return domain.PointsMove{
		Subject: domain.Individual(identityFrom(r.Context()).UserID),
		Amount:  req.Amount,
		Source:  req.Source,
		RefID:   req.RefID,
		Note:    req.Note,
	}, nil
}

func (s *Server) handleEarn(w http.ResponseWriter, r *http.Request) {
	m, err := s.pointsMove(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	entry, err := s.svc.Ledger.Earn(r.Context(), m)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleLedgerRedeem(w http.ResponseWriter, r *http.Request) {
	m, err := s.pointsMove(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	entry, err := s.svc.Ledger.Redeem(r.Context(), m)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ─── Streaks & Badges ───────────────────────────────────────────────────────

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Streaks.Status(r.Context(), identityFrom(r.Context()).UserID, s.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSaveStreak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Streaks.SaveStreak(r.Context(), identityFrom(r.Context()).UserID, req.Action, s.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) {
	progress, unlocks, err := s.svc.Resolver.Badges(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": progress, "unlocks": unlocks})
}

// ─── Challenges ─────────────────────────────────────────────────────────────

func (s *Server) challenges(w http.ResponseWriter, r *http.Request, subject domain.Subject) {
	progress, err := s.svc.Challenges.ListProgress(r.Context(), subject)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	available, err := s.svc.Challenges.Templates(r.Context(), subject)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": progress, "available": available})
}

func (s *Server) handleMyChallenges(w http.ResponseWriter, r *http.Request) {
	s.challenges(w, r, domain.Individual(identityFrom(r.Context()).UserID))
}

// teamRole returns the caller's role in the path team, writing 403 when the
// caller is not a member.
func (s *Server) teamRole(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	teamID := chi.URLParam(r, "teamID")
	role, ok := identityFrom(r.Context()).Teams[teamID]
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "not_team_member", "not a member of team "+teamID)
		return "", "", false
	}
	return teamID, role, true
}

func (s *Server) handleTeamChallenges(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := s.teamRole(w, r)
	if !ok {
		return
	}
	s.challenges(w, r, domain.Team(teamID))
}

func (s *Server) handleCreateTeamChallenge(w http.ResponseWriter, r *http.Request) {
	teamID, role, ok := s.teamRole(w, r)
	if !ok {
		return
	}
	var t domain.ChallengeTemplate
	if err := decode(r, &t); err != nil {
		writeDomainError(w, r, err)
		return
	}
	created, err := s.svc.Challenges.CreateTeamChallenge(r.Context(), teamID, role, t)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTeamProgress(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := s.teamRole(w, r)
	if !ok {
		return
	}
	var req struct {
		ActionKey string `json:"action_key"`
		Increment int    `json:"increment"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Increment == 0 {
		req.Increment = 1
	}
	if req.Increment > maxIncrement {
		writeDomainError(w, r, domain.Validationf("increment must be at most %d", maxIncrement))
		return
	}
	updates, err := s.svc.Challenges.UpdateProgress(r.Context(), domain.Team(teamID), req.ActionKey, req.Increment)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

// ─── Missions ───────────────────────────────────────────────────────────────

func (s *Server) handleMissionCatalog(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Missions.Catalog(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missions": list})
}

func (s *Server) handleMyMissions(w http.ResponseWriter, r *http.Request) {
	status := domain.MissionStatus(r.URL.Query().Get("status"))
	list, err := s.svc.Missions.List(r.Context(), identityFrom(r.Context()).UserID, status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missions": list})
}

func (s *Server) handleStartMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MissionID string `json:"mission_id"`
		FieldID   string `json:"field_id,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	um, err := s.svc.Missions.Start(r.Context(), identityFrom(r.Context()).UserID, req.MissionID, req.FieldID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, um)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	um, err := s.svc.Missions.Get(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, um)
}

func stepIndex(r *http.Request) (int, error) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		return 0, domain.Validationf("step index must be an integer")
	}
	return idx, nil
}

func (s *Server) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	idx, err := stepIndex(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req struct {
		Evidence string `json:"evidence,omitempty"`
		Notes    string `json:"notes,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Missions.CompleteStep(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "id"), idx, req.Evidence, req.Notes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSkipStep(w http.ResponseWriter, r *http.Request) {
	idx, err := stepIndex(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Missions.SkipStep(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "id"), idx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAbandonMission(w http.ResponseWriter, r *http.Request) {
	um, err := s.svc.Missions.Abandon(r.Context(), identityFrom(r.Context()).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, um)
}

// ─── Referrals ──────────────────────────────────────────────────────────────

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	user := identityFrom(r.Context()).UserID
	if _, err := s.svc.Referrals.Code(r.Context(), user); err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := s.svc.Referrals.Stats(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCreateReferral(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	ref, err := s.svc.Referrals.Create(r.Context(), req.Code, identityFrom(r.Context()).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleActivateReferral(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Referrals.Activate(r.Context(), identityFrom(r.Context()).UserID, req.Action)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCheckMilestones(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Referrals.CheckMilestones(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Score & Shop ───────────────────────────────────────────────────────────

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.svc.Trust.Score(r.Context(), identityFrom(r.Context()).UserID, s.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleShopCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Shop.Catalog(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleShopRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   string `json:"item_id"`
		Quantity int    `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	red, err := s.svc.Shop.Redeem(r.Context(), identityFrom(r.Context()).UserID, req.ItemID, req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

func (s *Server) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	list, err := s.svc.Shop.Redemptions(r.Context(), identityFrom(r.Context()).UserID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": list})
}
