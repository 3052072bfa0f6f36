package domain

import (
	"errors"
	"fmt"
)

// ─── Error Taxonomy ─────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.
// Every error carries a Kind so transports can map it without string matching.

// ErrorKind classifies a domain failure.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindInsufficient ErrorKind = "insufficient"
)

// Error is a classified domain error.
// errors.Is(err, ErrNotFound) matches any error of kind not_found;
// errors.Is(err, ErrInvalidCode) matches only that exact code.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Is reports kind-level equality against bare kind sentinels and
// code-level equality against named sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Validationf builds an ad-hoc validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds an ad-hoc not_found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Code: "not_found", Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

var (
	// Kind sentinels
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInsufficient = &Error{Kind: KindInsufficient}

	// Ledger
	ErrInvalidAmount       = &Error{Kind: KindValidation, Code: "invalid_amount", Msg: "amount must be a positive integer"}
	ErrMissingSubject      = &Error{Kind: KindValidation, Code: "missing_subject", Msg: "subject id is required"}
	ErrInsufficientBalance = &Error{Kind: KindInsufficient, Code: "insufficient_balance", Msg: "insufficient balance"}

	// Streaks
	ErrCannotSave        = &Error{Kind: KindConflict, Code: "cannot_save", Msg: "streak is not at risk or no freeze token is available"}
	ErrNotRecoveryAction = &Error{Kind: KindValidation, Code: "not_recovery_action", Msg: "action does not qualify for streak recovery"}

	// Challenges
	ErrUnknownChallenge = &Error{Kind: KindNotFound, Code: "unknown_challenge", Msg: "challenge template not found"}
	ErrChallengeExists  = &Error{Kind: KindConflict, Code: "challenge_exists", Msg: "team already has a challenge with this title"}
	ErrNotTeamAdmin     = &Error{Kind: KindValidation, Code: "not_team_admin", Msg: "only team admins can manage team challenges"}
	ErrInvalidWindow    = &Error{Kind: KindValidation, Code: "invalid_window", Msg: "challenge window must end after it starts"}

	// Missions
	ErrUnknownMission    = &Error{Kind: KindNotFound, Code: "unknown_mission", Msg: "mission not found"}
	ErrUnknownStep       = &Error{Kind: KindNotFound, Code: "unknown_step", Msg: "mission step not found"}
	ErrMissionActive     = &Error{Kind: KindConflict, Code: "mission_active", Msg: "mission already active for this field"}
	ErrMissionNotActive  = &Error{Kind: KindConflict, Code: "mission_not_active", Msg: "mission is not active"}
	ErrStepOutOfOrder    = &Error{Kind: KindConflict, Code: "step_out_of_order", Msg: "earlier steps must be completed first"}
	ErrStepNotSkippable  = &Error{Kind: KindConflict, Code: "step_not_skippable", Msg: "step is not optional"}
	ErrMissionHasNoSteps = &Error{Kind: KindValidation, Code: "mission_no_steps", Msg: "mission template has no steps"}

	// Referrals
	ErrInvalidCode       = &Error{Kind: KindNotFound, Code: "invalid_code", Msg: "referral code not found"}
	ErrSelfReferral      = &Error{Kind: KindConflict, Code: "self_referral", Msg: "cannot refer yourself"}
	ErrAlreadyReferred   = &Error{Kind: KindConflict, Code: "already_referred", Msg: "user has already been referred"}
	ErrNoPendingReferral = &Error{Kind: KindNotFound, Code: "no_pending_referral", Msg: "no pending referral for user"}

	// Shop
	ErrUnknownItem        = &Error{Kind: KindNotFound, Code: "unknown_item", Msg: "reward item not found"}
	ErrInsufficientPoints = &Error{Kind: KindInsufficient, Code: "insufficient_points", Msg: "insufficient points"}
	ErrOutOfStock         = &Error{Kind: KindInsufficient, Code: "out_of_stock", Msg: "reward item out of stock"}
)
