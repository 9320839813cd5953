package game

import "errors"

// RuleError is a validation failure. Rule errors are returned before any
// mutation, so a game that rejected an action is unchanged.
type RuleError struct {
	Code   string
	msg    string
	parent error
}

func (e *RuleError) Error() string { return e.msg }

// Unwrap exposes the broader category, e.g. ErrBidTooLow is an ErrBidRejected.
func (e *RuleError) Unwrap() error { return e.parent }

func ruleErr(code, msg string, parent error) *RuleError {
	return &RuleError{Code: code, msg: msg, parent: parent}
}

var (
	ErrInvalidPhase      = ruleErr("INVALID_PHASE", "action not allowed in this phase", nil)
	ErrNotYourTurn       = ruleErr("NOT_YOUR_TURN", "not your turn", nil)
	ErrBidRejected       = ruleErr("BID_REJECTED", "bid rejected", nil)
	ErrBidTooLow         = ruleErr("BID_TOO_LOW", "bid must exceed the current bid", ErrBidRejected)
	ErrInsufficientFunds = ruleErr("INSUFFICIENT_FUNDS", "not enough money for this bid", ErrBidRejected)
	ErrUnknownCard       = ruleErr("UNKNOWN_CARD", "you do not hold that card", nil)
	ErrGameFull          = ruleErr("GAME_FULL", "game is full", nil)
	ErrUsernameConflict  = ruleErr("USERNAME_CONFLICT", "game already started; rejoin with an existing username", nil)
	ErrHostOnly          = ruleErr("HOST_ONLY", "only the host can do that", nil)
	ErrNotEnoughPlayers  = ruleErr("NOT_ENOUGH_PLAYERS", "at least 2 players are needed to start", nil)
	ErrUnknownPlayer     = ruleErr("UNKNOWN_PLAYER", "player is not seated in this game", nil)
	ErrInvalidUsername   = ruleErr("INVALID_USERNAME", "username must be 1 to 20 characters", nil)
)

// Code returns the stable machine code for err, or "INTERNAL".
func Code(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	return "INTERNAL"
}
