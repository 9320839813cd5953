package hub

import (
	"errors"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/ticket"
)

var (
	ErrGameNotFound  = errors.New("game not found")
	ErrNotSeated     = errors.New("you are not seated in this game")
	ErrAlreadySeated = errors.New("this connection already holds another seat in this game")
	ErrMalformed     = errors.New("malformed request")
	ErrClosed        = errors.New("server is shutting down")
	ErrInternal      = errors.New("internal error")
)

// hubErrors maps hub-level failures to their wire codes.
var hubErrors = []struct {
	err  error
	code string
}{
	{ErrGameNotFound, "GAME_NOT_FOUND"},
	{ErrNotSeated, "NOT_SEATED"},
	{ErrAlreadySeated, "ALREADY_SEATED"},
	{ErrMalformed, "MALFORMED"},
	{ErrClosed, "UNAVAILABLE"},
	{ticket.ErrInvalid, "INVALID_TICKET"},
}

// Code returns the machine code reported to clients for err.
func Code(err error) string {
	for _, e := range hubErrors {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return game.Code(err)
}

// Reason returns a client-safe message for err. Internal details never leak.
func Reason(err error) string {
	var re *game.RuleError
	if errors.As(err, &re) {
		return re.Error()
	}
	for _, e := range hubErrors {
		if errors.Is(err, e.err) {
			return e.err.Error()
		}
	}
	return ErrInternal.Error()
}
