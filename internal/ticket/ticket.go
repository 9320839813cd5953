// Package ticket issues and verifies resume tickets: signed tokens that let a
// client rejoin its seat without retyping the game code and username.
//
// A ticket is convenience only. Seat identity is still matched by username,
// so a ticket grants nothing a plain join with the same name would not.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for malformed, expired or foreign tickets.
var ErrInvalid = errors.New("invalid ticket")

// Claims carried by a ticket.
type Claims struct {
	GameID   string `json:"gid"`
	PlayerID string `json:"pid"`
	jwt.RegisteredClaims
}

// Username is the seat name the ticket was issued for.
func (c *Claims) Username() string { return c.Subject }

// Issuer signs tickets with HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A non-positive ttl means 24h.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a ticket for one seat.
func (i *Issuer) Issue(gameID, playerID, username string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		GameID:   gameID,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	ss, err := t.SignedString(i.secret)
	return ss, exp, err
}

// Parse verifies a ticket and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	var c Claims
	t, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.GameID == "" || c.Subject == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalid)
	}
	return &c, nil
}
