// Package authgate is the access gate for every device-facing operation:
// a bearer token goes in, the user identity it proves comes out. Token
// issuance lives elsewhere; this package only validates.
package authgate

import (
	"context"
	"errors"
)

// ErrInvalidToken covers every validation failure: malformed token, bad
// signature, expired, unknown, or an identity the oracle refuses. Callers
// collapse all of them into one uniform denial so responses never reveal
// which check failed.
var ErrInvalidToken = errors.New("invalid token")

// Validator checks a bearer token and returns the user identity it belongs
// to. Stateless; safe for concurrent use.
type Validator interface {
	Validate(ctx context.Context, token string) (userID string, err error)
}
