package ingestion

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Authenticator checks the shared secret carried by every webhook.
type Authenticator struct {
	secret []byte
	hash   []byte
}

// NewAuthenticator accepts either a plaintext secret or a bcrypt hash of it.
// The hash wins when both are set.
func NewAuthenticator(secret, hash string) (*Authenticator, error) {
	if secret == "" && hash == "" {
		return nil, errors.New("ingestion: webhook secret or secret hash required")
	}
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, errors.New("ingestion: webhook secret hash is not a bcrypt hash")
		}
		return &Authenticator{hash: []byte(hash)}, nil
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// Check returns an UnauthorizedError when key does not match.
func (a *Authenticator) Check(key string) error {
	if a == nil {
		return &shared.UnauthorizedError{Reason: "webhook authentication not configured"}
	}
	if key == "" {
		return &shared.UnauthorizedError{Reason: "missing unique key"}
	}
	if len(a.hash) > 0 {
		if bcrypt.CompareHashAndPassword(a.hash, []byte(key)) != nil {
			return &shared.UnauthorizedError{Reason: "unique key mismatch"}
		}
		return nil
	}
	if subtle.ConstantTimeCompare(a.secret, []byte(key)) != 1 {
		return &shared.UnauthorizedError{Reason: "unique key mismatch"}
	}
	return nil
}
