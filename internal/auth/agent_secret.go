package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrInvalidAgentSecret = errors.New("invalid agent token")

// AgentAuthenticator checks the shared secret every agent presents in its
// registration message. It never accepts operator tokens.
type AgentAuthenticator struct {
	secret []byte
}

func NewAgentAuthenticator(secret string) *AgentAuthenticator {
	return &AgentAuthenticator{secret: []byte(secret)}
}

func (a *AgentAuthenticator) Authenticate(presented string) error {
	if len(a.secret) == 0 || presented == "" {
		return ErrInvalidAgentSecret
	}
	if subtle.ConstantTimeCompare([]byte(presented), a.secret) != 1 {
		return ErrInvalidAgentSecret
	}
	return nil
}
