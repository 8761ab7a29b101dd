// Package auth authenticates hook requests with agk_ bearer keys backed by
// the agents table, fronted by a stale-while-revalidate cache so the hot
// path avoids DB and bcrypt work.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("authentication backend unavailable")
)

// AgentContext holds the authenticated agent's configuration.
type AgentContext struct {
	AgentID        string
	Name           string
	Mode           string // "enforce" or "shadow"
	FailOpen       bool
	ExtraAllowlist []string
}

// Authenticator validates incoming requests and returns agent context.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*AgentContext, error)
}

// ExtractBearer pulls the agk_ key out of the Authorization header.
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAPIKey
	}
	token := header
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, "agk_") {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator validates key format only and takes the agent identity
// from the X-Agent-ID header. Used when no Postgres DSN is configured, for
// local development.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, r *http.Request) (*AgentContext, error) {
	key, err := ExtractBearer(r)
	if err != nil {
		return nil, err
	}
	if len(key) < 8 {
		return nil, ErrInvalidAPIKey
	}
	agentID := r.Header.Get("X-Agent-ID")
	if agentID == "" {
		agentID = key[:8]
	}
	return &AgentContext{
		AgentID: agentID,
		Mode:    "enforce",
	}, nil
}
