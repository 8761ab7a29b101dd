package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/IT-HUSET/clawguard/internal/store"
)

// AgentStore abstracts the DB lookup for testability. *store.Store
// satisfies it.
type AgentStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.Agent, error)
}

// PostgresAuthenticator validates API keys against the agents table.
// Auth failures always return an error: no guard runs without valid auth,
// and the per-agent fail-open flag only softens guard failures, never auth.
type PostgresAuthenticator struct {
	store  AgentStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	Store    AgentStore
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates an authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  cfg.Store,
		cache:  NewAuthCache(ttl),
		logger: logger,
	}
}

// Authenticate validates the bearer key.
//
// Flow:
//  1. Extract Bearer agk_... from the Authorization header
//  2. Cache lookup (stale-while-revalidate):
//     - Fresh hit: return immediately
//     - Stale hit: return stale agent, spawn background refresh
//     - Miss: do full DB + bcrypt lookup synchronously
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*AgentContext, error) {
	apiKey, err := ExtractBearer(r)
	if err != nil {
		return nil, err
	}

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Agent, nil
	}

	agent, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return nil, a.classifyLookupError(err)
	}

	a.cache.Set(apiKey, agent)
	return agent, nil
}

// backgroundRefresh performs the DB + bcrypt lookup off the request path.
// On failure the entry is dropped so the next stale read retries.
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agent, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}

	a.cache.Set(apiKey, agent)
}

// lookupAndVerify does the prefix lookup + bcrypt verification.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*AgentContext, error) {
	// api_key_prefix is the first 8 chars (e.g. "agk_abcd")
	if len(apiKey) < 8 {
		return nil, ErrInvalidAPIKey
	}
	prefix := apiKey[:8]

	agent, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if agent == nil {
		// No agent with this prefix: reject, never fail open on auth.
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	return &AgentContext{
		AgentID:        agent.ID,
		Name:           agent.Name,
		Mode:           agent.Mode,
		FailOpen:       agent.FailOpen,
		ExtraAllowlist: agent.ExtraAllowlist,
	}, nil
}

func (a *PostgresAuthenticator) classifyLookupError(lookupErr error) error {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return ErrInvalidAPIKey
	}
	a.logger.Warn("auth DB unreachable", zap.Error(lookupErr))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}
