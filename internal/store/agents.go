package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Agent represents a row in the agents table. ExtraAllowlist holds
// per-agent domain patterns that are additive on top of the base allowlist.
type Agent struct {
	ID             string
	Name           string
	APIKeyHash     string
	APIKeyPrefix   string
	Mode           string // "enforce" or "shadow"
	FailOpen       bool
	ExtraAllowlist []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpdateAgentParams holds optional fields for partial agent updates.
type UpdateAgentParams struct {
	Name           *string
	Mode           *string
	FailOpen       *bool
	ExtraAllowlist []string
}

// GenerateAPIKey creates a new agk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "agk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "agk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateAgent inserts a new agent. Returns the agent and its plaintext API
// key (shown once).
func (s *Store) CreateAgent(ctx context.Context, name string, extraAllowlist []string) (*Agent, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}
	extras, err := json.Marshal(normalizeExtras(extraAllowlist))
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}

	var a Agent
	var rawExtras []byte
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agents (name, api_key_hash, api_key_prefix, extra_allowlist)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, api_key_hash, api_key_prefix, mode, fail_open,
		          extra_allowlist, created_at, updated_at`,
		name, keyHash, keyPrefix, extras,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix, &a.Mode, &a.FailOpen,
		&rawExtras, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}
	if err := unmarshalExtras(rawExtras, &a); err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}

	return &a, fullKey, nil
}

// ListAgents returns all agents ordered by created_at DESC.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, fail_open,
		       extra_allowlist, created_at, updated_at
		FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		var rawExtras []byte
		if err := rows.Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
			&a.Mode, &a.FailOpen, &rawExtras, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListAgents: %w", err)
		}
		if err := unmarshalExtras(rawExtras, &a); err != nil {
			return nil, fmt.Errorf("ListAgents: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// GetAgent returns an agent by ID, or nil if not found.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	var rawExtras []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, fail_open,
		       extra_allowlist, created_at, updated_at
		FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.Mode, &a.FailOpen, &rawExtras, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	if err := unmarshalExtras(rawExtras, &a); err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	return &a, nil
}

// UpdateAgent applies a partial update. Only non-nil fields are changed;
// ExtraAllowlist replaces the stored list when non-nil.
func (s *Store) UpdateAgent(ctx context.Context, id string, params UpdateAgentParams) (*Agent, error) {
	var extras []byte
	if params.ExtraAllowlist != nil {
		encoded, err := json.Marshal(normalizeExtras(params.ExtraAllowlist))
		if err != nil {
			return nil, fmt.Errorf("UpdateAgent: %w", err)
		}
		extras = encoded
	}

	var a Agent
	var rawExtras []byte
	err := s.db.QueryRowContext(ctx, `
		UPDATE agents SET
			name            = COALESCE($2, name),
			mode            = COALESCE($3, mode),
			fail_open       = COALESCE($4, fail_open),
			extra_allowlist = COALESCE($5, extra_allowlist),
			updated_at      = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, mode, fail_open,
		          extra_allowlist, created_at, updated_at`,
		id, params.Name, params.Mode, params.FailOpen, extras,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.Mode, &a.FailOpen, &rawExtras, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateAgent: %w", err)
	}
	if err := unmarshalExtras(rawExtras, &a); err != nil {
		return nil, fmt.Errorf("UpdateAgent: %w", err)
	}
	return &a, nil
}

// DeleteAgent deletes an agent by ID.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteAgent: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey generates a new API key for an agent.
// Returns the updated agent and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Agent, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var a Agent
	var rawExtras []byte
	err = s.db.QueryRowContext(ctx, `
		UPDATE agents SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, mode, fail_open,
		          extra_allowlist, created_at, updated_at`,
		id, keyHash, keyPrefix,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.Mode, &a.FailOpen, &rawExtras, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("RotateAPIKey: agent not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	if err := unmarshalExtras(rawExtras, &a); err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return &a, fullKey, nil
}

// LookupByPrefix finds an agent by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*Agent, error) {
	var a Agent
	var rawExtras []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, fail_open,
		       extra_allowlist, created_at, updated_at
		FROM agents WHERE api_key_prefix = $1`, prefix,
	).Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.Mode, &a.FailOpen, &rawExtras, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	if err := unmarshalExtras(rawExtras, &a); err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &a, nil
}

func normalizeExtras(extras []string) []string {
	if extras == nil {
		return []string{}
	}
	return extras
}

func unmarshalExtras(raw []byte, a *Agent) error {
	if len(raw) == 0 {
		a.ExtraAllowlist = nil
		return nil
	}
	return json.Unmarshal(raw, &a.ExtraAllowlist)
}
