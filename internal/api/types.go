package api

import "time"

// --- POST /v1/hook request/response ---

// HookRequest is the JSON body for POST /v1/hook: one tool invocation the
// gateway wants evaluated before letting it through.
type HookRequest struct {
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
	TraceID  string         `json:"trace_id,omitempty"`
}

// HookResponse reports the pipeline's verdict on the invocation.
type HookResponse struct {
	Decision  string  `json:"decision"`
	RequestID string  `json:"request_id"`
	IsShadow  bool    `json:"is_shadow"`
	Guard     string  `json:"guard,omitempty"`
	Category  string  `json:"category,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Advisory  string  `json:"advisory,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// ErrorResp is the generic error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- Agent CRUD ---

// CreateAgentReq is the JSON body for POST /api/agents.
type CreateAgentReq struct {
	Name           string   `json:"name"`
	ExtraAllowlist []string `json:"extra_allowlist,omitempty"`
}

// CreateAgentResp is returned from agent creation; APIKey appears only here.
type CreateAgentResp struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKey         string    `json:"api_key"`
	APIKeyPrefix   string    `json:"api_key_prefix"`
	Mode           string    `json:"mode"`
	FailOpen       bool      `json:"fail_open"`
	ExtraAllowlist []string  `json:"extra_allowlist"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentResp is the read shape for an agent; the key hash never leaves the
// server.
type AgentResp struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKeyPrefix   string    `json:"api_key_prefix"`
	Mode           string    `json:"mode"`
	FailOpen       bool      `json:"fail_open"`
	ExtraAllowlist []string  `json:"extra_allowlist"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpdateAgentReq is the JSON body for PATCH /api/agents/{agent_id}.
type UpdateAgentReq struct {
	Name           *string  `json:"name,omitempty"`
	Mode           *string  `json:"mode,omitempty"`
	FailOpen       *bool    `json:"fail_open,omitempty"`
	ExtraAllowlist []string `json:"extra_allowlist,omitempty"`
}

// RotateKeyResp returns the fresh plaintext key (shown once).
type RotateKeyResp struct {
	ID           string `json:"id"`
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Events ---

// DecisionResp is the read shape for a persisted guard decision.
type DecisionResp struct {
	RequestID     string    `json:"request_id"`
	AgentID       string    `json:"agent_id"`
	Timestamp     time.Time `json:"timestamp"`
	ToolName      string    `json:"tool_name"`
	ParamsPreview string    `json:"params_preview"`
	Decision      string    `json:"decision"`
	IsShadow      bool      `json:"is_shadow"`
	Guard         string    `json:"guard"`
	Category      string    `json:"category"`
	Reason        string    `json:"reason"`
	Advisory      string    `json:"advisory"`
	LatencyMs     float32   `json:"latency_ms"`
	Source        string    `json:"source"`
}

// DecisionListResp is a page of decisions.
type DecisionListResp struct {
	Decisions []DecisionResp `json:"decisions"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PageSize  int            `json:"page_size"`
}
