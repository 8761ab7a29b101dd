package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IT-HUSET/clawguard/internal/guard"
	"github.com/IT-HUSET/clawguard/internal/storage"
)

// handleHook implements POST /v1/hook.
// Auth middleware has already validated the Bearer token and injected the
// agent.
func (d *Dependencies) handleHook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req HookRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool_name is required"})
		return
	}

	agent := agentFromContext(r.Context())
	if agent == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing agent context"})
		return
	}

	// Per-agent allowlist extras from the agent record are additive on the
	// base set. Registration replaces the agent's previous set on every
	// request, so an emptied record revokes earlier extras. A bad pattern is
	// logged and skipped, never widens access.
	if d.Matcher != nil {
		if err := d.Matcher.RegisterAgentExtras(agent.AgentID, agent.ExtraAllowlist); err != nil {
			d.Logger.Warn("invalid agent allowlist extras",
				zap.String("agent_id", agent.AgentID),
				zap.Error(err))
		}
	}

	requestID := uuid.NewString()
	inv := &guard.Invocation{
		ToolName: req.ToolName,
		AgentID:  agent.AgentID,
		Params:   req.Params,
		FailOpen: agent.FailOpen,
	}

	verdict := d.Pipeline.Evaluate(r.Context(), inv)
	latency := time.Since(start)

	isShadow := agent.Mode == "shadow"
	reported := verdict
	if isShadow && verdict.Decision == guard.DecisionBlock {
		// Shadow mode records the block but lets the call through.
		reported = guard.Allow()
	}

	if d.Writer != nil {
		d.Writer.Write(decisionEvent(requestID, agent.AgentID, req, verdict, isShadow, latency))
	}

	writeJSON(w, http.StatusOK, HookResponse{
		Decision:  reported.Decision.String(),
		RequestID: requestID,
		IsShadow:  isShadow,
		Guard:     reported.Guard,
		Category:  reported.Category,
		Reason:    reported.Reason,
		Advisory:  reported.Advisory,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
	})
}

// decisionEvent builds the persisted record for one evaluation. The stored
// decision is always the real verdict, even in shadow mode.
func decisionEvent(requestID, agentID string, req HookRequest, v guard.Verdict, isShadow bool, latency time.Duration) *storage.DecisionEvent {
	serialized, err := json.Marshal(req.Params)
	if err != nil {
		serialized = []byte("{}")
	}
	params := string(serialized)

	return &storage.DecisionEvent{
		RequestID:     requestID,
		AgentID:       agentID,
		Timestamp:     time.Now().UTC(),
		ToolName:      req.ToolName,
		ParamsPreview: storage.TruncateParams(params, storage.ParamsPreviewLength),
		ParamsHash:    storage.HashParams(params),
		ParamsSize:    uint32(len(params)),
		Decision:      v.Decision.String(),
		IsShadow:      isShadow,
		Guard:         v.Guard,
		Category:      v.Category,
		Reason:        v.Reason,
		Advisory:      v.Advisory,
		LatencyMs:     float32(latency.Microseconds()) / 1000.0,
		Source:        "hook",
	}
}
