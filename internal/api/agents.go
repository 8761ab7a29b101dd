package api

import (
	"database/sql"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/IT-HUSET/clawguard/internal/store"
)

func (d *Dependencies) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" || len(req.Name) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}

	agent, plainKey, err := d.Store.CreateAgent(r.Context(), req.Name, req.ExtraAllowlist)
	if err != nil {
		d.Logger.Error("failed to create agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create agent"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateAgentResp{
		ID:             agent.ID,
		Name:           agent.Name,
		APIKey:         plainKey,
		APIKeyPrefix:   agent.APIKeyPrefix,
		Mode:           agent.Mode,
		FailOpen:       agent.FailOpen,
		ExtraAllowlist: agent.ExtraAllowlist,
		CreatedAt:      agent.CreatedAt,
	})
}

func (d *Dependencies) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := d.Store.ListAgents(r.Context())
	if err != nil {
		d.Logger.Error("failed to list agents", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list agents"})
		return
	}

	resp := make([]AgentResp, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, agentToResp(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("agent_id")
	agent, err := d.Store.GetAgent(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get agent"})
		return
	}
	if agent == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found."})
		return
	}
	writeJSON(w, http.StatusOK, agentToResp(agent))
}

func (d *Dependencies) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("agent_id")

	var req UpdateAgentReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Mode != nil && *req.Mode != "enforce" && *req.Mode != "shadow" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "mode must be enforce or shadow"})
		return
	}

	agent, err := d.Store.UpdateAgent(r.Context(), id, store.UpdateAgentParams{
		Name:           req.Name,
		Mode:           req.Mode,
		FailOpen:       req.FailOpen,
		ExtraAllowlist: req.ExtraAllowlist,
	})
	if err != nil {
		d.Logger.Error("failed to update agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update agent"})
		return
	}
	if agent == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found."})
		return
	}

	// Keep the in-memory allowlist in step with the record.
	if req.ExtraAllowlist != nil && d.Matcher != nil {
		if err := d.Matcher.RegisterAgentExtras(agent.ID, agent.ExtraAllowlist); err != nil {
			d.Logger.Warn("invalid agent allowlist extras",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, agentToResp(agent))
}

func (d *Dependencies) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("agent_id")
	if err := d.Store.DeleteAgent(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found."})
			return
		}
		d.Logger.Error("failed to delete agent", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete agent"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("agent_id")
	agent, plainKey, err := d.Store.RotateAPIKey(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to rotate key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate key"})
		return
	}

	writeJSON(w, http.StatusOK, RotateKeyResp{
		ID:           agent.ID,
		APIKey:       plainKey,
		APIKeyPrefix: agent.APIKeyPrefix,
	})
}

func agentToResp(a *store.Agent) AgentResp {
	return AgentResp{
		ID:             a.ID,
		Name:           a.Name,
		APIKeyPrefix:   a.APIKeyPrefix,
		Mode:           a.Mode,
		FailOpen:       a.FailOpen,
		ExtraAllowlist: a.ExtraAllowlist,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}
