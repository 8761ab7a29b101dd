package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/IT-HUSET/clawguard/internal/chread"
)

func (d *Dependencies) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	agentID := q.Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_id query parameter is required"})
		return
	}

	params := chread.ListDecisionsParams{
		AgentID:  agentID,
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("decision"); v != "" {
		params.Decision = &v
	}
	if v := q.Get("tool_name"); v != "" {
		params.ToolName = &v
	}
	if v := q.Get("guard"); v != "" {
		params.Guard = &v
	}
	if v := q.Get("category"); v != "" {
		params.Category = &v
	}
	if v := q.Get("is_shadow"); v != "" {
		b := v == "true" || v == "1"
		params.IsShadow = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	decisions, total, err := d.Reader.ListDecisions(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list decisions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list decisions"})
		return
	}

	resp := DecisionListResp{
		Decisions: make([]DecisionResp, 0, len(decisions)),
		Total:     total,
		Page:      params.Page,
		PageSize:  params.PageSize,
	}
	for _, dec := range decisions {
		resp.Decisions = append(resp.Decisions, decisionRowToResp(dec))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	requestID := r.PathValue("request_id")
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_id query parameter is required"})
		return
	}

	decision, err := d.Reader.GetDecision(r.Context(), agentID, requestID)
	if err != nil {
		d.Logger.Error("failed to get decision", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get decision"})
		return
	}
	if decision == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Decision not found."})
		return
	}

	writeJSON(w, http.StatusOK, decisionRowToResp(*decision))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	agentID := q.Get("agent_id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_id query parameter is required"})
		return
	}
	days := queryInt(q, "days", 7)
	if days < 1 || days > 90 {
		days = 7
	}

	result, err := d.Reader.GetAnalytics(r.Context(), agentID, days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func decisionRowToResp(row chread.DecisionRow) DecisionResp {
	return DecisionResp{
		RequestID:     row.RequestID,
		AgentID:       row.AgentID,
		Timestamp:     row.Timestamp,
		ToolName:      row.ToolName,
		ParamsPreview: row.ParamsPreview,
		Decision:      row.Decision,
		IsShadow:      row.IsShadow == 1,
		Guard:         row.Guard,
		Category:      row.Category,
		Reason:        row.Reason,
		Advisory:      row.Advisory,
		LatencyMs:     row.LatencyMs,
		Source:        row.Source,
	}
}

func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
