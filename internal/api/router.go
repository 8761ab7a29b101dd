package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/IT-HUSET/clawguard/internal/allowlist"
	"github.com/IT-HUSET/clawguard/internal/auth"
	"github.com/IT-HUSET/clawguard/internal/chread"
	"github.com/IT-HUSET/clawguard/internal/guard"
	"github.com/IT-HUSET/clawguard/internal/storage"
	"github.com/IT-HUSET/clawguard/internal/store"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store    *store.Store // nil when Postgres is not configured
	Auth     auth.Authenticator
	Pipeline *guard.Pipeline
	Matcher  *allowlist.Matcher
	Writer   storage.EventWriter
	Reader   *chread.Reader // nil if ClickHouse unavailable
	Logger   *zap.Logger

	RatePerSecond float64
	RateBurst     int

	limiter *agentLimiter
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.RatePerSecond <= 0 {
		deps.RatePerSecond = 50
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 100
	}
	deps.limiter = newAgentLimiter(deps.RatePerSecond, deps.RateBurst)

	mux := http.NewServeMux()

	// Hook endpoint (auth required via Bearer agk_ token)
	mux.HandleFunc("POST /v1/hook", deps.authMiddleware(deps.rateLimitMiddleware(deps.handleHook)))

	// Agent CRUD (no auth — dashboard auth added later)
	if deps.Store != nil {
		mux.HandleFunc("POST /api/agents", deps.handleCreateAgent)
		mux.HandleFunc("GET /api/agents", deps.handleListAgents)
		mux.HandleFunc("GET /api/agents/{agent_id}", deps.handleGetAgent)
		mux.HandleFunc("PATCH /api/agents/{agent_id}", deps.handleUpdateAgent)
		mux.HandleFunc("DELETE /api/agents/{agent_id}", deps.handleDeleteAgent)
		mux.HandleFunc("POST /api/agents/{agent_id}/rotate-key", deps.handleRotateKey)
	}

	// Decisions & analytics (no auth)
	mux.HandleFunc("GET /api/decisions", deps.handleListDecisions)
	mux.HandleFunc("GET /api/decisions/{request_id}", deps.handleGetDecision)
	mux.HandleFunc("GET /api/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
