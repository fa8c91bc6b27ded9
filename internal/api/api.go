// Package api exposes the alert action engine over HTTP for the dashboard
// and the operator TUI.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"astra-responder/internal/blockstore"
	"astra-responder/internal/catalog"
	"astra-responder/internal/engine"
	"astra-responder/internal/executor"
	"astra-responder/internal/history"
	"astra-responder/internal/pending"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

// Error kinds surfaced in structured error payloads.
const (
	KindConfigError    = "config_error"
	KindConditionError = "condition_error"
	KindExecutionError = "execution_error"
	KindInvalidState   = "invalid_state"
	KindNotFound       = "not_found"
	KindInvalidRequest = "invalid_request"
	KindRateLimited    = "rate_limited"
	KindInternal       = "internal_error"
)

// APIError is the structured error payload body.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: APIError{Kind: kind, Message: message}})
}

// writeTaxonomyError maps a domain error onto its taxonomy kind and status.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var (
		configErr *policy.ConfigError
		execErr   *executor.ExecutionError
		stateErr  *pending.InvalidStateError
		notFound  *pending.NotFoundError
	)
	switch {
	case errors.As(err, &configErr):
		writeError(w, http.StatusBadRequest, KindConfigError, configErr.Error())
	case errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, KindInvalidState, stateErr.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, KindNotFound, notFound.Error())
	case errors.As(err, &execErr):
		writeError(w, http.StatusInternalServerError, KindExecutionError, execErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, KindInternal, err.Error())
	}
}

// API wires the engine and its collaborators to HTTP routes.
type API struct {
	engine   *engine.Engine
	registry *policy.Registry
	queue    *pending.Queue
	blocks   *blockstore.Store
	history  *history.Log
	catalog  *catalog.Catalog
	logger   *slog.Logger
}

// New creates the API.
func New(eng *engine.Engine, registry *policy.Registry, queue *pending.Queue, blocks *blockstore.Store, hist *history.Log, cat *catalog.Catalog, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		engine:   eng,
		registry: registry,
		queue:    queue,
		blocks:   blocks,
		history:  hist,
		catalog:  cat,
		logger:   logger,
	}
}

// RegisterRoutes registers all alert-action routes on the mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /alert-actions/process-alert", a.handleProcessAlert)
	mux.HandleFunc("GET /alert-actions/action-types", a.handleActionTypes)
	mux.HandleFunc("GET /alert-actions/action-configs", a.handleGetConfigs)
	mux.HandleFunc("PUT /alert-actions/action-configs/{alertType}", a.handleReplaceConfigs)
	mux.HandleFunc("GET /alert-actions/pending-actions", a.handlePendingActions)
	mux.HandleFunc("POST /alert-actions/approve-action/{id}", a.handleApprove)
	mux.HandleFunc("POST /alert-actions/reject-action/{id}", a.handleReject)
	mux.HandleFunc("GET /alert-actions/action-history", a.handleHistory)
	mux.HandleFunc("GET /alert-actions/active-blocks", a.handleActiveBlocks)
	mux.HandleFunc("DELETE /alert-actions/unblock-ip/{ip}", a.handleUnblock)
	mux.HandleFunc("POST /alert-actions/cleanup-expired-blocks", a.handleCleanup)
	mux.HandleFunc("GET /alert-actions/attack-patterns", a.handleAttackPatterns)
	mux.HandleFunc("GET /alert-actions/recommendations/{alertType}", a.handleRecommendations)
	mux.HandleFunc("GET /health", a.handleHealth)
}

func (a *API) handleProcessAlert(w http.ResponseWriter, r *http.Request) {
	var alert schema.AlertContext
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid alert JSON: "+err.Error())
		return
	}

	outcomes, err := a.engine.ProcessAlert(r.Context(), alert)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []engine.ActionOutcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

type actionTypeInfo struct {
	ActionType  schema.ActionType `json:"action_type"`
	Description string            `json:"description"`
	Blocking    bool              `json:"blocking"`
}

func (a *API) handleActionTypes(w http.ResponseWriter, r *http.Request) {
	types := schema.ActionTypes()
	out := make([]actionTypeInfo, 0, len(types))
	for _, t := range types {
		out = append(out, actionTypeInfo{
			ActionType:  t,
			Description: t.Description(),
			Blocking:    t.IsBlocking(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetConfigs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.All())
}

func (a *API) handleReplaceConfigs(w http.ResponseWriter, r *http.Request) {
	alertType := schema.AlertType(r.PathValue("alertType"))

	var configs []policy.ActionConfig
	if err := json.NewDecoder(r.Body).Decode(&configs); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid config JSON: "+err.Error())
		return
	}

	if err := a.registry.Replace(alertType, configs); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.registry.Get(alertType))
}

func (a *API) handlePendingActions(w http.ResponseWriter, r *http.Request) {
	status := pending.Status(r.URL.Query().Get("status"))
	actions := a.queue.List(status)
	if actions == nil {
		actions = []pending.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid action id")
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	action, err := a.queue.Approve(r.Context(), id, decidedBy(r))
	if err != nil {
		var stateErr *pending.InvalidStateError
		var notFound *pending.NotFoundError
		if errors.As(err, &stateErr) || errors.As(err, &notFound) {
			writeTaxonomyError(w, err)
			return
		}
		// Approval stood but execution failed; return the action with the
		// failure attached rather than discarding the state change.
		writeJSON(w, http.StatusOK, action)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	action, err := a.queue.Reject(id, decidedBy(r))
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// decidedBy attributes a decision to the calling operator. The dashboard
// sends the operator name; absent that, the remote address is recorded.
func decidedBy(r *http.Request) string {
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return r.RemoteAddr
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	filter := history.Filter{
		ActionType: schema.ActionType(r.URL.Query().Get("action_type")),
		Status:     history.Status(r.URL.Query().Get("status")),
	}
	entries := a.history.Query(limit, filter)
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleActiveBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := a.blocks.List()
	if blocks == nil {
		blocks = []blockstore.ActiveBlock{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (a *API) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")

	existed, err := a.engine.UnblockTarget(r.Context(), ip)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target":  ip,
		"existed": existed,
	})
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := a.engine.CleanupExpiredBlocks()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a *API) handleAttackPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.List())
}

func (a *API) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	alertType := schema.AlertType(r.PathValue("alertType"))

	pattern, ok := a.catalog.Get(alertType)
	if !ok {
		writeError(w, http.StatusNotFound, KindNotFound, "no attack pattern for alert type "+string(alertType))
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_blocks":   len(a.blocks.List()),
		"pending_actions": len(a.queue.List(pending.StatusPending)),
		"history_entries": a.history.Len(),
		"policy_revision": a.registry.Revision(),
	})
}
