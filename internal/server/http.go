package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/panels/internal/auth"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When an authentication mechanism is configured, every route except the
// health check, the auth endpoints and /metrics requires a token.
func (s *PanelsServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(pattern, h))
	}

	handle("GET /api/health", s.handleHealth)

	handle("POST /api/register", s.handleRegister)
	handle("POST /api/signin", s.handleSignIn)
	handle("POST /api/signout", s.handleSignOut)
	handle("GET /api/validateToken", s.handleValidateToken)

	handle("GET /api/dashboards", s.handleListDashboards)
	handle("POST /api/dashboards", s.handleCreateDashboard)
	handle("GET /api/dashboards/{id}", s.handleGetDashboard)
	handle("PUT /api/dashboards/{id}", s.handleUpdateDashboard)
	handle("DELETE /api/dashboards/{id}", s.handleDeleteDashboard)
	handle("POST /api/dashboards/{id}/components", s.handleAttachComponent)
	handle("DELETE /api/dashboards/{id}/components/{componentId}", s.handleDetachComponent)

	handle("PUT /api/attributes/{type}/{id}/position", s.handleSetPosition)
	handle("PUT /api/attributes/{type}/{id}/size", s.handleSetSize)
	handle("POST /api/maps/{mapId}/icons", s.handleAddMapIcon)
	handle("DELETE /api/maps/{mapId}/icons", s.handleRemoveMapIcon)

	handle("GET /api/live/presence", s.handleLivePresence)
	handle("GET /api/live/{type}", s.handleLiveSenders)
	handle("GET /api/live/{type}/{sender}", s.handleLiveHistory)
	handle("DELETE /api/live/{type}", s.handleLiveClear)

	handle("GET /api/events/stream", s.handleEventStream)
	handle("GET /api/types", s.handleListTypes)

	handle("GET /api/{type}", s.handleListComponents)
	handle("POST /api/{type}", s.handleCreateComponent)
	handle("GET /api/{type}/{id}", s.handleGetComponent)
	handle("PUT /api/{type}/{id}", s.handleUpdateComponent)
	handle("DELETE /api/{type}/{id}", s.handleDeleteComponent)

	handle("GET /ws", s.live.handleWS)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return auth.Middleware(s.auth, authExempt, mux)
}

func authExempt(r *http.Request) bool {
	switch r.URL.Path {
	case "/api/health", "/metrics", "/api/validateToken":
		return r.Method == http.MethodGet
	case "/api/register", "/api/signin", "/api/signout":
		return r.Method == http.MethodPost
	}
	return false
}

// handleHealth handles GET /api/health.
func (s *PanelsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeFailure maps a domain or store error to a status code. Unexpected
// errors are logged and reported with a generic message.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, what string) {
	var ie inputError
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.Is(err, errUnknownKind):
		writeError(w, http.StatusNotFound, errUnknownKind.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, what+" already exists")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// actor returns the id of the signed-in user, or "" for service and
// anonymous callers.
func actor(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.UserID
	}
	return ""
}

// nonNil keeps empty lists from serializing as null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// componentKind parses the {type} path value, writing a 404 when unknown.
func componentKind(w http.ResponseWriter, r *http.Request) (model.Kind, bool) {
	k, err := parseKind(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return k, true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
