package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

const defaultStatsWindow = 24 * time.Hour

// AppDeps holds dependencies for the read API.
type AppDeps struct {
	Store *storage.Store
	Token string           // empty disables bearer auth
	Now   func() time.Time // optional; defaults to time.Now
}

// NewAppHandler returns the read-only JSON API over the observability store.
// No route writes to the store.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Get("/sessions/{id}/messages", handleListMessages(deps))
		r.Get("/sessions/{id}/metrics", handleListMetrics(deps))
		r.Get("/events", handleListEvents(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/metrics/summary", handleMetricsSummary(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := storage.SessionFilter{
			Status:    storage.SessionStatus(q.Get("status")),
			AgentName: q.Get("agent"),
			Limit:     parseIntParam(r, "limit", 20, 100),
			Offset:    parseIntParam(r, "offset", 0, 0),
		}
		if f.Status != "" && !f.Status.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", f.Status)
			return
		}
		since, err := parseTimeParam(r, "since")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		f.Since = since

		sessions, err := deps.Store.ListSessions(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []storage.AgentSession{}
		}
		writeJSON(w, sessions)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupSession(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		writeJSON(w, sess)
	}
}

func handleListMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := lookupSession(w, deps, id); !ok {
			return
		}

		msgs, err := deps.Store.ListMessages(id, parseIntParam(r, "limit", 0, 1000))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, msgs)
	}
}

func handleListMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := lookupSession(w, deps, id); !ok {
			return
		}

		rows, err := deps.Store.ListMetrics(id, parseIntParam(r, "limit", 0, 1000))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list metrics: %v", err)
			return
		}
		if rows == nil {
			rows = []storage.PerformanceMetrics{}
		}
		writeJSON(w, rows)
	}
}

func handleListEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := storage.EventFilter{
			SessionID: q.Get("session_id"),
			Severity:  storage.Severity(q.Get("severity")),
			Limit:     parseIntParam(r, "limit", 50, 500),
		}
		if f.Severity != "" && !f.Severity.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown severity %q", f.Severity)
			return
		}
		since, err := parseTimeParam(r, "since")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		f.Since = since

		events, err := deps.Store.ListEvents(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list events: %v", err)
			return
		}
		if events == nil {
			events = []storage.SystemEvent{}
		}
		writeJSON(w, events)
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := defaultStatsWindow
		if s := r.URL.Query().Get("window"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid window %q", s)
				return
			}
			window = d
		}

		now := deps.Now().UTC()
		stats, err := deps.Store.Stats(now.Add(-window), now)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func handleMetricsSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session_id")
		if id != "" {
			if _, ok := lookupSession(w, deps, id); !ok {
				return
			}
		}

		sum, err := deps.Store.MetricsSummary(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to summarise metrics: %v", err)
			return
		}
		writeJSON(w, sum)
	}
}

// lookupSession writes a 404 or 500 and reports false when id cannot be loaded.
func lookupSession(w http.ResponseWriter, deps AppDeps, id string) (storage.AgentSession, bool) {
	sess, err := deps.Store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "session not found")
		return storage.AgentSession{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
		return storage.AgentSession{}, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// parseTimeParam accepts RFC 3339 timestamps; an absent parameter is the zero time.
func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want RFC 3339", key, s)
	}
	return t, nil
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
