// Package httpapi exposes the daemon's HTTP control surface: status and
// query endpoints, rescan triggers, the season lifecycle, an event feed
// with a websocket stream, and a read-only HTML dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zortexlab/zortexd/internal/engine"
	"github.com/zortexlab/zortexd/internal/schedule"
)

// Rescanner triggers vault scans on behalf of the API. The vault syncer
// satisfies it.
type Rescanner interface {
	SyncOnce(ctx context.Context) error
	SyncDoc(ctx context.Context, path string) (*engine.BatchResult, error)
}

// BackendInfo describes the state backend for the admin endpoint. The
// DSN is redacted before the server ever holds it.
type BackendInfo struct {
	Scheme   string `json:"scheme"`
	DSN      string `json:"dsn,omitempty"`
	VaultDir string `json:"vaultDir,omitempty"`
}

type ServerConfig struct {
	// AuthSecret signs bearer tokens. Empty disables authentication;
	// rate limiting then keys on the remote host instead of the token
	// subject.
	AuthSecret      string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Backend         BackendInfo
	Jobs            func() []schedule.JobStatus
}

type Server struct {
	eng         *engine.Engine
	rescanner   Rescanner
	hub         *EventHub
	cfg         ServerConfig
	rateLimiter *rateLimiter
	startedAt   time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(eng *engine.Engine, rescanner Rescanner, hub *EventHub, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	cfg.Backend.DSN = redactDSN(cfg.Backend.DSN)
	if hub == nil {
		hub = NewEventHub()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		eng:         eng,
		rescanner:   rescanner,
		hub:         hub,
		cfg:         cfg,
		rateLimiter: limiter,
		startedAt:   time.Now(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		})
		return
	}
	if r.URL.Path == "/dashboard" && r.Method == http.MethodGet {
		s.handleDashboard(w)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "status"
	case len(parts) == 2 && parts[1] == "rescan" && r.Method == http.MethodPost:
		requiredScope = "xp:write"
		route = "rescan"
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "events"
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "events_stream"
	case len(parts) == 2 && parts[1] == "areas" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "areas"
	case len(parts) == 2 && parts[1] == "projects" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "projects"
	case len(parts) == 2 && parts[1] == "objectives" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "objectives"
	case len(parts) == 2 && parts[1] == "season" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "season"
	case len(parts) == 3 && parts[1] == "season" && parts[2] == "start" && r.Method == http.MethodPost:
		requiredScope = "xp:write"
		route = "season_start"
	case len(parts) == 3 && parts[1] == "season" && parts[2] == "end" && r.Method == http.MethodPost:
		requiredScope = "xp:write"
		route = "season_end"
	case len(parts) == 3 && parts[1] == "tasks" && parts[2] != "" && r.Method == http.MethodGet:
		requiredScope = "xp:read"
		route = "task"
	case len(parts) == 3 && parts[1] == "tasks" && parts[2] != "" && r.Method == http.MethodDelete:
		requiredScope = "xp:write"
		route = "task_delete"
	case len(parts) == 3 && parts[1] == "admin" && parts[2] == "backends" && r.Method == http.MethodGet:
		requiredScope = "admin"
		route = "admin_backends"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	authHeader := r.Header.Get("Authorization")
	if route == "events_stream" && authHeader == "" {
		// Browser WebSocket clients cannot set request headers.
		if token := r.URL.Query().Get("access_token"); token != "" {
			authHeader = "Bearer " + token
		}
	}

	claims := tokenClaims{Subject: "anonymous"}
	if s.cfg.AuthSecret != "" {
		verified, authErr := authorizeBearer(authHeader, s.cfg.AuthSecret, requiredScope, time.Now().UTC())
		if authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
			return
		}
		claims = verified
	}
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	if s.rateLimiter != nil {
		key := claims.Subject
		if s.cfg.AuthSecret == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else if r.RemoteAddr != "" {
				key = r.RemoteAddr
			}
		}
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "status":
		s.handleStatus(w, r, correlationID)
	case "rescan":
		s.handleRescan(w, r, correlationID)
	case "events":
		s.handleEvents(w, r, correlationID)
	case "events_stream":
		s.handleEventStream(w, r, correlationID)
	case "areas":
		s.handleAreas(w, r, correlationID)
	case "projects":
		s.handleProjects(w, r, correlationID)
	case "objectives":
		s.handleObjectives(w, r, correlationID)
	case "season":
		s.handleSeason(w, r, correlationID)
	case "season_start":
		s.handleSeasonStart(w, r, correlationID)
	case "season_end":
		s.handleSeasonEnd(w, r, correlationID)
	case "task":
		s.handleTask(w, r, parts[2], correlationID)
	case "task_delete":
		s.handleTaskDelete(w, r, parts[2], correlationID)
	case "admin_backends":
		s.handleAdminBackends(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ string) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	var req struct {
		Doc string `json:"doc"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
			return
		}
	}

	if req.Doc == "" {
		if err := s.rescanner.SyncOnce(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "full": true})
		return
	}

	result, err := s.rescanner.SyncDoc(r.Context(), req.Doc)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc":     req.Doc,
		"applied": result != nil,
		"result":  result,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, correlationID string) {
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid cursor", correlationID)
			return
		}
		cursor = parsed
	}
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 100, 1, 1000)

	items, next := s.eng.EventsSince(cursor, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"cursor": next,
		"latest": s.eng.EventCursor(),
	})
}

func (s *Server) handleAreas(w http.ResponseWriter, r *http.Request, correlationID string) {
	if path := strings.TrimSpace(r.URL.Query().Get("path")); path != "" {
		area, ok := s.eng.AreaByPath(path)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "area not found: "+path, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, area)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.eng.Areas()})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, correlationID string) {
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		project, ok := s.eng.Project(name)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "project not found: "+name, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, project)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.eng.Projects()})
}

func (s *Server) handleObjectives(w http.ResponseWriter, _ *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.eng.Objectives()})
}

func (s *Server) handleSeason(w http.ResponseWriter, _ *http.Request, _ string) {
	var current any
	if season, ok := s.eng.Season(); ok {
		current = season
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"season":  current,
		"history": s.eng.SeasonHistory(),
	})
}

func (s *Server) handleSeasonStart(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req struct {
		Name  string `json:"name"`
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}

	start := time.Now().UTC()
	if req.Start != "" {
		parsed, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "start must be YYYY-MM-DD", correlationID)
			return
		}
		start = parsed
	}
	var end time.Time
	if req.End != "" {
		parsed, err := time.Parse("2006-01-02", req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "end must be YYYY-MM-DD", correlationID)
			return
		}
		end = parsed
	}

	state, err := s.eng.StartSeason(req.Name, start, end)
	if err != nil {
		if errors.Is(err, engine.ErrSeasonActive) {
			writeError(w, http.StatusConflict, "invalid_state", "a season is already active", correlationID)
			return
		}
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", "season name and a valid date range are required", correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSeasonEnd(w http.ResponseWriter, _ *http.Request, correlationID string) {
	summary, err := s.eng.EndSeason()
	if err != nil {
		if errors.Is(err, engine.ErrNoSeason) {
			writeError(w, http.StatusConflict, "invalid_state", "no active season", correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTask(w http.ResponseWriter, _ *http.Request, taskID, correlationID string) {
	task, ok := s.eng.Task(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found: "+taskID, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, _ *http.Request, taskID, correlationID string) {
	removed, err := s.eng.RemoveTask(taskID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found: "+taskID, correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleAdminBackends(w http.ResponseWriter, _ *http.Request, _ string) {
	jobs := []schedule.JobStatus{}
	if s.cfg.Jobs != nil {
		jobs = s.cfg.Jobs()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":       s.cfg.Backend,
		"jobs":          jobs,
		"subscribers":   s.hub.Subscribers(),
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.Scheme == "" {
		return "(redacted)"
	}
	return parsed.Redacted()
}
