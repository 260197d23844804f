// Package httpapi serves the portal over HTTP: credential verification for
// students, stats and broadcast for administrators, and a websocket stream
// that pushes new announcements to connected clients.
package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seamosgenios/credport/internal/ghstore"
	"github.com/seamosgenios/credport/internal/roster"
)

type ServerConfig struct {
	AdminAccessCode string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	repo        *roster.Repository
	hub         *Hub
	cfg         ServerConfig
	rateLimiter *rateLimiter
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

func NewServer(repo *roster.Repository, hub *Hub, cfg ServerConfig) *Server {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		repo:        repo,
		hub:         hub,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/credentials/verify" && r.Method == http.MethodGet:
		s.handleVerify(w, r)
	case r.URL.Path == "/v1/stats" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.repo.Stats())
	case r.URL.Path == "/v1/config/links" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.repo.Config().SubjectLinks)
	case r.URL.Path == "/v1/admin/broadcast" && r.Method == http.MethodPost:
		s.handleBroadcast(w, r)
	case r.URL.Path == "/v1/admin/reload" && r.Method == http.MethodPost:
		s.handleReload(w, r)
	case r.URL.Path == "/v1/notifications/stream" && r.Method == http.MethodGet:
		s.handleNotificationStream(w, r)
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		s.handleDashboard(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}
	doc := strings.TrimSpace(r.URL.Query().Get("doc"))
	if doc == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "doc query parameter is required")
		return
	}
	// Typing the admin access code into the student lookup switches to the
	// admin surface instead of searching.
	if s.cfg.AdminAccessCode != "" && doc == s.cfg.AdminAccessCode {
		writeJSON(w, http.StatusOK, map[string]any{"adminAccess": true})
		return
	}
	record, ok := s.repo.FindByIdentity(doc)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "credential not found")
		return
	}
	if record.Status == roster.StatusRevoked {
		writeError(w, http.StatusForbidden, "access_denied", "credential revoked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record": record,
		"links":  s.repo.Config().SubjectLinks,
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	credential := bearerCredential(r)
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "write credential is required")
		return
	}
	var payload struct {
		Message string `json:"message"`
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	// The hub is fed by the config poller, which enforces at-most-once per
	// notification id; pushing here as well would double-deliver.
	id := s.repo.Broadcast(payload.Message)
	result, err := s.repo.Commit(r.Context(), credential)
	if err != nil {
		writeCommitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notificationId": id,
		"configRevision": result.Config.Revision,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Load(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.repo.Stats())
}

func writeCommitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roster.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "busy", "a commit is already in flight")
	case errors.Is(err, ghstore.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "the remote document changed; reload and retry")
	case errors.Is(err, ghstore.ErrUnauthorized), errors.Is(err, roster.ErrNoCredential):
		writeError(w, http.StatusUnauthorized, "unauthorized", "write credential rejected")
	default:
		writeError(w, http.StatusBadGateway, "transport_error", err.Error())
	}
}

func bearerCredential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	for _, prefix := range []string{"token ", "Bearer ", "bearer "} {
		if strings.HasPrefix(header, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(header, prefix))
		}
	}
	return ""
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.entries[key]
	if !ok || now.After(entry.resetAt) {
		rl.entries[key] = rateEntry{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if entry.count >= rl.max {
		return false
	}
	entry.count++
	rl.entries[key] = entry
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
