// Package server exposes the HTTP surface: identity resolution, messages,
// cubes, the realtime stream and the GitHub sign-in flow.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cubechat/internal/app"
	"cubechat/internal/identity"
	"cubechat/internal/ratelimit"
	"cubechat/internal/util"
	"cubechat/pkg/domain"
	"cubechat/pkg/github"
	"cubechat/pkg/realtime"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App         *app.App
	Resolver    *identity.Resolver
	Feed        *realtime.Feed
	SendLimiter *ratelimit.FixedWindowLimiter
	Proxies     *util.TrustedProxies
}

// Server exposes HTTP endpoints for the cube chat service.
type Server struct {
	app         *app.App
	resolver    *identity.Resolver
	feed        *realtime.Feed
	sendLimiter *ratelimit.FixedWindowLimiter
	proxies     *util.TrustedProxies
	mux         *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:         cfg.App,
		resolver:    cfg.Resolver,
		feed:        cfg.Feed,
		sendLimiter: cfg.SendLimiter,
		proxies:     cfg.Proxies,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// github sign-in
	s.mux.HandleFunc("/auth/github/login", s.handleLogin)
	s.mux.HandleFunc("/auth/github/callback", s.handleCallback)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)

	// anonymous identity
	s.mux.HandleFunc("/api/identity", s.handleIdentity)
	s.mux.Handle("/api/nickname", s.withIdentity(s.handleNickname))
	s.mux.HandleFunc("/api/online", s.handleOnline)

	// messages
	s.mux.HandleFunc("/api/messages", s.handleMessages)
	s.mux.HandleFunc("/api/messages/", s.handleMessageSubpath)

	// cubes
	s.mux.HandleFunc("/api/cubes", s.handleCubes)
	s.mux.Handle("/api/cubes/import", s.withSession(s.handleImport))
	s.mux.HandleFunc("/api/cubes/", s.handleCubeSubpath)

	// github data
	s.mux.Handle("/api/github/repos", s.withSession(s.handleRepos))
	s.mux.Handle("/api/github/repos/", s.withSession(s.handleRepoSubpath))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"online": s.app.OnlineUserCount(r.Context())})
}

// identityHandler receives the request plus the resolved anonymous user.
type identityHandler func(http.ResponseWriter, *http.Request, domain.User)

// withIdentity resolves the anonymous user from the fingerprint headers. The
// resolver falls back to a heuristic fingerprint when the header is absent,
// so resolution only fails on backend errors.
func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.resolveIdentity(w, r)
		if !ok {
			return
		}
		next(w, r, user)
	})
}

// resolveIdentity resolves the anonymous user on demand. Handlers that mix
// reads and writes call it only on the write paths, so plain reads never
// create a user row. On failure it writes the error response itself.
func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	resolved, err := s.resolver.Resolve(r.Context(), hintsFromRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "identity resolution failed")
		return domain.User{}, false
	}
	return resolved.User, true
}

func hintsFromRequest(r *http.Request) identity.Hints {
	return identity.Hints{
		Fingerprint: r.Header.Get("X-Fingerprint"),
		BackupID:    r.Header.Get("X-Anonymous-Id"),
		UserAgent:   r.Header.Get("User-Agent"),
		Language:    r.Header.Get("Accept-Language"),
	}
}

// sessionHandler receives the request plus the GitHub session behind the
// bearer token.
type sessionHandler func(http.ResponseWriter, *http.Request, domain.Session)

func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		session, found, err := s.app.SessionFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if !found {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, session)
	})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var hints identity.Hints
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&hints); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resolved, err := s.resolver.Resolve(r.Context(), hints)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "identity resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     resolved.User,
		"backupId": resolved.BackupID,
	})
}

func (s *Server) handleNickname(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SetNickname(r.Context(), user, req.Nickname); err != nil {
		writeAppError(w, err)
		return
	}
	// Resolutions after this must see the new nickname.
	s.resolver.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.proxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors to HTTP statuses. GitHub API errors
// pass their upstream status through.
func writeAppError(w http.ResponseWriter, err error) {
	var apiErr *github.APIError
	switch {
	case errors.Is(err, app.ErrEmptyContent),
		errors.Is(err, app.ErrEmptyNickname),
		errors.Is(err, app.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrCubeNotFound),
		errors.Is(err, app.ErrMessageNotFound),
		errors.Is(err, app.ErrNoDefaultCube):
		notFound(w, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
