package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"studybuddy/internal/ratelimit"
	"studybuddy/internal/util"
	"studybuddy/pkg/domain"
	"studybuddy/pkg/notify"
	"studybuddy/services/studybuddy/internal/app"
	"studybuddy/services/studybuddy/internal/security"
)

const (
	maxJSONBody      = 1 << 20
	rateWindow       = time.Minute
	localLimiterKeys = 10000

	defaultLongRequestTimeout = 5 * time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	Hub *notify.Hub

	// Redis backs the rate limiters; without it every instance limits on
	// its own.
	Redis          redis.UniversalClient
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies

	SignupRateLimitPerMinute   int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
	PasswordRateLimitPerMinute int
	UploadRateLimitPerMinute   int
	ChatRateLimitPerMinute     int

	// LongRequestTimeout replaces the server read and write deadlines on
	// routes that upload files or wait on generation. Defaults to 5m.
	LongRequestTimeout time.Duration
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	hub            *notify.Hub
	mux            *http.ServeMux
	allowedOrigins []string
	trusted        *util.TrustedProxies
	alerter        *security.Alerter
	longRequest    time.Duration

	signupLimiter   ratelimit.Limiter
	loginLimiter    ratelimit.Limiter
	refreshLimiter  ratelimit.Limiter
	passwordLimiter ratelimit.Limiter
	uploadLimiter   ratelimit.Limiter
	chatLimiter     ratelimit.Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("event hub required")
	}
	newLimiter := func(name string, limit, def int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			limit = def
		}
		if cfg.Redis != nil {
			l, err := ratelimit.NewFixedWindowLimiterWithClient(cfg.Redis, "studybuddy:ratelimit:"+name, limit, rateWindow)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return l, nil
		}
		l, err := ratelimit.NewLocalLimiter(limit, rateWindow, localLimiterKeys)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return l, nil
	}
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		trusted:        cfg.TrustedProxies,
		alerter:        security.NewAlerter(cfg.Redis, "studybuddy:alerts"),
		longRequest:    cfg.LongRequestTimeout,
	}
	if s.longRequest <= 0 {
		s.longRequest = defaultLongRequestTimeout
	}
	limiters := []struct {
		dst   *ratelimit.Limiter
		name  string
		limit int
		def   int
	}{
		{&s.signupLimiter, "signup", cfg.SignupRateLimitPerMinute, 5},
		{&s.loginLimiter, "login", cfg.LoginRateLimitPerMinute, 10},
		{&s.refreshLimiter, "refresh", cfg.RefreshRateLimitPerMinute, 20},
		{&s.passwordLimiter, "password", cfg.PasswordRateLimitPerMinute, 10},
		{&s.uploadLimiter, "upload", cfg.UploadRateLimitPerMinute, 20},
		{&s.chatLimiter, "chat", cfg.ChatRateLimitPerMinute, 30},
	}
	for _, l := range limiters {
		limiter, err := newLimiter(l.name, l.limit, l.def)
		if err != nil {
			return nil, err
		}
		*l.dst = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(s.trusted,
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/auth/session", s.authenticated(s.handleSession))
	s.mux.HandleFunc("/api/auth/jwks", s.handleJWKS)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/password", s.authenticated(s.handleChangePassword))

	// profile
	s.mux.Handle("/api/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/api/profile/avatar", s.authenticated(s.handleAvatar))

	// documents & chats
	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))
	s.mux.Handle("/api/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/api/chats/", s.authenticated(s.handleChatByID))

	// events
	s.mux.HandleFunc("/api/events", s.handleEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "token.verify", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := s.app.UserFromToken(token)
		if !ok {
			s.audit(r, "token.verify", "fail", "reason", "invalid_or_revoked")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// handleEvents upgrades to a websocket carrying the caller's notifications.
// Browsers cannot set headers on websocket requests, so the token may also
// come from the access_token query parameter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	user, found := s.app.UserFromToken(token)
	if token == "" || !found {
		s.audit(r, "events.connect", "fail", "reason", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.audit(r, "events.connect", "success", "user_id", user.ID)
	s.hub.ServeWS(w, r, user.ID)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	alert, err := s.alerter.Observe(r.Context(), event, outcome, util.ClientIP(r, s.trusted))
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if alert.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", util.ClientIP(r, s.trusted),
			"count", alert.Count,
			"threshold", alert.Rule.Threshold,
			"window", alert.Rule.Window.String(),
		)
	}
}

// allowRate keys on the route name and the client address, or the user id
// when one is given. route names the endpoint rather than the path so ids
// in the URL do not open separate buckets.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, route, msg string, userID ...string) bool {
	key := route + "|" + util.ClientIP(r, s.trusted)
	if len(userID) > 0 && userID[0] != "" {
		key = route + "|user:" + userID[0]
	}
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// extendDeadlines pushes the connection deadlines out for handlers that read
// large bodies or wait on generation, OCR or search.
func (s *Server) extendDeadlines(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(s.longRequest)
	if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger(r).Warn("extend read deadline failed", "err", err)
	}
	if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger(r).Warn("extend write deadline failed", "err", err)
	}
}

func logger(r *http.Request) *slog.Logger {
	return util.LoggerFromContext(r.Context())
}
