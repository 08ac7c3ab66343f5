package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"communityforum/internal/metrics"
	"communityforum/internal/ratelimit"
	"communityforum/internal/util"
	"communityforum/pkg/store"
	"communityforum/services/gateway/internal/authclient"
	"communityforum/services/gateway/internal/forumclient"
)

const defaultSessionCookie = "forum_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth     *authclient.Client
	Forum    *forumclient.Client
	Sessions store.SessionStore

	SessionCookieName   string
	SessionCookieSecure bool
	SessionTTL          time.Duration

	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	WriteRateLimitPerMinute  int
	TrustedProxies           *util.TrustedProxies

	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// Server is the public edge of the forum. It terminates sessions, proxies
// authentication to the auth service, and forwards forum traffic to the
// internal API with a verified identity attached. The internal API is
// never reachable by clients directly.
type Server struct {
	auth     *authclient.Client
	forum    *forumclient.Client
	sessions store.SessionStore
	mux      *http.ServeMux
	metrics  *metrics.Collector

	cookieName   string
	cookieSecure bool
	cookieMaxAge int

	trustedProxies *util.TrustedProxies
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
	writeLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	writeLimit := cfg.WriteRateLimitPerMinute
	if writeLimit <= 0 {
		writeLimit = 30
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return ratelimit.NewMemoryFixedWindowLimiter(limit, rateWindow)
		}
		prefix := "forum:gateway:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	writeLimiter, err := newLimiter("write", writeLimit)
	if err != nil {
		return nil, err
	}

	cookieName := strings.TrimSpace(cfg.SessionCookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookie
	}
	cookieMaxAge := int(cfg.SessionTTL / time.Second)
	if cookieMaxAge <= 0 {
		cookieMaxAge = int((24 * time.Hour) / time.Second)
	}

	s := &Server{
		auth:           cfg.Auth,
		forum:          cfg.Forum,
		sessions:       cfg.Sessions,
		mux:            http.NewServeMux(),
		metrics:        cfg.Metrics,
		cookieName:     cookieName,
		cookieSecure:   cfg.SessionCookieSecure,
		cookieMaxAge:   cookieMaxAge,
		trustedProxies: cfg.TrustedProxies,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		writeLimiter:   writeLimiter,
	}
	s.routes(cfg.Gatherer)
	return s, nil
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.metrics != nil {
		h = metrics.WithHTTPMetrics(s.metrics, h)
	}
	return util.WithRequestID(util.WithRequestLog("gateway", util.WithSecurityHeaders(util.WithCORS(h))))
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", metrics.Handler(gatherer))
	}

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/oauth/", s.handleOAuth)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/me", s.handleMe)

	// forum traffic, forwarded to the internal service
	s.mux.HandleFunc("/api/forums", s.handleForward)
	s.mux.HandleFunc("/api/forums/", s.handleForward)
	s.mux.HandleFunc("/api/comments/", s.handleForward)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "gateway.signup", "rate_limited")
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid JSON body")
		return
	}
	user, token, err := s.auth.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "gateway.signup", "fail", "reason", err.Error())
		s.writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.signup", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "gateway.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid JSON body")
		return
	}
	user, token, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "gateway.login", "fail", "reason", err.Error())
		s.writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// handleOAuth serves POST /api/auth/oauth/{provider}.
func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	provider := strings.TrimPrefix(r.URL.Path, "/api/auth/oauth/")
	if provider == "" || strings.Contains(provider, "/") {
		http.NotFound(w, r)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "gateway.oauth", "rate_limited")
		return
	}
	var req oauthRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid JSON body")
		return
	}
	user, token, err := s.auth.OAuth(provider, req.Code)
	if err != nil {
		s.audit(r, "gateway.oauth", "fail", "provider", provider, "reason", err.Error())
		s.writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.oauth", "success", "provider", provider, "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token := s.sessionProof(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}
	if err := s.auth.Logout(token); err != nil {
		s.audit(r, "gateway.logout", "fail", "reason", err.Error())
		s.writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.logout", "success")
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := s.sessionProof(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}
	user, err := s.auth.Me(token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleForward relays forum traffic upstream. Reads go through with
// whatever identity resolves, anonymously when none does. Mutations stop
// here with a 401 unless the session proof verifies; the upstream is
// never contacted for an unverified mutation.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	upstreamPath := strings.TrimPrefix(r.URL.Path, "/api")
	identity := s.resolveIdentity(r)

	if isMutating(r.Method) {
		if identity == nil {
			s.audit(r, "gateway.forward", "fail", "reason", "no_verified_identity")
			writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
			return
		}
		if !s.allowRate(w, r, s.writeLimiter, "too many write requests") {
			s.audit(r, "gateway.forward", "rate_limited", "user_id", identity.UserID)
			return
		}
	}

	resp, err := s.forum.Forward(r.Method, upstreamPath, r.Body, r.Header.Get("Content-Type"), identity)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordUpstreamFailure()
		}
		slog.Error("forum upstream unreachable", "err", err, "path", upstreamPath, "request_id", util.RequestIDFromRequest(r))
		writeError(w, http.StatusInternalServerError, "UpstreamUnavailable", "forum service unavailable")
		return
	}
	s.writeUpstream(w, r, resp)
}

// resolveIdentity verifies the session proof and returns the identity to
// forward, or nil when the request is anonymous or the proof is invalid.
func (s *Server) resolveIdentity(r *http.Request) *forumclient.Identity {
	token := s.sessionProof(r)
	if token == "" {
		return nil
	}
	userID, ok, err := s.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		s.audit(r, "gateway.session.verify", "fail", "reason", "invalid_token")
		return nil
	}
	return &forumclient.Identity{UserID: userID, SessionToken: token}
}

// sessionProof extracts the session token from the Authorization header,
// falling back to the session cookie.
func (s *Server) sessionProof(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// writeUpstream replays the upstream response. JSON bodies are parsed and
// re-emitted, everything else passes through byte-for-byte.
func (s *Server) writeUpstream(w http.ResponseWriter, r *http.Request, resp *forumclient.Response) {
	if len(resp.Body) == 0 {
		w.WriteHeader(resp.Status)
		return
	}
	if isJSONContentType(resp.ContentType) {
		var payload any
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			slog.Error("malformed upstream JSON", "path", r.URL.Path, "request_id", util.RequestIDFromRequest(r))
			writeError(w, http.StatusInternalServerError, "UpstreamUnavailable", "invalid upstream response")
			return
		}
		writeJSON(w, resp.Status, payload)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   s.cookieMaxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimited()
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "ValidationError", msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*authclient.APIError); ok {
		writeError(w, apiErr.Status, apiErr.Code, apiErr.Message)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordUpstreamFailure()
	}
	writeError(w, http.StatusInternalServerError, "UpstreamUnavailable", "auth service unavailable")
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func isJSONContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	return strings.EqualFold(mediaType, "application/json")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "ValidationError", "method not allowed")
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oauthRequest struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
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

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
