package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"communityforum/internal/metrics"
	"communityforum/internal/util"
	"communityforum/pkg/auth"
	"communityforum/pkg/domain"
	"communityforum/services/auth/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// Server exposes HTTP endpoints for the auth service.
type Server struct {
	app     *app.App
	metrics *metrics.Collector
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		metrics: cfg.Metrics,
		mux:     http.NewServeMux(),
	}
	s.routes(cfg.Gatherer)
	return s
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.metrics != nil {
		h = metrics.WithHTTPMetrics(s.metrics, h)
	}
	return util.WithRequestID(util.WithRequestLog("auth", util.WithSecurityHeaders(h)))
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", metrics.Handler(gatherer))
	}

	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/oauth/", s.handleOAuth)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		user, ok := s.app.UserFromToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		s.recordAuth("password", "failure")
		s.audit(r, "auth.signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.recordAuth("password", "success")
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	cred := app.PasswordCredential{Email: req.Email, Password: req.Password}
	user, token, err := s.app.Authenticate(r.Context(), cred)
	if err != nil {
		s.recordAuth(cred.Method(), "failure")
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.recordAuth(cred.Method(), "success")
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: user})
}

// handleOAuth serves POST /auth/oauth/{provider}.
func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	providerName := strings.TrimPrefix(r.URL.Path, "/auth/oauth/")
	if providerName == "" || strings.Contains(providerName, "/") {
		http.NotFound(w, r)
		return
	}
	var req oauthRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	cred := app.OAuthCode{Provider: providerName, Code: req.Code}
	user, token, err := s.app.Authenticate(r.Context(), cred)
	if err != nil {
		s.recordAuth(cred.Method(), "failure")
		s.audit(r, "auth.oauth", "fail", "provider", providerName, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.recordAuth(cred.Method(), "success")
	s.audit(r, "auth.oauth", "success", "provider", providerName, "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "auth.logout", "fail", "reason", err.Error())
		writeError(w, http.StatusInternalServerError, codeStorage, "internal error")
		return
	}
	s.audit(r, "auth.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) recordAuth(method, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(method, outcome)
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, codeValidation, "method not allowed")
}

const (
	codeInvalidCredentials = "InvalidCredentials"
	codeUnauthorized       = "Unauthorized"
	codeValidation         = "ValidationError"
	codeStorage            = "StorageError"
)

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

type sessionResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
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

// writeAppError maps core errors onto the wire taxonomy. Unknown errors are
// reported as storage failures with a generic message.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrProviderExchange):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrNameEmailPasswordRequired),
		errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrUnknownProvider),
		errors.Is(err, app.ErrOAuthCodeRequired),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeStorage, "internal error")
	}
}
