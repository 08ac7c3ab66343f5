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
	"communityforum/pkg/store"
	"communityforum/services/forum/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Sessions store.SessionStore
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// Server exposes the internal forum API. It is reached only through the
// gateway, but it never trusts the forwarded identity on its own: the
// session token travels with every authenticated request and is verified
// again here against the shared signing secret.
type Server struct {
	app      *app.App
	sessions store.SessionStore
	metrics  *metrics.Collector
	mux      *http.ServeMux
}

// Identity is the verified requester identity. It is resolved once per
// request and passed explicitly to handlers; a nil Identity means the
// request is anonymous.
type Identity struct {
	UserID string
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		mux:      http.NewServeMux(),
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
	return util.WithRequestID(util.WithRequestLog("forum", util.WithSecurityHeaders(h)))
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", metrics.Handler(gatherer))
	}

	s.mux.HandleFunc("/forums", s.handleForums)
	s.mux.HandleFunc("/forums/", s.handleForumByID)
	s.mux.HandleFunc("/comments/", s.handleCommentByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveIdentity turns the forwarded bearer assertion and session token
// into a verified Identity. The bearer id alone is never trusted: the
// session token must verify, its subject must match the asserted id, and
// the user must still exist.
func (s *Server) resolveIdentity(r *http.Request) (*Identity, error) {
	bearerID, hasBearer := bearerToken(r)
	sessionToken := strings.TrimSpace(r.Header.Get("X-Session-Token"))

	if !hasBearer && sessionToken == "" {
		return nil, nil
	}
	if !hasBearer || sessionToken == "" {
		return nil, errors.New("identity assertion incomplete")
	}

	subject, ok, err := s.sessions.GetUserIDByToken(sessionToken)
	if err != nil || !ok {
		return nil, errors.New("session token invalid")
	}
	if subject != bearerID {
		return nil, errors.New("bearer id does not match session subject")
	}
	exists, err := s.app.UserExists(subject)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New("unknown user")
	}
	return &Identity{UserID: subject}, nil
}

// requireIdentity resolves the identity for a mutating request, rejecting
// anonymous and unverifiable callers alike.
func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	identity, err := s.resolveIdentity(r)
	if err != nil {
		s.audit(r, "forum.identity", "fail", "reason", err.Error())
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return nil, false
	}
	if identity == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return nil, false
	}
	return identity, true
}

// /forums
func (s *Server) handleForums(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		forums, err := s.app.ListForums()
		if err != nil {
			writeForumError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, forums)
	case http.MethodPost:
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var req forumRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
			return
		}
		forum, err := s.app.CreateForum(identity.UserID, req.Title, req.Description, req.Tags)
		if err != nil {
			writeForumError(w, err)
			return
		}
		s.audit(r, "forum.create", "success", "user_id", identity.UserID, "forum_id", forum.ID)
		writeJSON(w, http.StatusCreated, forum)
	default:
		methodNotAllowed(w)
	}
}

// /forums/{id} and /forums/{id}/comments
func (s *Server) handleForumByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/forums/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "comments" {
			http.NotFound(w, r)
			return
		}
		s.handleForumComments(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		thread, err := s.app.GetForumThread(id)
		if err != nil {
			writeForumError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodPut:
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var req forumRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
			return
		}
		forum, err := s.app.UpdateForum(identity.UserID, id, req.Title, req.Description, req.Tags)
		if err != nil {
			writeForumError(w, err)
			return
		}
		s.audit(r, "forum.update", "success", "user_id", identity.UserID, "forum_id", id)
		writeJSON(w, http.StatusOK, forum)
	case http.MethodDelete:
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteForum(identity.UserID, id); err != nil {
			writeForumError(w, err)
			return
		}
		s.audit(r, "forum.delete", "success", "user_id", identity.UserID, "forum_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleForumComments(w http.ResponseWriter, r *http.Request, forumID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	comment, err := s.app.CreateComment(identity.UserID, forumID, req.Content)
	if err != nil {
		writeForumError(w, err)
		return
	}
	s.audit(r, "comment.create", "success", "user_id", identity.UserID, "forum_id", forumID)
	writeJSON(w, http.StatusCreated, comment)
}

// /comments/{id}
func (s *Server) handleCommentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/comments/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteComment(identity.UserID, id); err != nil {
		writeForumError(w, err)
		return
	}
	s.audit(r, "comment.delete", "success", "user_id", identity.UserID, "comment_id", id)
	w.WriteHeader(http.StatusNoContent)
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
	codeUnauthorized = "Unauthorized"
	codeForbidden    = "Forbidden"
	codeNotFound     = "NotFound"
	codeValidation   = "ValidationError"
	codeStorage      = "StorageError"
)

type forumRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type commentRequest struct {
	Content string `json:"content"`
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

// writeForumError maps core errors onto the wire taxonomy. The lookup,
// ownership, validation order of the core guarantees 404 wins over 403.
func writeForumError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrForumNotFound), errors.Is(err, app.ErrCommentNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, app.ErrNotOwner):
		writeError(w, http.StatusForbidden, codeForbidden, "forbidden")
	case errors.Is(err, app.ErrTitleDescriptionRequired), errors.Is(err, app.ErrContentRequired):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeStorage, "internal error")
	}
}
