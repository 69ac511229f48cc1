package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"exammate/internal/usertoken"
	"exammate/internal/util"
	"exammate/pkg/domain"
	"exammate/services/catalog/internal/app"
	"exammate/services/catalog/internal/authclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Auth          *authclient.Client
	TokenVerifier *usertoken.Verifier
}

// Server exposes HTTP endpoints for the catalog service.
type Server struct {
	app           *app.App
	auth          *authclient.Client
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		auth:          cfg.Auth,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// catalogue browsing is public; content is gated per user
	s.mux.HandleFunc("/catalog/packs", s.handlePacks)
	s.mux.HandleFunc("/catalog/packs/", s.handlePackSubpath)
	s.mux.Handle("/catalog/sessions/", s.withUser(s.handleSessionSubpath))

	// admin catalogue management
	s.mux.Handle("/catalog/admin/packs", s.adminOnly(s.handleAdminPacks))
	s.mux.Handle("/catalog/admin/packs/", s.adminOnly(s.handleAdminPackSubpath))
	s.mux.Handle("/catalog/admin/sessions/", s.adminOnly(s.handleAdminSessionSubpath))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, http.StatusInternalServerError, "auth client not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		user, err := s.auth.Me(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next userHandler) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

// GET /catalog/packs?type=pyq&branch=cse
func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	packType, err := app.ParsePackType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	packs, err := s.app.ListPacks(packType, r.URL.Query().Get("branch"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": packs,
		"count": len(packs),
	})
}

// /catalog/packs/{id} or /catalog/packs/{id}/syllabus
func (s *Server) handlePackSubpath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/catalog/packs/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "syllabus" {
			notFound(w, "not found")
			return
		}
		url, err := s.app.SyllabusURL(r.Context(), id)
		if err != nil {
			if errors.Is(err, app.ErrPackNotFound) {
				notFound(w, "pack not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
		return
	}
	detail, err := s.app.PackDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrPackNotFound) {
			notFound(w, "pack not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// /catalog/sessions/{id}/content
func (s *Server) handleSessionSubpath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/catalog/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "content" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	content, err := s.app.SessionContent(user, parts[0])
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			notFound(w, "session not found")
		case errors.Is(err, app.ErrPaymentRequired):
			writeError(w, http.StatusPaymentRequired, "pack not purchased")
		case errors.Is(err, app.ErrContentNotReady):
			notFound(w, "content not available yet")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// admin handlers
func (s *Server) handleAdminPacks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req packRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pack, err := s.app.UpsertPack("", app.PackInput{
		Title:    req.Title,
		Branch:   req.Branch,
		Subtitle: req.Subtitle,
		Price:    req.Price,
		Type:     domain.PackType(strings.ToLower(req.Type)),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, pack)
}

// /catalog/admin/packs/{id} or /catalog/admin/packs/{id}/subjects
func (s *Server) handleAdminPackSubpath(w http.ResponseWriter, r *http.Request, _ domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/catalog/admin/packs/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "subjects" || r.Method != http.MethodPost {
			notFound(w, "not found")
			return
		}
		var req subjectRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		subject, err := s.app.UpsertSubject(id, req.ID, req.Title, req.OrderIdx)
		if err != nil {
			if errors.Is(err, app.ErrPackNotFound) {
				notFound(w, "pack not found")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, subject)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req packRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		pack, err := s.app.UpsertPack(id, app.PackInput{
			Title:    req.Title,
			Branch:   req.Branch,
			Subtitle: req.Subtitle,
			Price:    req.Price,
			Type:     domain.PackType(strings.ToLower(req.Type)),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, pack)
	case http.MethodDelete:
		if err := s.app.DeletePack(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /catalog/admin/sessions/{subjectId} (POST session) or
// /catalog/admin/sessions/{sessionId}/content (PUT content)
func (s *Server) handleAdminSessionSubpath(w http.ResponseWriter, r *http.Request, _ domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/catalog/admin/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "content" || r.Method != http.MethodPut {
			notFound(w, "not found")
			return
		}
		var req contentRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		content, err := s.app.PutSessionContent(id, req.Subject, req.Units)
		if err != nil {
			if errors.Is(err, app.ErrSessionNotFound) {
				notFound(w, "session not found")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, content)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.UpsertSession(id, req.ID, req.Slug, req.Title, req.Summary)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

type packRequest struct {
	Title    string `json:"title"`
	Branch   string `json:"branch"`
	Subtitle string `json:"subtitle"`
	Price    int64  `json:"price"`
	Type     string `json:"type"`
}

type subjectRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	OrderIdx int    `json:"orderIdx"`
}

type sessionRequest struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type contentRequest struct {
	Subject string               `json:"subject"`
	Units   []domain.ContentUnit `json:"units"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForCatalog(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForCatalog(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "auth client not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "CATALOG_FORBIDDEN"
	case message == "pack not found":
		return "CATALOG_PACK_NOT_FOUND"
	case message == "session not found":
		return "CATALOG_SESSION_NOT_FOUND"
	case message == "pack not purchased":
		return "PAYMENT_REQUIRED"
	case message == "content not available yet":
		return "CATALOG_CONTENT_NOT_READY"
	case message == "invalid json body":
		return "CATALOG_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "CATALOG_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusPaymentRequired:
		return "PAYMENT_REQUIRED"
	case http.StatusForbidden:
		return "CATALOG_FORBIDDEN"
	case http.StatusNotFound:
		return "CATALOG_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
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
