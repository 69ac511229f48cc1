package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"exammate/internal/usertoken"
	"exammate/internal/util"
	"exammate/pkg/domain"
	"exammate/pkg/payment"
	"exammate/services/commerce/internal/app"
	"exammate/services/commerce/internal/authclient"
	"exammate/services/commerce/internal/security"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Auth          *authclient.Client
	TokenVerifier *usertoken.Verifier
	Alerter       *security.PaymentAlerter
}

// Server exposes HTTP endpoints for the commerce service.
type Server struct {
	app           *app.App
	auth          *authclient.Client
	tokenVerifier *usertoken.Verifier
	alerter       *security.PaymentAlerter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		auth:          cfg.Auth,
		tokenVerifier: cfg.TokenVerifier,
		alerter:       cfg.Alerter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("commerce", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/commerce/packs/", s.withUser(s.handlePackSubpath))
	s.mux.Handle("/commerce/library", s.withUser(s.handleLibrary))
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

// /commerce/packs/{id}/entitlement|checkout|confirm|cancel
func (s *Server) handlePackSubpath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/commerce/packs/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	packID, action := parts[0], parts[1]
	switch action {
	case "entitlement":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEntitlement(w, user, packID)
	case "checkout":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCheckout(w, r, user, packID)
	case "confirm":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleConfirm(w, r, user, packID)
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCancel(w, user, packID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleEntitlement(w http.ResponseWriter, user domain.User, packID string) {
	entitled, err := s.app.Entitlement(user, packID)
	if err != nil {
		if errors.Is(err, app.ErrPackNotFound) {
			writeError(w, http.StatusNotFound, "pack not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	state := s.app.FlowStateFor(user.ID, packID)
	if entitled {
		state = app.FlowUnlocked
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entitled": entitled,
		"state":    state,
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, user domain.User, packID string) {
	resp, err := s.app.Checkout(r.Context(), user, packID)
	if err != nil {
		s.observe(r, "payment.checkout", "fail")
		switch {
		case errors.Is(err, app.ErrPackNotFound):
			writeError(w, http.StatusNotFound, "pack not found")
		case errors.Is(err, app.ErrFlowActive):
			writeError(w, http.StatusConflict, "unlock already in progress")
		case errors.Is(err, payment.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "could not create payment order, please retry")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, user domain.User, packID string) {
	var input app.ConfirmInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.Confirm(r.Context(), user, packID, input)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrReceiptRequired):
			writeError(w, http.StatusBadRequest, "orderId, paymentId, and signature are required")
		case errors.Is(err, app.ErrNoActiveOrder):
			writeError(w, http.StatusConflict, "no active order for this pack")
		case errors.Is(err, app.ErrOrderMismatch):
			writeError(w, http.StatusConflict, "order does not match active checkout")
		case errors.Is(err, app.ErrFlowActive):
			writeError(w, http.StatusConflict, "verification already in progress")
		case errors.Is(err, payment.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "could not verify payment, please retry")
		case errors.Is(err, app.ErrVerificationFailed):
			s.observe(r, "payment.verify", "fail")
			writeError(w, http.StatusUnprocessableEntity, "payment verification failed, contact support")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, user domain.User, packID string) {
	state, err := s.app.Cancel(user, packID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoActiveOrder):
			writeError(w, http.StatusConflict, "no active order for this pack")
		case errors.Is(err, app.ErrFlowActive):
			writeError(w, http.StatusConflict, "verification already in progress")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":  state,
		"reason": "payment_cancelled",
	})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	items, err := s.app.Library(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) observe(r *http.Request, event, outcome string) {
	result, err := s.alerter.Observe(event, outcome, util.ClientIP(r, nil))
	if err != nil {
		slog.Warn("alert observe failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		slog.Warn("payment alert threshold reached", "event", event, "outcome", outcome, "count", result.Count, "window", result.Window)
	}
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
		Code:      errorCodeForCommerce(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForCommerce(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "auth client not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "pack not found":
		return "COMMERCE_PACK_NOT_FOUND"
	case message == "unlock already in progress",
		message == "verification already in progress":
		return "COMMERCE_FLOW_ACTIVE"
	case message == "no active order for this pack":
		return "COMMERCE_NO_ACTIVE_ORDER"
	case message == "order does not match active checkout":
		return "COMMERCE_ORDER_MISMATCH"
	case message == "could not create payment order, please retry",
		message == "could not verify payment, please retry":
		return "PAYMENT_GATEWAY_UNAVAILABLE"
	case message == "payment verification failed, contact support":
		return "PAYMENT_VERIFICATION_FAILED"
	case message == "invalid json body":
		return "COMMERCE_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "COMMERCE_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "COMMERCE_NOT_FOUND"
	case http.StatusConflict:
		return "COMMERCE_FLOW_ACTIVE"
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
