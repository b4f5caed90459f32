package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/xela07ax/medrecord-gateway/internal/api/service"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (*domain.User, error)
}

type AuthHandler struct {
	service  Authenticator
	sessions *auth.SessionManager
	logger   *zap.Logger
}

func NewAuthHandler(s Authenticator, sessions *auth.SessionManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, sessions: sessions, logger: logger.Named("auth-api")}
}

type userResponse struct {
	User *domain.Identity `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	id := user.Identity()
	if _, err := h.sessions.Establish(w, id); err != nil {
		h.logger.Error("failed to establish session", zap.String("user_id", id.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: &id})
}

// Logout всегда успешен, даже без активной сессии.
func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.sessions.Terminate(w)
	w.WriteHeader(http.StatusNoContent)
}

// Session отдает текущую identity или {"user": null}.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var resp userResponse
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		resp.User = &id
	}
	writeJSON(w, http.StatusOK, resp)
}
