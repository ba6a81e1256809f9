package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openkettle/authcore/internal/authcore/service"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/pkg/httpx"
	"github.com/openkettle/authcore/pkg/slogx"
)

// ResetRequestHandler serves POST /v1/password-reset/request. It always
// answers 202 so the response does not reveal whether the address has an
// account.
type ResetRequestHandler struct {
	ResetService *service.ResetService
	Store        store.Store
	Deliver      func(identifier, value string)
}

type resetRequestBody struct {
	Email string `json:"email"`
}

func (h *ResetRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body resetRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	ctx := r.Context()
	user, err := h.Store.Users().GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		token, err := h.ResetService.Create(ctx, user.ID)
		if err != nil {
			slogx.FromContext(ctx).Error("reset request failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not create reset token")
			return
		}
		h.Deliver(email, token)
	case errors.Is(err, store.ErrNotFound):
		// Fall through to the uniform answer.
	default:
		slogx.FromContext(ctx).Error("reset request failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not create reset token")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// ResetConfirmHandler serves POST /v1/password-reset/confirm.
type ResetConfirmHandler struct {
	ResetService *service.ResetService
}

type resetConfirmBody struct {
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *ResetConfirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body resetConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if strings.TrimSpace(body.UserID) == "" || body.Token == "" || body.NewPassword == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "user_id, token and new_password are required")
		return
	}

	err := h.ResetService.Complete(r.Context(), body.UserID, body.Token, body.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
			return
		}
		slogx.FromContext(r.Context()).Error("reset confirm failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not reset password")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}
