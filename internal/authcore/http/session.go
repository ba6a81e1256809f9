package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openkettle/authcore/internal/authcore/service"
	"github.com/openkettle/authcore/pkg/httpx"
	"github.com/openkettle/authcore/pkg/slogx"
)

// RefreshHandler serves POST /v1/session/refresh.
type RefreshHandler struct {
	SessionService *service.SessionService
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.SessionService.Rotate(r.Context(), body.RefreshToken)
	if err != nil {
		// Unknown tokens and detected replays answer identically; the
		// replay side effect (chain revocation) already happened.
		if errors.Is(err, service.ErrInvalidRefresh) || errors.Is(err, service.ErrReuseDetected) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "refresh token is invalid")
			return
		}
		slogx.FromContext(r.Context()).Error("refresh failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not refresh session")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, pair)
}

// LogoutHandler serves POST /v1/session/logout. Always answers 200 so a
// logout cannot be used to probe token validity.
type LogoutHandler struct {
	SessionService *service.SessionService
}

type logoutBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body logoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	if body.RefreshToken != "" {
		if err := h.SessionService.RevokeByToken(r.Context(), body.RefreshToken); err != nil {
			slogx.FromContext(r.Context()).Error("logout failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not revoke session")
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
