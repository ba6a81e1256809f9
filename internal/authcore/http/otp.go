package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openkettle/authcore/internal/authcore/domain"
	"github.com/openkettle/authcore/internal/authcore/service"
	"github.com/openkettle/authcore/pkg/httpx"
	"github.com/openkettle/authcore/pkg/slogx"
)

// OTPRequestHandler serves POST /v1/otp/request.
type OTPRequestHandler struct {
	OTPService *service.OTPService
	Deliver    func(identifier, value string)
}

type otpRequestBody struct {
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Purpose string `json:"purpose"`
}

func (h *OTPRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	channel, err := domain.ParseChannel(strings.TrimSpace(body.Channel))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "channel must be email or phone")
		return
	}
	purpose, err := domain.ParsePurpose(strings.TrimSpace(body.Purpose))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}
	subject := strings.TrimSpace(body.Subject)
	if subject == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "subject is required")
		return
	}

	identifier := domain.Identifier(channel, subject)
	code, err := h.OTPService.Issue(r.Context(), identifier, purpose)
	if err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "try again later")
			return
		}
		slogx.FromContext(r.Context()).Error("otp request failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not issue code")
		return
	}

	h.Deliver(identifier, code)

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// OTPVerifyHandler serves POST /v1/otp/verify.
type OTPVerifyHandler struct {
	OTPService *service.OTPService
}

type otpVerifyBody struct {
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

func (h *OTPVerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	channel, err := domain.ParseChannel(strings.TrimSpace(body.Channel))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "channel must be email or phone")
		return
	}
	purpose, err := domain.ParsePurpose(strings.TrimSpace(body.Purpose))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}
	subject := strings.TrimSpace(body.Subject)
	if subject == "" || body.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "subject and code are required")
		return
	}

	identifier := domain.Identifier(channel, subject)
	if err := h.OTPService.Verify(r.Context(), identifier, body.Code, purpose); err != nil {
		// Missing, expired and mismatched codes all answer the same way.
		if errors.Is(err, service.ErrInvalidOTP) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "code is invalid or expired")
			return
		}
		slogx.FromContext(r.Context()).Error("otp verify failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not verify code")
		return
	}

	if err := h.OTPService.MarkVerified(r.Context(), channel, subject); err != nil {
		slogx.FromContext(r.Context()).Error("mark verified failed", slog.Any("error", err))
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// OTPLoginHandler serves POST /v1/otp/login. Verifies a login code and
// opens a session in one step.
type OTPLoginHandler struct {
	OTPService *service.OTPService
}

type otpLoginBody struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
	Code    string `json:"code"`
}

func (h *OTPLoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body otpLoginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	channel, err := domain.ParseChannel(strings.TrimSpace(body.Channel))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "channel must be email or phone")
		return
	}

	pair, err := h.OTPService.CompleteLogin(r.Context(), channel, body.UserID, body.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		case errors.Is(err, service.ErrInvalidOTP), errors.Is(err, service.ErrUnknownUser):
			// An unknown user answers like a bad code so the endpoint
			// cannot be used to probe which accounts exist.
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "code is invalid or expired")
		default:
			slogx.FromContext(r.Context()).Error("otp login failed", slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not complete login")
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, pair)
}
