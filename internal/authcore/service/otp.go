package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openkettle/authcore/internal/authcore/domain"
	"github.com/openkettle/authcore/internal/authcore/secrets"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/pkg/cryptox"
	"github.com/openkettle/authcore/pkg/slogx"
)

const (
	// DefaultOTPLength is the number of digits in an issued code.
	DefaultOTPLength = 6

	// DefaultOTPTTL is how long an issued code stays verifiable.
	DefaultOTPTTL = 5 * time.Minute

	// DefaultVerifiedFlagTTL bounds how long a post-verification flag
	// survives before it self-expires.
	DefaultVerifiedFlagTTL = 10 * time.Minute
)

var (
	ErrRateLimited  = errors.New("rate_limited")
	ErrInvalidOTP   = errors.New("invalid_or_expired_otp")
	ErrUnknownUser  = errors.New("unknown_user")
	ErrInvalidInput = errors.New("invalid_input")
)

// OTPService issues and verifies one-time codes. Codes live only in the
// secrets store; the state machine is key presence. No key means either
// never issued, already consumed, or expired, and callers cannot tell
// those apart.
type OTPService struct {
	Secrets  secrets.Store
	Limiter  *RateLimiter
	Sessions *SessionService

	CodeLength      int
	CodeTTL         time.Duration
	VerifiedFlagTTL time.Duration
}

func (s *OTPService) codeLength() int {
	if s.CodeLength <= 0 {
		return DefaultOTPLength
	}
	return s.CodeLength
}

func (s *OTPService) codeTTL() time.Duration {
	if s.CodeTTL <= 0 {
		return DefaultOTPTTL
	}
	return s.CodeTTL
}

func (s *OTPService) verifiedFlagTTL() time.Duration {
	if s.VerifiedFlagTTL <= 0 {
		return DefaultVerifiedFlagTTL
	}
	return s.VerifiedFlagTTL
}

// Issue admits the request through the rate limiter and, on success, stores
// a fresh numeric code under the purpose-scoped key. Issuing overwrites any
// prior unconsumed code for the same identifier and purpose; only the newest
// code verifies. The raw code is returned for the delivery layer and is
// never logged or persisted.
func (s *OTPService) Issue(ctx context.Context, identifier string, purpose domain.Purpose) (string, error) {
	l := slogx.FromContext(ctx)

	decision, err := s.Limiter.Admit(ctx, identifier, purpose)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, decision.Reason)
	}

	code, err := cryptox.NumericCode(s.codeLength())
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	if err := s.Secrets.Set(ctx, otpKey(purpose, identifier), code, s.codeTTL()); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	l.Info("otp issued",
		slog.String("identifier", identifier),
		slog.String("purpose", string(purpose)))
	return code, nil
}

// Verify consumes the code. On a match the secret and both rate-limit
// counters are removed in one atomic delete, so a successful verify also
// clears the cooldowns. A mismatch leaves everything in place; attempts are
// bounded by the secret's TTL, not by a counter.
func (s *OTPService) Verify(ctx context.Context, identifier, code string, purpose domain.Purpose) error {
	l := slogx.FromContext(ctx)

	stored, err := s.Secrets.Get(ctx, otpKey(purpose, identifier))
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return ErrInvalidOTP
		}
		return fmt.Errorf("load otp: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		l.Info("otp verify failed", slog.String("identifier", identifier))
		return ErrInvalidOTP
	}

	err = s.Secrets.Delete(ctx,
		otpKey(purpose, identifier),
		otpRateKey(identifier),
		otpHourlyKey(identifier),
	)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}

	l.Info("otp verified",
		slog.String("identifier", identifier),
		slog.String("purpose", string(purpose)))
	return nil
}

// MarkVerified records a transient flag that the user completed an OTP
// check on the channel. The flag expires on its own and is also swept on
// logout.
func (s *OTPService) MarkVerified(ctx context.Context, channel domain.Channel, userID string) error {
	key := otpVerifiedKey(channel, userID)
	if err := s.Secrets.Set(ctx, key, "1", s.verifiedFlagTTL()); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// CompleteLogin verifies a login-purpose code for the user on the given
// channel and, if it matches, opens a fresh session chain and mints tokens.
func (s *OTPService) CompleteLogin(ctx context.Context, channel domain.Channel, userID, code string) (*domain.TokenPair, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	identifier := domain.Identifier(channel, userID)
	if err := s.Verify(ctx, identifier, code, domain.PurposeLogin); err != nil {
		return nil, err
	}

	if err := s.MarkVerified(ctx, channel, userID); err != nil {
		return nil, err
	}

	pair, err := s.Sessions.Create(ctx, userID, "otp")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}
	return pair, nil
}
