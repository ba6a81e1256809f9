package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openkettle/authcore/internal/authcore/domain"
	"github.com/openkettle/authcore/internal/authcore/secrets"
	"github.com/openkettle/authcore/pkg/slogx"
)

const (
	// DefaultMinuteWindow is how long after an issue the next request for
	// the same identifier is refused outright.
	DefaultMinuteWindow = time.Minute

	// DefaultHourWindow bounds the fixed window for the hourly ceiling.
	DefaultHourWindow = time.Hour

	// DefaultHourlyCeiling is the number of issues permitted per identifier
	// within the hour window.
	DefaultHourlyCeiling = 5
)

// RateLimiter guards OTP issuance with three stacked checks: an unconsumed
// secret for the same purpose, a per-minute cooldown, and an hourly ceiling.
// Counters live in the secrets store under fixed-window keys.
type RateLimiter struct {
	Secrets       secrets.Store
	MinuteWindow  time.Duration
	HourWindow    time.Duration
	HourlyCeiling int64
}

func (rl *RateLimiter) minuteWindow() time.Duration {
	if rl.MinuteWindow <= 0 {
		return DefaultMinuteWindow
	}
	return rl.MinuteWindow
}

func (rl *RateLimiter) hourWindow() time.Duration {
	if rl.HourWindow <= 0 {
		return DefaultHourWindow
	}
	return rl.HourWindow
}

func (rl *RateLimiter) hourlyCeiling() int64 {
	if rl.HourlyCeiling <= 0 {
		return DefaultHourlyCeiling
	}
	return rl.HourlyCeiling
}

// Admit decides whether a new OTP may be issued for the identifier. A deny
// carries the first reason that tripped, checked cheapest-first. Admit has a
// side effect: it advances both window counters, so callers must only invoke
// it when they intend to issue on success.
func (rl *RateLimiter) Admit(ctx context.Context, identifier string, purpose domain.Purpose) (domain.AdmitDecision, error) {
	l := slogx.FromContext(ctx)

	// An unconsumed secret for the same purpose blocks reissue until it
	// expires or is verified.
	if purpose != "" {
		_, err := rl.Secrets.Get(ctx, otpKey(purpose, identifier))
		switch {
		case err == nil:
			l.Debug("otp request denied", slog.String("reason", string(domain.DenyActiveSecret)))
			return domain.AdmitDecision{Reason: domain.DenyActiveSecret}, nil
		case errors.Is(err, secrets.ErrNotFound):
			// No active secret, keep checking.
		default:
			return domain.AdmitDecision{}, fmt.Errorf("check active secret: %w", err)
		}
	}

	// Fixed window counters: INCR then set the TTL only when this request
	// created the key, so the window never slides.
	count, err := rl.Secrets.Increment(ctx, otpRateKey(identifier))
	if err != nil {
		return domain.AdmitDecision{}, fmt.Errorf("minute counter: %w", err)
	}
	if count == 1 {
		if err := rl.Secrets.Expire(ctx, otpRateKey(identifier), rl.minuteWindow()); err != nil {
			return domain.AdmitDecision{}, fmt.Errorf("minute counter ttl: %w", err)
		}
	}
	if count > 1 {
		l.Debug("otp request denied", slog.String("reason", string(domain.DenyWindowMinute)))
		return domain.AdmitDecision{Reason: domain.DenyWindowMinute}, nil
	}

	hourly, err := rl.Secrets.Increment(ctx, otpHourlyKey(identifier))
	if err != nil {
		return domain.AdmitDecision{}, fmt.Errorf("hourly counter: %w", err)
	}
	if hourly == 1 {
		if err := rl.Secrets.Expire(ctx, otpHourlyKey(identifier), rl.hourWindow()); err != nil {
			return domain.AdmitDecision{}, fmt.Errorf("hourly counter ttl: %w", err)
		}
	}
	if hourly > rl.hourlyCeiling() {
		l.Debug("otp request denied", slog.String("reason", string(domain.DenyWindowHour)))
		return domain.AdmitDecision{Reason: domain.DenyWindowHour}, nil
	}

	return domain.AdmitDecision{Allowed: true}, nil
}
