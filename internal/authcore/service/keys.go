package service

import "github.com/openkettle/authcore/internal/authcore/domain"

// Key layout in the secrets store. Everything the engine keeps there is
// namespaced by one of these prefixes so a consume can sweep all related
// keys in one delete.
func otpKey(purpose domain.Purpose, identifier string) string {
	return "otp:" + string(purpose) + ":" + identifier
}

func otpRateKey(identifier string) string {
	return "otp-rate:" + identifier
}

func otpHourlyKey(identifier string) string {
	return "otp-hourly:" + identifier
}

func otpVerifiedKey(channel domain.Channel, userID string) string {
	return "otp-verified:" + string(channel) + ":" + userID
}

func resetKey(userID string) string {
	return "password-reset:" + userID
}
