package domain

import "fmt"

// Purpose scopes an OTP to the flow that requested it. A code issued for one
// purpose can never satisfy a verify for another because the purpose is part
// of the secret's key.
type Purpose string

const (
	PurposeRegister Purpose = "REGISTER"
	PurposeLogin    Purpose = "LOGIN"
)

// ParsePurpose maps a wire value onto the closed set of purposes.
func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case PurposeRegister:
		return PurposeRegister, nil
	case PurposeLogin:
		return PurposeLogin, nil
	default:
		return "", fmt.Errorf("unknown otp purpose %q", s)
	}
}

// Channel is the delivery medium an identifier belongs to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelPhone:
		return ChannelPhone, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Identifier composes the channel and the subject it addresses into the
// single string used throughout the rate limiter and OTP keys.
func Identifier(ch Channel, subject string) string {
	return string(ch) + ":" + subject
}

// DenyReason explains why the rate limiter refused to admit an OTP request.
type DenyReason string

const (
	DenyNone         DenyReason = ""
	DenyActiveSecret DenyReason = "active_secret"
	DenyWindowMinute DenyReason = "window_minute"
	DenyWindowHour   DenyReason = "window_hour"
)

// AdmitDecision is the rate limiter's verdict for a single OTP request.
type AdmitDecision struct {
	Allowed bool
	Reason  DenyReason
}
