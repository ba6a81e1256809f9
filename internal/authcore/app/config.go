package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer claim for access tokens

	DatabaseFile  string // Optional: path to SQLite database file (default: ./authcore.db)
	RedisAddr     string // Optional: Redis host:port (default: localhost:6379)
	RedisPassword string // Optional: Redis password
	RedisDB       int    // Optional: Redis database number (default: 0)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	AccessTTL  time.Duration // Access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 720h)

	OTPLength     int           // Digits per one-time code (default: 6)
	OTPTTL        time.Duration // One-time code lifetime (default: 5m)
	ResetTokenTTL time.Duration // Password reset token lifetime (default: 10m)

	OTPMinuteWindow  time.Duration // Cooldown between OTP issues (default: 1m)
	OTPHourWindow    time.Duration // Fixed window for the hourly ceiling (default: 1h)
	OTPHourlyCeiling int           // OTP issues allowed per hour window (default: 5)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	SessionRetention     time.Duration // How long expired sessions linger for replay detection (default: 168h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:        getEnvOrDefault("AUTHCORE_ISSUER", "authcore"),
		DatabaseFile:  getEnvOrDefault("AUTHCORE_DATABASE_FILE", "authcore.db"),
		RedisAddr:     getEnvOrDefault("AUTHCORE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("AUTHCORE_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("AUTHCORE_REDIS_DB", 0),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		AccessTTL:  getEnvDurationOrDefault("AUTHCORE_ACCESS_TTL", 15*time.Minute),
		RefreshTTL: getEnvDurationOrDefault("AUTHCORE_REFRESH_TTL", 30*24*time.Hour),

		OTPLength:     getEnvIntOrDefault("AUTHCORE_OTP_LENGTH", 6),
		OTPTTL:        getEnvDurationOrDefault("AUTHCORE_OTP_TTL", 5*time.Minute),
		ResetTokenTTL: getEnvDurationOrDefault("AUTHCORE_RESET_TOKEN_TTL", 10*time.Minute),

		OTPMinuteWindow:  getEnvDurationOrDefault("AUTHCORE_OTP_MINUTE_WINDOW", time.Minute),
		OTPHourWindow:    getEnvDurationOrDefault("AUTHCORE_OTP_HOUR_WINDOW", time.Hour),
		OTPHourlyCeiling: getEnvIntOrDefault("AUTHCORE_OTP_HOURLY_CEILING", 5),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
		SessionRetention:     getEnvDurationOrDefault("AUTHCORE_SESSION_RETENTION", 7*24*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are read as minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
