package mfgauth

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ==================== SECRETS FROM ENV ====================

// SecretsFromEnv loads secrets from environment variables.
// Expected variables:
//   - MFGAUTH_JWT_SECRET (base64 encoded, 32 bytes)
//   - MFGAUTH_ENCRYPTION_KEY (base64 encoded, 32 bytes)
//   - MFGAUTH_PEPPER (base64 encoded, 32 bytes)
func SecretsFromEnv() (Secrets, error) {
	return SecretsFromEnvWithPrefix("MFGAUTH")
}

// SecretsFromEnvWithPrefix loads secrets with a custom prefix.
// Example: SecretsFromEnvWithPrefix("MYAPP") reads MYAPP_JWT_SECRET, etc.
func SecretsFromEnvWithPrefix(prefix string) (Secrets, error) {
	jwt, err := getEnvSecret(prefix + "_JWT_SECRET")
	if err != nil {
		return Secrets{}, fmt.Errorf("%s_JWT_SECRET: %w", prefix, err)
	}

	enc, err := getEnvSecret(prefix + "_ENCRYPTION_KEY")
	if err != nil {
		return Secrets{}, fmt.Errorf("%s_ENCRYPTION_KEY: %w", prefix, err)
	}

	pepper, err := getEnvSecret(prefix + "_PEPPER")
	if err != nil {
		return Secrets{}, fmt.Errorf("%s_PEPPER: %w", prefix, err)
	}

	return Secrets{
		JWTSecret:     jwt,
		EncryptionKey: enc,
		Pepper:        pepper,
	}, nil
}

// MustSecretsFromEnv loads secrets from environment or panics.
func MustSecretsFromEnv() Secrets {
	s, err := SecretsFromEnv()
	if err != nil {
		panic("mfgauth: " + err.Error())
	}
	return s
}

func getEnvSecret(key string) ([]byte, error) {
	val := os.Getenv(key)
	if val == "" {
		return nil, errors.New("not set")
	}
	return decodeSecret(val)
}

// decodeSecret accepts a 32-byte secret encoded as standard base64 or as a
// 64-character hex string.
func decodeSecret(val string) ([]byte, error) {
	if val == "" {
		return nil, errors.New("not set")
	}

	decoded, err := base64.StdEncoding.DecodeString(val)
	if err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	if len(val) == 64 {
		decoded, err = hex.DecodeString(val)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}

	return nil, errors.New("must be 32 bytes base64-encoded")
}

// ==================== CONFIG FROM ENV ====================

// ConfigFromEnv builds a Config from defaults overridden by MFGAUTH_*
// environment variables. Unset or malformed variables keep the default.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if name := strings.TrimSpace(os.Getenv("MFGAUTH_APP_NAME")); name != "" {
		cfg.AppName = name
	}
	if url := strings.TrimSpace(os.Getenv("MFGAUTH_APP_URL")); url != "" {
		cfg.AppBaseURL = url
	}
	if path := strings.TrimSpace(os.Getenv("MFGAUTH_AUTH_PATH")); path != "" {
		cfg.AuthPath = path
	}
	if tenant := strings.TrimSpace(os.Getenv("MFGAUTH_DEFAULT_TENANT")); tenant != "" {
		cfg.DefaultTenant = tenant
	}

	if v, ok := envDuration("MFGAUTH_ACCESS_TOKEN_TTL"); ok {
		cfg.AccessTokenTTL = v
	}
	if v, ok := envDuration("MFGAUTH_REFRESH_TOKEN_TTL"); ok {
		cfg.RefreshTokenTTL = v
	}
	if v, ok := envDuration("MFGAUTH_MFA_CHALLENGE_TTL"); ok {
		cfg.MFAChallengeTTL = v
	}
	if v, ok := envDuration("MFGAUTH_PASSWORD_RESET_TTL"); ok {
		cfg.PasswordResetTTL = v
	}

	if v, ok := envInt("MFGAUTH_TOTP_DIGITS"); ok {
		cfg.TOTPDigits = v
	}
	if v, ok := envInt("MFGAUTH_BACKUP_CODE_COUNT"); ok {
		cfg.BackupCodeCount = v
	}
	if v, ok := envInt("MFGAUTH_BACKUP_CODE_LENGTH"); ok {
		cfg.BackupCodeLength = v
	}

	if v, ok := envInt("MFGAUTH_MAX_LOGIN_ATTEMPTS"); ok {
		cfg.MaxLoginAttempts = v
	}
	if v, ok := envDuration("MFGAUTH_LOCKOUT_DURATION"); ok {
		cfg.LockoutDuration = v
	}
	if v, ok := envInt("MFGAUTH_MAX_CONCURRENT_SESSIONS"); ok {
		cfg.MaxConcurrentSessions = v
	}
	if v, ok := envInt("MFGAUTH_MIN_PASSWORD_LENGTH"); ok {
		cfg.MinPasswordLength = v
	}
	if v, ok := envBool("MFGAUTH_PASSWORD_COMPLEXITY"); ok {
		cfg.RequirePasswordComplexity = v
	}
	if v, ok := envInt("MFGAUTH_HASH_WORKERS"); ok {
		cfg.HashWorkers = v
	}

	if v, ok := envBool("MFGAUTH_HIBP_ENABLED"); ok {
		cfg.HIBPEnabled = v
	}
	if url := strings.TrimSpace(os.Getenv("MFGAUTH_HIBP_API_URL")); url != "" {
		cfg.HIBPAPIURL = url
	}

	if v, ok := envInt("MFGAUTH_LOGIN_LIMIT"); ok {
		cfg.RateLimits.LoginLimit = v
	}
	if v, ok := envDuration("MFGAUTH_LOGIN_WINDOW"); ok {
		cfg.RateLimits.LoginWindow = v
	}
	if v, ok := envInt("MFGAUTH_MFA_LIMIT"); ok {
		cfg.RateLimits.MFALimit = v
	}
	if v, ok := envDuration("MFGAUTH_MFA_WINDOW"); ok {
		cfg.RateLimits.MFAWindow = v
	}
	if v, ok := envInt("MFGAUTH_PASSWORD_RESET_LIMIT"); ok {
		cfg.RateLimits.PasswordResetLimit = v
	}
	if v, ok := envDuration("MFGAUTH_PASSWORD_RESET_WINDOW"); ok {
		cfg.RateLimits.PasswordResetWindow = v
	}

	if v, ok := envBool("MFGAUTH_COOKIE_SECURE"); ok {
		cfg.CookieSecure = v
	}

	return cfg
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}
