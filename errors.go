package mfgauth

import "errors"

// Configuration errors.
var (
	ErrInvalidSecretLength = errors.New("mfgauth: secrets must be exactly 32 bytes")
	ErrStoreRequired       = errors.New("mfgauth: store is required (use WithStore)")
	ErrSessionsRequired    = errors.New("mfgauth: session store is required (use WithRedis or WithSessionStore)")
)

// Authentication errors - these are safe to show to users.
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountLocked       = errors.New("account is locked due to too many failed attempts")
	ErrAccountInactive     = errors.New("account is not active")
	ErrAccountSuspended    = errors.New("account is suspended")
	ErrChallengeExpired    = errors.New("verification challenge is invalid or expired")
	ErrInvalidMFACode      = errors.New("invalid verification code")
	ErrMFAAlreadyEnabled   = errors.New("multi-factor authentication is already enabled")
	ErrMFANotEnabled       = errors.New("multi-factor authentication is not enabled")
	ErrWeakPassword        = errors.New("password does not meet security requirements")
	ErrBreachedPassword    = errors.New("password found in data breach, please choose another")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrRefreshReuse        = errors.New("refresh token reuse detected")
	ErrResetTokenInvalid   = errors.New("invalid or expired reset token")
	ErrRateLimited         = errors.New("rate limit exceeded, please try again later")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTokenNotFound       = errors.New("token not found")
)

// AuthError wraps an error with additional context for API responses.
type AuthError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`
	// Message is a human-readable error message safe for users
	Message string `json:"message"`
	// Internal is the underlying error (not included in JSON)
	Internal error `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Internal != nil {
		return e.Internal.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Internal
}

// Error codes for API responses.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeChallengeExpired   = "MFA_CHALLENGE_EXPIRED"
	CodeInvalidMFACode     = "INVALID_MFA_CODE"
	CodeMFAAlreadyEnabled  = "MFA_ALREADY_ENABLED"
	CodeMFANotEnabled      = "MFA_NOT_ENABLED"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeBreachedPassword   = "BREACHED_PASSWORD"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeRefreshReuse       = "REFRESH_TOKEN_REUSE"
	CodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
)

// newAuthError creates a new AuthError.
func newAuthError(code string, message string, internal error) *AuthError {
	return &AuthError{
		Code:     code,
		Message:  message,
		Internal: internal,
	}
}
