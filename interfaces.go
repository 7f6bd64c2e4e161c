package mfgauth

import (
	"context"
	"time"
)

// ==================== CORE INTERFACES ====================

// Store is the main storage interface.
type Store interface {
	Accounts() AccountStore
	RefreshTokens() RefreshTokenStore
	Audit() AuditStore
}

// AccountStore handles account operations. Accounts are created and deleted
// by the surrounding user-management service; mfgauth only mutates the
// authentication-relevant columns.
type AccountStore interface {
	GetByEmail(ctx context.Context, tenantID, email string) (*Account, error)
	GetByID(ctx context.Context, accountID string) (*Account, error)

	// IncrementLoginFailures atomically increments the failure counter and
	// returns the new value. Two concurrent failures for the same account
	// must never observe the same count.
	IncrementLoginFailures(ctx context.Context, accountID string) (int, error)
	SetLockout(ctx context.Context, accountID string, until time.Time) error
	// ClearLockout resets the failure counter to zero and clears lockedUntil.
	ClearLockout(ctx context.Context, accountID string) error

	UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error

	SetMFASecret(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error
	DisableMFA(ctx context.Context, accountID string) error
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error
	// ConsumeBackupCode atomically marks a matching unused backup code as
	// used. Returns false when no unused code matches.
	ConsumeBackupCode(ctx context.Context, accountID string, codeHash []byte) (bool, error)
	CountBackupCodes(ctx context.Context, accountID string) (int, error)

	// SetResetToken stores the hash of a new reset token, overwriting any
	// prior one so a single reset token is active per account.
	SetResetToken(ctx context.Context, accountID string, tokenHash []byte, expiresAt time.Time) error
	GetByResetTokenHash(ctx context.Context, tokenHash []byte) (*Account, error)
	ClearResetToken(ctx context.Context, accountID string) error
}

// RefreshTokenStore persists refresh-token families.
type RefreshTokenStore interface {
	Create(ctx context.Context, token RefreshToken) error
	GetByID(ctx context.Context, tokenID string) (*RefreshToken, error)

	// MarkUsed atomically flips the token to used and links its successor,
	// but only when the token is still unused, unrevoked, and unexpired.
	// Exactly one of two concurrent calls for the same token succeeds.
	MarkUsed(ctx context.Context, tokenID, replacedByID string) (bool, error)

	// RevokeFamily revokes every token in a family and returns how many
	// tokens were affected.
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeAccount(ctx context.Context, accountID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// AuditStore records security events. Writes are fire-and-forget from the
// caller's perspective; failures are logged, never surfaced to clients.
type AuditStore interface {
	Insert(ctx context.Context, event AuditEvent) error
}

// Mailer dispatches out-of-band notifications. The reset token value itself
// is never returned in an HTTP response, only sent through the Mailer.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
	SendSecurityAlert(ctx context.Context, to, subject, body string) error
}

// RateLimiter provides rate limiting backed by a shared counter store.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)
}

// BreachChecker looks a candidate password up in a breach corpus. A lookup
// failure never blocks login, only new-password acceptance.
type BreachChecker interface {
	IsBreached(ctx context.Context, password string) (bool, error)
}

// SecurityMonitor receives high-severity security alerts (lockouts, refresh
// token replay) in addition to the regular audit trail.
type SecurityMonitor interface {
	OnAlert(ctx context.Context, alert SecurityAlert)
}

// ==================== MODELS ====================

// Account is the authentication-relevant view of a user record. Email is
// unique per tenant.
type Account struct {
	ID                 string
	TenantID           string
	Email              string
	PasswordHash       []byte
	PasswordSalt       []byte
	Status             string
	MFAEnabled         bool
	MFASecretEncrypted []byte
	MFASecretNonce     []byte
	FailedLoginCount   int
	LockedUntil        *time.Time
	ResetTokenHash     []byte
	ResetTokenExpiry   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Account statuses
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusPending   = "pending"
	StatusDeleted   = "deleted"
)

// RefreshToken is one link in a rotation family. Within a family at most one
// token is unused and unrevoked at any time; a second use of the same token
// is a replay and revokes the whole family.
type RefreshToken struct {
	ID          string
	FamilyID    string
	AccountID   string
	TenantID    string
	SessionID   string
	TokenHash   []byte
	MFAVerified bool
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Used        bool
	Revoked     bool
	ReplacedBy  string
}

// TokenPair is the result of issuing or rotating tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// AuditEvent records a security-relevant transition.
type AuditEvent struct {
	ID        string
	AccountID string
	TenantID  string
	EventType string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Audit event types
const (
	EventLoginSuccess           = "login_success"
	EventLoginFailed            = "login_failed"
	EventAccountLocked          = "account_locked"
	EventLogout                 = "logout"
	EventMFAChallengeIssued     = "mfa_challenge_issued"
	EventMFAVerified            = "mfa_verified"
	EventMFAFailed              = "mfa_failed"
	EventMFAEnabled             = "mfa_enabled"
	EventMFADisabled            = "mfa_disabled"
	EventBackupCodeUsed         = "backup_code_used"
	EventBackupCodesLow         = "backup_codes_low"
	EventBackupCodesRegenerated = "backup_codes_regenerated"
	EventRefreshRotated         = "refresh_rotated"
	EventRefreshReuseDetected   = "refresh_reuse_detected"
	EventSessionEvicted         = "session_evicted"
	EventPasswordResetRequest   = "password_reset_request"
	EventPasswordResetComplete  = "password_reset_complete"
)

// SecurityAlert represents a security event that may need attention.
type SecurityAlert struct {
	Type      string
	AccountID string
	TenantID  string
	IP        string
	Details   map[string]any
	Severity  string // "low", "medium", "high", "critical"
	Timestamp time.Time
}
