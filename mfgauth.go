// Package mfgauth implements the authentication, multi-factor verification,
// and session/token lifecycle subsystem of a multi-tenant
// manufacturing-operations backend.
//
// Features:
//   - Email/password authentication with Argon2id hashing
//   - Account lockout with atomic per-account failure counters
//   - Two-factor authentication (TOTP with single-use backup codes)
//   - Signed short-lived access tokens and opaque rotating refresh tokens
//     with token-family replay detection
//   - Distributed session tracking with a concurrent-session cap
//   - Password reset with synchronous token/session invalidation
//
// The surrounding business CRUD (customers, parts, quotes, orders, quality,
// shipping) is an external collaborator: it supplies account records, receives
// audit events, and sends notification emails.
//
// Quick Start:
//
//	auth, _ := mfgauth.New(
//	    postgres.WithDatabase(pool),
//	    mfgauth.WithRedis(rdb),
//	    mfgauth.WithSecrets(secrets),
//	)
//	r.Mount("/auth", auth.Handler())
//	jobs := auth.StartBackgroundJobs()
//	defer jobs.Stop(ctx)
package mfgauth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
	memoryratelimit "github.com/mfgops/mfgauth/ratelimit/memory"
	"github.com/mfgops/mfgauth/sessions"
)

// AuthService composes credential verification, lockout, MFA, token issuance,
// and session tracking into the login / MFA-verify / refresh / logout /
// password-reset flows. It is the only component with externally visible
// behavior.
type AuthService struct {
	// Core dependencies
	store    Store
	sessions *sessions.Store
	mailer   Mailer
	limiter  RateLimiter
	logger   *zap.Logger

	// Cryptographic material
	keys      *crypto.DerivedKeys
	jwtSecret []byte
	pepper    []byte

	// Configuration
	config Config

	// Composed components
	tokens     *TokenService
	mfa        *MFAEngine
	lockout    *LockoutPolicy
	challenges *challengeStore
	hasher     *passwordHasher

	// Optional collaborators
	breach  BreachChecker
	monitor SecurityMonitor

	// Background jobs
	jobs *BackgroundJobs
}

// Config holds the authentication service configuration.
type Config struct {
	// ==================== APP INFO ====================
	AppName    string
	AppBaseURL string
	// AuthPath scopes the refresh-token cookie (e.g. "/auth").
	AuthPath string
	// DefaultTenant is used when a login request omits tenant_code.
	DefaultTenant string

	// ==================== TOKEN SETTINGS ====================
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MFAChallengeTTL  time.Duration
	PasswordResetTTL time.Duration

	// ==================== MFA/TOTP ====================
	TOTPDigits       int
	BackupCodeCount  int
	BackupCodeLength int
	// LowBackupCodeThreshold triggers a warning when the remaining unused
	// backup codes drop to this count or below.
	LowBackupCodeThreshold int

	// ==================== SECURITY ====================
	MaxLoginAttempts          int
	LockoutDuration           time.Duration
	MaxConcurrentSessions     int
	MinPasswordLength         int
	RequirePasswordComplexity bool
	// HashWorkers bounds how many Argon2id hashing operations run at once so
	// expensive hashing cannot monopolize request handling.
	HashWorkers int

	// ==================== EXTERNAL SERVICES ====================
	HIBPEnabled bool
	HIBPAPIURL  string

	RateLimits RateLimitConfig

	CookieSecure bool
}

// RateLimitConfig holds per-endpoint rate limits.
type RateLimitConfig struct {
	LoginLimit          int
	LoginWindow         time.Duration
	MFALimit            int
	MFAWindow           time.Duration
	PasswordResetLimit  int
	PasswordResetWindow time.Duration
}

// Secrets holds cryptographic secrets.
type Secrets struct {
	JWTSecret     []byte
	EncryptionKey []byte
	Pepper        []byte
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AppName:       "mfgauth",
		AuthPath:      "/auth",
		DefaultTenant: "default",

		// Tokens
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		MFAChallengeTTL:  5 * time.Minute,
		PasswordResetTTL: 1 * time.Hour,

		// MFA
		TOTPDigits:             6,
		BackupCodeCount:        10,
		BackupCodeLength:       10,
		LowBackupCodeThreshold: 3,

		// Security
		MaxLoginAttempts:          5,
		LockoutDuration:           30 * time.Minute,
		MaxConcurrentSessions:     5,
		MinPasswordLength:         8,
		RequirePasswordComplexity: true,
		HashWorkers:               8,

		// External
		HIBPEnabled: false,
		HIBPAPIURL:  "https://api.pwnedpasswords.com/range/",

		RateLimits: RateLimitConfig{
			LoginLimit:          10,
			LoginWindow:         time.Minute,
			MFALimit:            5,
			MFAWindow:           time.Minute,
			PasswordResetLimit:  3,
			PasswordResetWindow: time.Hour,
		},

		CookieSecure: true,
	}
}

// New creates a new AuthService.
func New(opts ...Option) (*AuthService, error) {
	svc := &AuthService{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}

	// Validate
	if svc.store == nil {
		return nil, ErrStoreRequired
	}
	if svc.sessions == nil {
		return nil, ErrSessionsRequired
	}
	if svc.keys == nil || len(svc.jwtSecret) == 0 {
		return nil, ErrInvalidSecretLength
	}

	// Defaults
	if svc.logger == nil {
		svc.logger, _ = zap.NewProduction()
	}
	if svc.limiter == nil {
		svc.limiter = memoryratelimit.New()
		svc.logger.Warn("no shared rate limiter configured; falling back to per-process counters")
	}
	if svc.mailer == nil {
		svc.mailer = &noopMailer{logger: svc.logger}
	}
	if svc.breach == nil && svc.config.HIBPEnabled {
		svc.breach = NewHIBPChecker(svc.config.HIBPAPIURL)
	}
	if svc.monitor == nil {
		svc.monitor = &defaultSecurityMonitor{logger: svc.logger, svc: svc}
	}
	if svc.challenges == nil {
		return nil, ErrSessionsRequired
	}

	svc.hasher = newPasswordHasher(svc.config.HashWorkers)
	svc.lockout = &LockoutPolicy{
		Threshold: svc.config.MaxLoginAttempts,
		Duration:  svc.config.LockoutDuration,
	}
	svc.tokens = &TokenService{
		store:      svc.store.RefreshTokens(),
		accounts:   svc.store.Accounts(),
		jwtSecret:  svc.jwtSecret,
		accessTTL:  svc.config.AccessTokenTTL,
		refreshTTL: svc.config.RefreshTokenTTL,
		logger:     svc.logger,
	}
	svc.mfa = &MFAEngine{
		accounts:  svc.store.Accounts(),
		keys:      svc.keys,
		pepper:    svc.pepper,
		issuer:    svc.config.AppName,
		digits:    svc.config.TOTPDigits,
		codeCount: svc.config.BackupCodeCount,
		codeLen:   svc.config.BackupCodeLength,
	}

	return svc, nil
}

// Handler returns the HTTP handler with all routes. Mount it under the same
// path prefix as Config.AuthPath so the refresh cookie stays scoped.
func (s *AuthService) Handler() http.Handler {
	r := chi.NewRouter()

	// Health
	r.Get("/health", s.handleHealth)

	// Login and token lifecycle
	r.Post("/login", s.handleLogin)
	r.Post("/mfa/verify", s.handleMFAVerify)
	r.Post("/refresh", s.handleRefresh)

	// Password reset
	r.Post("/forgot-password", s.handleForgotPassword)
	r.Post("/reset-password", s.handleResetPassword)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/logout", s.handleLogout)
		r.Get("/sessions", s.handleListSessions)

		r.Get("/mfa/setup", s.handleMFASetup)
		r.Post("/mfa/enable", s.handleMFAEnable)
		r.Post("/mfa/disable", s.handleMFADisable)
		r.Post("/mfa/backup-codes/regenerate", s.handleBackupCodesRegenerate)
	})

	return r
}

// RequireAuth returns authentication middleware for protecting routes outside
// the auth handler itself.
func (s *AuthService) RequireAuth() func(http.Handler) http.Handler {
	return s.requireAuth
}

// Store returns the underlying store.
func (s *AuthService) Store() Store {
	return s.store
}

// Sessions returns the session store.
func (s *AuthService) Sessions() *sessions.Store {
	return s.sessions
}

// Config returns the configuration.
func (s *AuthService) Config() Config {
	return s.config
}

// Logger returns the logger.
func (s *AuthService) Logger() *zap.Logger {
	return s.logger
}

// ==================== INTERNAL HELPERS ====================

type noopMailer struct {
	logger *zap.Logger
}

func (m *noopMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	m.logger.Warn("mailer not configured", zap.String("type", "password_reset"), zap.String("to", crypto.MaskEmail(to)))
	return nil
}

func (m *noopMailer) SendSecurityAlert(ctx context.Context, to, subject, body string) error {
	m.logger.Warn("mailer not configured", zap.String("type", "security_alert"), zap.String("to", crypto.MaskEmail(to)))
	return nil
}
