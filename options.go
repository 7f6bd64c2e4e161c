package mfgauth

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
	"github.com/mfgops/mfgauth/sessions"
)

// Option configures the AuthService.
type Option func(*AuthService) error

// WithStore sets the persistence backend. Required.
func WithStore(store Store) Option {
	return func(s *AuthService) error {
		s.store = store
		return nil
	}
}

// WithRedis wires the session store, one-time challenge markers, and shared
// rate limiting on a single Redis client. Required unless the individual
// pieces are supplied separately.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *AuthService) error {
		s.sessions = sessions.New(client, "sess")
		s.challenges = newChallengeStore(client)
		return nil
	}
}

// WithSessionStore overrides the session store built by WithRedis.
func WithSessionStore(store *sessions.Store) Option {
	return func(s *AuthService) error {
		s.sessions = store
		return nil
	}
}

// WithSecrets sets the cryptographic secrets. The encryption key must be
// exactly 32 bytes; per-purpose keys are derived from it.
func WithSecrets(secrets Secrets) Option {
	return func(s *AuthService) error {
		if len(secrets.JWTSecret) < 32 {
			return ErrInvalidSecretLength
		}
		keys, err := crypto.DeriveKeys(secrets.EncryptionKey)
		if err != nil {
			return err
		}
		s.keys = &keys
		s.jwtSecret = secrets.JWTSecret
		s.pepper = secrets.Pepper
		return nil
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *AuthService) error {
		s.config = cfg
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *AuthService) error {
		s.logger = logger
		return nil
	}
}

// WithMailer sets the email sender. Without one, reset and alert emails are
// logged and dropped.
func WithMailer(mailer Mailer) Option {
	return func(s *AuthService) error {
		s.mailer = mailer
		return nil
	}
}

// WithRateLimiter sets a shared rate limiter.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(s *AuthService) error {
		s.limiter = limiter
		return nil
	}
}

// WithBreachChecker sets the breached-password checker used during password
// reset. Failures from the checker are logged and never block the operation.
func WithBreachChecker(checker BreachChecker) Option {
	return func(s *AuthService) error {
		s.breach = checker
		return nil
	}
}

// WithSecurityMonitor sets the sink for security alerts (lockouts, refresh
// replay, repeated MFA failures).
func WithSecurityMonitor(monitor SecurityMonitor) Option {
	return func(s *AuthService) error {
		s.monitor = monitor
		return nil
	}
}
