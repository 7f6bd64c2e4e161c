package mfgauth

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
)

// ==================== PASSWORD STRENGTH ====================

func (s *AuthService) validatePassword(password string) error {
	minLen := s.config.MinPasswordLength
	if minLen <= 0 {
		minLen = 8
	}
	if len(password) < minLen {
		return newAuthError(CodeWeakPassword,
			fmt.Sprintf("password must be at least %d characters", minLen), ErrWeakPassword)
	}
	if len(password) > 128 {
		return newAuthError(CodeWeakPassword, "password must be at most 128 characters", ErrWeakPassword)
	}
	if s.config.RequirePasswordComplexity {
		hasUpper := false
		hasLower := false
		hasDigit := false
		for _, c := range password {
			if c >= 'A' && c <= 'Z' {
				hasUpper = true
			}
			if c >= 'a' && c <= 'z' {
				hasLower = true
			}
			if c >= '0' && c <= '9' {
				hasDigit = true
			}
		}
		if !hasUpper || !hasLower || !hasDigit {
			return newAuthError(CodeWeakPassword,
				"password must contain uppercase, lowercase, and digits", ErrWeakPassword)
		}
	}
	// Check for common passwords
	common := []string{"password", "12345678", "qwerty", "letmein"}
	lower := strings.ToLower(password)
	for _, c := range common {
		if strings.Contains(lower, c) {
			return newAuthError(CodeWeakPassword, "password is too common", ErrWeakPassword)
		}
	}
	return nil
}

// checkBreached consults the breach checker for a candidate new password.
// Checker failures are logged and treated as not-breached; availability of an
// external corpus must never block a password change.
func (s *AuthService) checkBreached(ctx context.Context, password string) bool {
	if s.breach == nil {
		return false
	}
	breached, err := s.breach.IsBreached(ctx, password)
	if err != nil {
		s.logger.Warn("breach check unavailable", zap.Error(err))
		return false
	}
	return breached
}

// ==================== BREACH CHECKER ====================

// HIBPChecker checks passwords against the Pwned Passwords corpus using the
// k-anonymity range API: only the first five hex characters of the SHA-1
// leave the process.
type HIBPChecker struct {
	apiURL string
	client *http.Client
}

// NewHIBPChecker creates a checker against the given range API base URL.
func NewHIBPChecker(apiURL string) *HIBPChecker {
	return &HIBPChecker{
		apiURL: apiURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsBreached implements BreachChecker.
func (h *HIBPChecker) IsBreached(ctx context.Context, password string) (bool, error) {
	if h.apiURL == "" {
		return false, fmt.Errorf("hibp api url not configured")
	}

	sum := sha1.Sum([]byte(password))
	hashStr := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix := hashStr[:5]
	suffix := hashStr[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.apiURL+prefix, nil)
	if err != nil {
		return false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("hibp returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	for _, line := range strings.Split(string(body), "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(parts) >= 1 && strings.EqualFold(parts[0], suffix) {
			return true, nil
		}
	}
	return false, nil
}

// ==================== SECURITY MONITORING ====================

// defaultSecurityMonitor logs security alerts and emails the account holder
// for high-severity events.
type defaultSecurityMonitor struct {
	logger *zap.Logger
	svc    *AuthService
}

func (m *defaultSecurityMonitor) OnAlert(ctx context.Context, alert SecurityAlert) {
	m.logger.Warn("security alert",
		zap.String("type", alert.Type),
		zap.String("account_id", alert.AccountID),
		zap.String("tenant_id", alert.TenantID),
		zap.String("severity", alert.Severity),
		zap.Any("details", alert.Details))

	if m.svc == nil || (alert.Severity != "high" && alert.Severity != "critical") {
		return
	}
	acct, err := m.svc.store.Accounts().GetByID(ctx, alert.AccountID)
	if err != nil {
		return
	}
	subject := "Security alert on your account"
	body := fmt.Sprintf("A security event of type %q was detected on your account.", alert.Type)
	if err := m.svc.mailer.SendSecurityAlert(ctx, acct.Email, subject, body); err != nil {
		m.logger.Error("security alert email failed",
			zap.String("to", crypto.MaskEmail(acct.Email)), zap.Error(err))
	}
}

func (s *AuthService) alert(ctx context.Context, alertType, severity string, acct *Account, ip string, details map[string]any) {
	if s.monitor == nil {
		return
	}
	s.monitor.OnAlert(ctx, SecurityAlert{
		Type:      alertType,
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		IP:        ip,
		Details:   details,
		Severity:  severity,
		Timestamp: time.Now(),
	})
}

// ==================== BOUNDED HASHING ====================

// passwordHasher bounds concurrent Argon2id work with a semaphore so a burst
// of logins cannot exhaust memory (each hash pins 64 MB).
type passwordHasher struct {
	sem chan struct{}
}

func newPasswordHasher(workers int) *passwordHasher {
	if workers <= 0 {
		workers = 8
	}
	return &passwordHasher{sem: make(chan struct{}, workers)}
}

func (h *passwordHasher) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *passwordHasher) release() {
	<-h.sem
}

// Verify runs Argon2id verification under the concurrency bound.
func (h *passwordHasher) Verify(ctx context.Context, password string, hash, salt []byte) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.release()
	return crypto.VerifyPassword(password, hash, salt), nil
}

// Hash produces a fresh salt and Argon2id hash under the concurrency bound.
func (h *passwordHasher) Hash(ctx context.Context, password string) (hash, salt []byte, err error) {
	if err := h.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer h.release()

	salt, err = crypto.GenerateSalt(crypto.DefaultSaltSize)
	if err != nil {
		return nil, nil, err
	}
	return crypto.HashPassword(password, salt), salt, nil
}
