// Package postgres provides a PostgreSQL implementation of the mfgauth.Store interface.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfgops/mfgauth"
)

// Store implements mfgauth.Store for PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	accounts *AccountStore
	tokens   *RefreshTokenStore
	audit    *AuditStore
}

// New creates a new PostgreSQL store on the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		accounts: &AccountStore{pool: pool},
		tokens:   &RefreshTokenStore{pool: pool},
		audit:    &AuditStore{pool: pool},
	}
}

// WithDatabase is a convenience option wiring the store into mfgauth.New.
func WithDatabase(pool *pgxpool.Pool) mfgauth.Option {
	return mfgauth.WithStore(New(pool))
}

// Accounts returns the account store.
func (s *Store) Accounts() mfgauth.AccountStore {
	return s.accounts
}

// RefreshTokens returns the refresh-token store.
func (s *Store) RefreshTokens() mfgauth.RefreshTokenStore {
	return s.tokens
}

// Audit returns the audit store.
func (s *Store) Audit() mfgauth.AuditStore {
	return s.audit
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ==================== ACCOUNT STORE ====================

// AccountStore handles account operations.
type AccountStore struct {
	pool *pgxpool.Pool
}

const accountColumns = `
	id, tenant_id, email, password_hash, password_salt, account_status,
	mfa_enabled, mfa_secret_encrypted, mfa_secret_nonce,
	failed_login_count, locked_until,
	reset_token_hash, reset_token_expiry,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*mfgauth.Account, error) {
	var a mfgauth.Account
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Email, &a.PasswordHash, &a.PasswordSalt, &a.Status,
		&a.MFAEnabled, &a.MFASecretEncrypted, &a.MFASecretNonce,
		&a.FailedLoginCount, &a.LockedUntil,
		&a.ResetTokenHash, &a.ResetTokenExpiry,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mfgauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, tenantID, email string) (*mfgauth.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE tenant_id = $1 AND lower(email) = lower($2)`, tenantID, email)
	return scanAccount(row)
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (*mfgauth.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func (s *AccountStore) IncrementLoginFailures(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts SET failed_login_count = failed_login_count + 1, updated_at = NOW()
		WHERE id = $1 RETURNING failed_login_count`, accountID).Scan(&count)
	return count, err
}

func (s *AccountStore) SetLockout(ctx context.Context, accountID string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET locked_until = $1, updated_at = NOW() WHERE id = $2`, until, accountID)
	return err
}

func (s *AccountStore) ClearLockout(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET failed_login_count = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1`, accountID)
	return err
}

func (s *AccountStore) UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $1, password_salt = $2, updated_at = NOW()
		WHERE id = $3`, hash, salt, accountID)
	return err
}

func (s *AccountStore) SetMFASecret(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET mfa_enabled = true, mfa_secret_encrypted = $1, mfa_secret_nonce = $2,
			updated_at = NOW()
		WHERE id = $3`, secretEnc, secretNonce, accountID)
	return err
}

func (s *AccountStore) DisableMFA(ctx context.Context, accountID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET mfa_enabled = false, mfa_secret_encrypted = NULL, mfa_secret_nonce = NULL,
			updated_at = NOW()
		WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE account_id = $1`, accountID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *AccountStore) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE account_id = $1`, accountID)
	if err != nil {
		return err
	}

	for _, hash := range hashes {
		_, err = tx.Exec(ctx, `INSERT INTO mfa_backup_codes (account_id, code_hash) VALUES ($1, $2)`, accountID, hash)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *AccountStore) ConsumeBackupCode(ctx context.Context, accountID string, codeHash []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mfa_backup_codes SET used = true, used_at = NOW()
		WHERE account_id = $1 AND code_hash = $2 AND used = false`, accountID, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *AccountStore) CountBackupCodes(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM mfa_backup_codes WHERE account_id = $1 AND used = false`, accountID).Scan(&count)
	return count, err
}

func (s *AccountStore) SetResetToken(ctx context.Context, accountID string, tokenHash []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET reset_token_hash = $1, reset_token_expiry = $2, updated_at = NOW()
		WHERE id = $3`, tokenHash, expiresAt, accountID)
	return err
}

func (s *AccountStore) GetByResetTokenHash(ctx context.Context, tokenHash []byte) (*mfgauth.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE reset_token_hash = $1`, tokenHash)
	acct, err := scanAccount(row)
	if errors.Is(err, mfgauth.ErrAccountNotFound) {
		return nil, mfgauth.ErrResetTokenInvalid
	}
	return acct, err
}

func (s *AccountStore) ClearResetToken(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1`, accountID)
	return err
}

// ==================== REFRESH TOKEN STORE ====================

// RefreshTokenStore persists refresh-token families.
type RefreshTokenStore struct {
	pool *pgxpool.Pool
}

func (s *RefreshTokenStore) Create(ctx context.Context, t mfgauth.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens
			(id, family_id, account_id, tenant_id, session_id, token_hash,
			 mfa_verified, issued_at, expires_at, used, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, false)`,
		t.ID, t.FamilyID, t.AccountID, t.TenantID, t.SessionID, t.TokenHash,
		t.MFAVerified, t.IssuedAt, t.ExpiresAt)
	return err
}

func (s *RefreshTokenStore) GetByID(ctx context.Context, tokenID string) (*mfgauth.RefreshToken, error) {
	var t mfgauth.RefreshToken
	var replacedBy *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, family_id, account_id, tenant_id, session_id, token_hash,
			mfa_verified, issued_at, expires_at, used, revoked, replaced_by
		FROM refresh_tokens WHERE id = $1`, tokenID).Scan(
		&t.ID, &t.FamilyID, &t.AccountID, &t.TenantID, &t.SessionID, &t.TokenHash,
		&t.MFAVerified, &t.IssuedAt, &t.ExpiresAt, &t.Used, &t.Revoked, &replacedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mfgauth.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if replacedBy != nil {
		t.ReplacedBy = *replacedBy
	}
	return &t, nil
}

// MarkUsed flips the token to used only while it is still live; the row
// count tells the caller whether it won the race.
func (s *RefreshTokenStore) MarkUsed(ctx context.Context, tokenID, replacedByID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET used = true, replaced_by = $1
		WHERE id = $2 AND used = false AND revoked = false AND expires_at > NOW()`,
		replacedByID, tokenID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *RefreshTokenStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE family_id = $1 AND revoked = false`, familyID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *RefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE id = $1`, tokenID)
	return err
}

func (s *RefreshTokenStore) RevokeAccount(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE account_id = $1 AND revoked = false`, accountID)
	return err
}

func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ==================== AUDIT STORE ====================

// AuditStore records security events.
type AuditStore struct {
	pool *pgxpool.Pool
}

func (s *AuditStore) Insert(ctx context.Context, event mfgauth.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, account_id, tenant_id, event_type, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.AccountID, event.TenantID, event.EventType,
		event.IPAddress, event.UserAgent, event.Metadata, event.CreatedAt)
	return err
}
