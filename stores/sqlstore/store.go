// Package sqlstore provides a database/sql implementation of the
// mfgauth.Store interface for MySQL and SQLite. The driver is chosen by the
// application; see stores/mysql and stores/sqlite for the thin wrappers.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mfgops/mfgauth"
)

// Store implements mfgauth.Store for SQL databases.
type Store struct {
	db       *sql.DB
	audit    *sql.DB
	accounts *AccountStore
	tokens   *RefreshTokenStore
	events   *AuditStore
}

// New creates a new SQL store. db holds accounts and tokens; auditDB holds
// audit events and may be the same handle.
func New(db, auditDB *sql.DB) *Store {
	if auditDB == nil {
		auditDB = db
	}
	return &Store{
		db:       db,
		audit:    auditDB,
		accounts: &AccountStore{db: db},
		tokens:   &RefreshTokenStore{db: db},
		events:   &AuditStore{db: auditDB},
	}
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
	return s.events
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	if s.audit != s.db {
		return s.audit.PingContext(ctx)
	}
	return nil
}

// ==================== ACCOUNT STORE ====================

// AccountStore handles account operations.
type AccountStore struct {
	db *sql.DB
}

const accountColumns = `
	id, tenant_id, email, password_hash, password_salt, account_status,
	mfa_enabled, mfa_secret_encrypted, mfa_secret_nonce,
	failed_login_count, locked_until,
	reset_token_hash, reset_token_expiry,
	created_at, updated_at`

func scanAccount(row *sql.Row) (*mfgauth.Account, error) {
	var a mfgauth.Account
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Email, &a.PasswordHash, &a.PasswordSalt, &a.Status,
		&a.MFAEnabled, &a.MFASecretEncrypted, &a.MFASecretNonce,
		&a.FailedLoginCount, &a.LockedUntil,
		&a.ResetTokenHash, &a.ResetTokenExpiry,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mfgauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, tenantID, email string) (*mfgauth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE tenant_id = ? AND lower(email) = lower(?)`, tenantID, email)
	return scanAccount(row)
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (*mfgauth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = ?`, accountID)
	return scanAccount(row)
}

// IncrementLoginFailures bumps the counter inside a transaction so two
// concurrent failures cannot read the same value; database/sql has no
// UPDATE ... RETURNING that works across MySQL and SQLite.
func (s *AccountStore) IncrementLoginFailures(ctx context.Context, accountID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET failed_login_count = failed_login_count + 1, updated_at = ?
		WHERE id = ?`, time.Now().UTC(), accountID); err != nil {
		return 0, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT failed_login_count FROM accounts WHERE id = ?`, accountID).Scan(&count); err != nil {
		return 0, err
	}
	return count, tx.Commit()
}

func (s *AccountStore) SetLockout(ctx context.Context, accountID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET locked_until = ?, updated_at = ? WHERE id = ?`,
		until, time.Now().UTC(), accountID)
	return err
}

func (s *AccountStore) ClearLockout(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET failed_login_count = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`, time.Now().UTC(), accountID)
	return err
}

func (s *AccountStore) UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET password_hash = ?, password_salt = ?, updated_at = ?
		WHERE id = ?`, hash, salt, time.Now().UTC(), accountID)
	return err
}

func (s *AccountStore) SetMFASecret(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET mfa_enabled = true, mfa_secret_encrypted = ?, mfa_secret_nonce = ?,
			updated_at = ?
		WHERE id = ?`, secretEnc, secretNonce, time.Now().UTC(), accountID)
	return err
}

func (s *AccountStore) DisableMFA(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET mfa_enabled = false, mfa_secret_encrypted = NULL, mfa_secret_nonce = NULL,
			updated_at = ?
		WHERE id = ?`, time.Now().UTC(), accountID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *AccountStore) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mfa_backup_codes (account_id, code_hash) VALUES (?, ?)`, accountID, hash); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *AccountStore) ConsumeBackupCode(ctx context.Context, accountID string, codeHash []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mfa_backup_codes SET used = true, used_at = ?
		WHERE account_id = ? AND code_hash = ? AND used = false`,
		time.Now().UTC(), accountID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *AccountStore) CountBackupCodes(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mfa_backup_codes WHERE account_id = ? AND used = false`, accountID).Scan(&count)
	return count, err
}

func (s *AccountStore) SetResetToken(ctx context.Context, accountID string, tokenHash []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET reset_token_hash = ?, reset_token_expiry = ?, updated_at = ?
		WHERE id = ?`, tokenHash, expiresAt, time.Now().UTC(), accountID)
	return err
}

func (s *AccountStore) GetByResetTokenHash(ctx context.Context, tokenHash []byte) (*mfgauth.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE reset_token_hash = ?`, tokenHash)
	acct, err := scanAccount(row)
	if errors.Is(err, mfgauth.ErrAccountNotFound) {
		return nil, mfgauth.ErrResetTokenInvalid
	}
	return acct, err
}

func (s *AccountStore) ClearResetToken(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = ?
		WHERE id = ?`, time.Now().UTC(), accountID)
	return err
}

// ==================== REFRESH TOKEN STORE ====================

// RefreshTokenStore persists refresh-token families.
type RefreshTokenStore struct {
	db *sql.DB
}

func (s *RefreshTokenStore) Create(ctx context.Context, t mfgauth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens
			(id, family_id, account_id, tenant_id, session_id, token_hash,
			 mfa_verified, issued_at, expires_at, used, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, false, false)`,
		t.ID, t.FamilyID, t.AccountID, t.TenantID, t.SessionID, t.TokenHash,
		t.MFAVerified, t.IssuedAt, t.ExpiresAt)
	return err
}

func (s *RefreshTokenStore) GetByID(ctx context.Context, tokenID string) (*mfgauth.RefreshToken, error) {
	var t mfgauth.RefreshToken
	var replacedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, account_id, tenant_id, session_id, token_hash,
			mfa_verified, issued_at, expires_at, used, revoked, replaced_by
		FROM refresh_tokens WHERE id = ?`, tokenID).Scan(
		&t.ID, &t.FamilyID, &t.AccountID, &t.TenantID, &t.SessionID, &t.TokenHash,
		&t.MFAVerified, &t.IssuedAt, &t.ExpiresAt, &t.Used, &t.Revoked, &replacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mfgauth.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if replacedBy.Valid {
		t.ReplacedBy = replacedBy.String
	}
	return &t, nil
}

// MarkUsed flips the token to used only while it is still live; the row count
// tells the caller whether it won the race.
func (s *RefreshTokenStore) MarkUsed(ctx context.Context, tokenID, replacedByID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET used = true, replaced_by = ?
		WHERE id = ? AND used = false AND revoked = false AND expires_at > ?`,
		replacedByID, tokenID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RefreshTokenStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE family_id = ? AND revoked = false`, familyID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE id = ?`, tokenID)
	return err
}

func (s *RefreshTokenStore) RevokeAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE account_id = ? AND revoked = false`, accountID)
	return err
}

func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < ?`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ==================== AUDIT STORE ====================

// AuditStore records security events.
type AuditStore struct {
	db *sql.DB
}

func (s *AuditStore) Insert(ctx context.Context, event mfgauth.AuditEvent) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, account_id, tenant_id, event_type, ip_address, user_agent, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AccountID, event.TenantID, event.EventType,
		event.IPAddress, event.UserAgent, metadata, event.CreatedAt)
	return err
}
