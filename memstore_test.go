package mfgauth

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the service tests. Its mutations
// hold a single mutex so the atomicity the interfaces promise (failure
// counters, backup-code consumption, refresh-token CAS) holds under
// concurrent access the same way it does in Postgres.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	codes    map[string][]*memBackupCode
	tokens   map[string]*RefreshToken
	events   []AuditEvent
}

type memBackupCode struct {
	hash []byte
	used bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*Account),
		codes:    make(map[string][]*memBackupCode),
		tokens:   make(map[string]*RefreshToken),
	}
}

func (m *memStore) Accounts() AccountStore           { return (*memAccountStore)(m) }
func (m *memStore) RefreshTokens() RefreshTokenStore { return (*memTokenStore)(m) }
func (m *memStore) Audit() AuditStore                { return (*memAuditStore)(m) }

func (m *memStore) addAccount(acct *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *acct
	m.accounts[acct.ID] = &cp
}

func (m *memStore) account(id string) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.accounts[id]
	return &cp
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// ==================== ACCOUNTS ====================

type memAccountStore memStore

func (m *memAccountStore) GetByEmail(ctx context.Context, tenantID, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.TenantID == tenantID && strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *memAccountStore) GetByID(ctx context.Context, accountID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccountStore) IncrementLoginFailures(ctx context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	a.FailedLoginCount++
	return a.FailedLoginCount, nil
}

func (m *memAccountStore) SetLockout(ctx context.Context, accountID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.LockedUntil = &until
	return nil
}

func (m *memAccountStore) ClearLockout(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.FailedLoginCount = 0
	a.LockedUntil = nil
	return nil
}

func (m *memAccountStore) UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = hash
	a.PasswordSalt = salt
	return nil
}

func (m *memAccountStore) SetMFASecret(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.MFAEnabled = true
	a.MFASecretEncrypted = secretEnc
	a.MFASecretNonce = secretNonce
	return nil
}

func (m *memAccountStore) DisableMFA(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.MFAEnabled = false
	a.MFASecretEncrypted = nil
	a.MFASecretNonce = nil
	delete(m.codes, accountID)
	return nil
}

func (m *memAccountStore) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]*memBackupCode, len(hashes))
	for i, h := range hashes {
		codes[i] = &memBackupCode{hash: h}
	}
	m.codes[accountID] = codes
	return nil
}

func (m *memAccountStore) ConsumeBackupCode(ctx context.Context, accountID string, codeHash []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes[accountID] {
		if !c.used && bytes.Equal(c.hash, codeHash) {
			c.used = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccountStore) CountBackupCodes(ctx context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.codes[accountID] {
		if !c.used {
			n++
		}
	}
	return n, nil
}

func (m *memAccountStore) SetResetToken(ctx context.Context, accountID string, tokenHash []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.ResetTokenHash = tokenHash
	a.ResetTokenExpiry = &expiresAt
	return nil
}

func (m *memAccountStore) GetByResetTokenHash(ctx context.Context, tokenHash []byte) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ResetTokenHash != nil && bytes.Equal(a.ResetTokenHash, tokenHash) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrResetTokenInvalid
}

func (m *memAccountStore) ClearResetToken(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.ResetTokenHash = nil
	a.ResetTokenExpiry = nil
	return nil
}

// ==================== REFRESH TOKENS ====================

type memTokenStore memStore

func (m *memTokenStore) Create(ctx context.Context, token RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := token
	m.tokens[token.ID] = &cp
	return nil
}

func (m *memTokenStore) GetByID(ctx context.Context, tokenID string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokenStore) MarkUsed(ctx context.Context, tokenID, replacedByID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.Used || t.Revoked || time.Now().After(t.ExpiresAt) {
		return false, nil
	}
	t.Used = true
	t.ReplacedBy = replacedByID
	return true, nil
}

func (m *memTokenStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.FamilyID == familyID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *memTokenStore) Revoke(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[tokenID]; ok {
		t.Revoked = true
	}
	return nil
}

func (m *memTokenStore) RevokeAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.AccountID == accountID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *memTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// ==================== AUDIT ====================

type memAuditStore memStore

func (m *memAuditStore) Insert(ctx context.Context, event AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}
