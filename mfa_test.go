package mfgauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/mfgops/mfgauth/crypto"
)

func newTestMFAEngine(t *testing.T, store *memStore) *MFAEngine {
	t.Helper()
	keys, err := crypto.DeriveKeys(testSecrets().EncryptionKey)
	if err != nil {
		t.Fatalf("DeriveKeys failed: %v", err)
	}
	return &MFAEngine{
		accounts:  store.Accounts(),
		keys:      &keys,
		pepper:    testSecrets().Pepper,
		issuer:    "mfgauth-test",
		digits:    6,
		codeCount: 10,
		codeLen:   10,
	}
}

// enrollMFA runs the full GenerateSetup + Enable flow and returns the secret
// and plaintext backup codes.
func enrollMFA(t *testing.T, engine *MFAEngine, store *memStore, acct *Account) (string, []string) {
	t.Helper()
	setup, err := engine.GenerateSetup(acct)
	if err != nil {
		t.Fatalf("GenerateSetup failed: %v", err)
	}
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	codes, err := engine.Enable(context.Background(), acct, setup.Secret, code)
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	return setup.Secret, codes
}

func TestGenerateSetupPersistsNothing(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)

	setup, err := engine.GenerateSetup(acct)
	if err != nil {
		t.Fatalf("GenerateSetup failed: %v", err)
	}
	if setup.Secret == "" || setup.URL == "" {
		t.Fatal("expected secret and provisioning URL")
	}
	if !strings.HasPrefix(setup.QRCodeDataURL, "data:image/png;base64,") {
		t.Fatalf("unexpected data URL prefix: %.40s", setup.QRCodeDataURL)
	}
	if !strings.Contains(setup.URL, "mfgauth-test") {
		t.Fatalf("expected issuer in provisioning URL: %s", setup.URL)
	}

	fresh := store.account(acct.ID)
	if fresh.MFAEnabled || fresh.MFASecretEncrypted != nil {
		t.Fatal("setup must not persist anything before confirmation")
	}
}

func TestEnableRejectsWrongCode(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)

	setup, err := engine.GenerateSetup(acct)
	if err != nil {
		t.Fatalf("GenerateSetup failed: %v", err)
	}
	if _, err := engine.Enable(context.Background(), acct, setup.Secret, "000000"); err != ErrInvalidMFACode {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	if store.account(acct.ID).MFAEnabled {
		t.Fatal("failed confirmation must not enable MFA")
	}
}

func TestEnableStoresEncryptedSecretAndBackupCodes(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)

	secret, codes := enrollMFA(t, engine, store, acct)
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	for _, c := range codes {
		if len(c) != 10 {
			t.Fatalf("backup code %q has wrong length", c)
		}
	}

	fresh := store.account(acct.ID)
	if !fresh.MFAEnabled {
		t.Fatal("expected MFA to be enabled")
	}
	if strings.Contains(string(fresh.MFASecretEncrypted), secret) {
		t.Fatal("TOTP secret stored in plaintext")
	}
	keys, _ := crypto.DeriveKeys(testSecrets().EncryptionKey)
	plain, err := crypto.Decrypt(fresh.MFASecretEncrypted, fresh.MFASecretNonce, keys.MFAKey)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(plain) != secret {
		t.Fatal("decrypted secret does not round-trip")
	}

	remaining, err := engine.RemainingBackupCodes(context.Background(), fresh)
	if err != nil {
		t.Fatalf("RemainingBackupCodes failed: %v", err)
	}
	if remaining != 10 {
		t.Fatalf("expected 10 remaining codes, got %d", remaining)
	}
}

func TestVerifyAcceptsTOTPAndRejectsGarbage(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)
	secret, _ := enrollMFA(t, engine, store, acct)
	fresh := store.account(acct.ID)

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	valid, usedBackup, err := engine.Verify(context.Background(), fresh, code)
	if err != nil || !valid || usedBackup {
		t.Fatalf("expected TOTP acceptance, got valid=%v backup=%v err=%v", valid, usedBackup, err)
	}

	valid, _, err = engine.Verify(context.Background(), fresh, "123456")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if valid {
		t.Fatal("wrong TOTP code accepted")
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)
	_, codes := enrollMFA(t, engine, store, acct)
	fresh := store.account(acct.ID)
	ctx := context.Background()

	valid, usedBackup, err := engine.Verify(ctx, fresh, codes[0])
	if err != nil || !valid || !usedBackup {
		t.Fatalf("expected backup code acceptance, got valid=%v backup=%v err=%v", valid, usedBackup, err)
	}

	valid, _, err = engine.Verify(ctx, fresh, codes[0])
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if valid {
		t.Fatal("backup code accepted twice")
	}

	remaining, err := engine.RemainingBackupCodes(ctx, fresh)
	if err != nil {
		t.Fatalf("RemainingBackupCodes failed: %v", err)
	}
	if remaining != 9 {
		t.Fatalf("expected 9 remaining codes, got %d", remaining)
	}
}

func TestRegenerateInvalidatesOldBackupCodes(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)
	_, old := enrollMFA(t, engine, store, acct)
	fresh := store.account(acct.ID)
	ctx := context.Background()

	fresher, err := engine.RegenerateBackupCodes(ctx, fresh)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresher) != 10 {
		t.Fatalf("expected 10 new codes, got %d", len(fresher))
	}

	if valid, _, _ := engine.Verify(ctx, fresh, old[0]); valid {
		t.Fatal("old backup code still accepted after regeneration")
	}
	if valid, usedBackup, _ := engine.Verify(ctx, fresh, fresher[0]); !valid || !usedBackup {
		t.Fatal("new backup code rejected")
	}
}

func TestDisableRequiresValidCodeAndClearsState(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)
	secret, _ := enrollMFA(t, engine, store, acct)
	fresh := store.account(acct.ID)
	ctx := context.Background()

	if err := engine.Disable(ctx, fresh, "000000"); err != ErrInvalidMFACode {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if err := engine.Disable(ctx, fresh, code); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	after := store.account(acct.ID)
	if after.MFAEnabled || after.MFASecretEncrypted != nil {
		t.Fatal("expected MFA state cleared")
	}
	remaining, _ := engine.RemainingBackupCodes(ctx, after)
	if remaining != 0 {
		t.Fatalf("expected backup codes discarded, %d remain", remaining)
	}
}

func TestVerifyWithoutEnrollment(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)

	if _, _, err := engine.Verify(context.Background(), acct, "123456"); err != ErrMFANotEnabled {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
	if _, err := engine.RegenerateBackupCodes(context.Background(), acct); err != ErrMFANotEnabled {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
}

func TestVerifyTOTPNeverConsumesBackupCodes(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	engine := newTestMFAEngine(t, store)
	secret, codes := enrollMFA(t, engine, store, acct)
	fresh := store.account(acct.ID)
	ctx := context.Background()

	valid, err := engine.VerifyTOTP(ctx, fresh, codes[0])
	if err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}
	if valid {
		t.Fatal("backup code accepted as TOTP proof")
	}
	remaining, err := engine.RemainingBackupCodes(ctx, fresh)
	if err != nil {
		t.Fatalf("RemainingBackupCodes failed: %v", err)
	}
	if remaining != 10 {
		t.Fatalf("rejected code was consumed, %d remain", remaining)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	valid, err = engine.VerifyTOTP(ctx, fresh, code)
	if err != nil || !valid {
		t.Fatalf("expected TOTP acceptance, got valid=%v err=%v", valid, err)
	}
}
