package mfgauth

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/mfgops/mfgauth/crypto"
)

// backupCodeAlphabet avoids visually ambiguous characters (0/O, 1/I).
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MFAEngine manages TOTP enrollment, code verification, and single-use backup
// codes. TOTP secrets are encrypted at rest with a purpose-derived key;
// backup codes are stored only as peppered hashes.
type MFAEngine struct {
	accounts  AccountStore
	keys      *crypto.DerivedKeys
	pepper    []byte
	issuer    string
	digits    int
	codeCount int
	codeLen   int
}

// MFASetup is the provisioning material returned during enrollment. Nothing
// is persisted until the candidate secret is confirmed with a valid code.
type MFASetup struct {
	Secret        string
	URL           string
	QRCodePNG     string
	QRCodeDataURL string
}

func (m *MFAEngine) totpDigits() otp.Digits {
	if m.digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// GenerateSetup creates a candidate TOTP secret and its provisioning QR code.
// The secret is returned to the caller and intentionally not stored; Enable
// persists it only after the user proves possession with a valid code.
func (m *MFAEngine) GenerateSetup(acct *Account) (*MFASetup, error) {
	if acct.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: acct.Email,
		SecretSize:  32,
		Algorithm:   otp.AlgorithmSHA1,
		Digits:      m.totpDigits(),
	})
	if err != nil {
		return nil, err
	}

	pngB64, dataURL, err := buildQRCode(key.URL(), 256)
	if err != nil {
		return nil, err
	}

	return &MFASetup{
		Secret:        key.Secret(),
		URL:           key.URL(),
		QRCodePNG:     pngB64,
		QRCodeDataURL: dataURL,
	}, nil
}

// Enable verifies a code against the candidate secret from GenerateSetup,
// then persists the encrypted secret and a fresh set of backup codes. It
// returns the plaintext backup codes for one-time display.
func (m *MFAEngine) Enable(ctx context.Context, acct *Account, secret, code string) ([]string, error) {
	if acct.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	valid, err := m.validateTOTP(code, secret)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrInvalidMFACode
	}

	secretEnc, secretNonce, err := crypto.Encrypt([]byte(secret), m.keys.MFAKey)
	if err != nil {
		return nil, err
	}
	if err := m.accounts.SetMFASecret(ctx, acct.ID, secretEnc, secretNonce); err != nil {
		return nil, err
	}

	codes, err := m.replaceBackupCodes(ctx, acct.ID)
	if err != nil {
		// Roll back so the account is not left half-enrolled without
		// recovery codes.
		_ = m.accounts.DisableMFA(ctx, acct.ID)
		return nil, err
	}
	return codes, nil
}

// Verify checks a code against the account's stored secret. Digit-length
// codes are validated as TOTP; longer codes are tried as backup codes, and a
// matching backup code is consumed atomically. usedBackup reports which path
// succeeded.
func (m *MFAEngine) Verify(ctx context.Context, acct *Account, code string) (valid bool, usedBackup bool, err error) {
	if !acct.MFAEnabled || acct.MFASecretEncrypted == nil {
		return false, false, ErrMFANotEnabled
	}

	secret, err := crypto.Decrypt(acct.MFASecretEncrypted, acct.MFASecretNonce, m.keys.MFAKey)
	if err != nil {
		return false, false, err
	}

	// Route by length: ValidateCustom errors on codes that are not exactly
	// digit-length, so only those go through TOTP; everything else is tried
	// as a backup code.
	if len(code) == m.totpDigits().Length() {
		valid, err = m.validateTOTP(code, string(secret))
		if err != nil {
			return false, false, err
		}
		return valid, false, nil
	}

	if len(code) != m.codeLen {
		return false, false, nil
	}
	used, err := m.accounts.ConsumeBackupCode(ctx, acct.ID, crypto.HashWithPepper(code, m.pepper))
	if err != nil {
		return false, false, err
	}
	return used, used, nil
}

// VerifyTOTP checks a code against the TOTP path only. Backup codes are
// rejected without being consumed; operations that gate on proof of
// possession of the authenticator use this instead of Verify.
func (m *MFAEngine) VerifyTOTP(ctx context.Context, acct *Account, code string) (bool, error) {
	if !acct.MFAEnabled || acct.MFASecretEncrypted == nil {
		return false, ErrMFANotEnabled
	}
	if len(code) != m.totpDigits().Length() {
		return false, nil
	}
	secret, err := crypto.Decrypt(acct.MFASecretEncrypted, acct.MFASecretNonce, m.keys.MFAKey)
	if err != nil {
		return false, err
	}
	return m.validateTOTP(code, string(secret))
}

// Disable turns MFA off after a successful code verification and discards the
// secret and remaining backup codes.
func (m *MFAEngine) Disable(ctx context.Context, acct *Account, code string) error {
	valid, _, err := m.Verify(ctx, acct, code)
	if err != nil {
		return err
	}
	if !valid {
		return ErrInvalidMFACode
	}
	return m.accounts.DisableMFA(ctx, acct.ID)
}

// RegenerateBackupCodes replaces the account's backup codes and returns the
// new plaintext set. Previously issued codes stop working immediately.
func (m *MFAEngine) RegenerateBackupCodes(ctx context.Context, acct *Account) ([]string, error) {
	if !acct.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	return m.replaceBackupCodes(ctx, acct.ID)
}

// RemainingBackupCodes reports how many unused backup codes the account has.
func (m *MFAEngine) RemainingBackupCodes(ctx context.Context, acct *Account) (int, error) {
	return m.accounts.CountBackupCodes(ctx, acct.ID)
}

func (m *MFAEngine) validateTOTP(code, secret string) (bool, error) {
	return totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1, // Allow +/-30 seconds for clock drift
		Digits:    m.totpDigits(),
		Algorithm: otp.AlgorithmSHA1,
	})
}

func (m *MFAEngine) replaceBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	codes, hashes, err := m.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := m.accounts.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (m *MFAEngine) generateBackupCodes() ([]string, [][]byte, error) {
	count := m.codeCount
	if count <= 0 {
		count = 10
	}
	length := m.codeLen
	if length <= 0 {
		length = 10
	}

	codes := make([]string, 0, count)
	hashes := make([][]byte, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := crypto.RandomString(length, backupCodeAlphabet)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, crypto.HashWithPepper(code, m.pepper))
	}
	return codes, hashes, nil
}

func buildQRCode(url string, size int) (string, string, error) {
	code, err := qr.Encode(url, qr.M, qr.Auto)
	if err != nil {
		return "", "", err
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return "", "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", "", err
	}
	pngB64 := base64.StdEncoding.EncodeToString(buf.Bytes())
	return pngB64, "data:image/png;base64," + pngB64, nil
}
