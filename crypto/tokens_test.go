package crypto

import (
	"bytes"
	"testing"
	"time"
)

func testJWTSecret() []byte {
	return bytes.Repeat([]byte{0x7F}, 32)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := testJWTSecret()
	raw, err := NewAccessToken(secret, "acct-1", "plant-7", "sess-1", true, time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken failed: %v", err)
	}

	claims, err := ParseToken(secret, raw)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Subject != "acct-1" || claims.TenantID != "plant-7" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.MFAVerified || claims.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected flags: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a generated jti")
	}
}

func TestAccessTokenHonorsExplicitJTI(t *testing.T) {
	secret := testJWTSecret()
	raw, err := NewAccessTokenWithOptions(secret, "acct-1", "plant-7", "sess-1", false, time.Minute,
		AccessTokenOptions{JTI: "fixed-jti"})
	if err != nil {
		t.Fatalf("NewAccessTokenWithOptions failed: %v", err)
	}
	claims, err := ParseToken(secret, raw)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.ID != "fixed-jti" {
		t.Fatalf("expected fixed jti, got %q", claims.ID)
	}
}

func TestMFAChallengeTokenRoundTrip(t *testing.T) {
	secret := testJWTSecret()
	raw, err := NewMFAChallengeToken(secret, "acct-1", "plant-7", "challenge-jti", 5*time.Minute)
	if err != nil {
		t.Fatalf("NewMFAChallengeToken failed: %v", err)
	}

	claims, err := ParseToken(secret, raw)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.TokenType != TokenTypeMFAChallenge || claims.ID != "challenge-jti" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionID != "" {
		t.Fatal("challenge tokens must not carry a session")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	raw, err := NewAccessToken(testJWTSecret(), "acct-1", "plant-7", "sess-1", false, time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken failed: %v", err)
	}
	if _, err := ParseToken(bytes.Repeat([]byte{0x01}, 32), raw); err == nil {
		t.Fatal("token accepted with wrong secret")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := testJWTSecret()
	raw, err := NewAccessToken(secret, "acct-1", "plant-7", "sess-1", false, -time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken failed: %v", err)
	}
	if _, err := ParseToken(secret, raw); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "a.b.c"} {
		if _, err := ParseToken(testJWTSecret(), raw); err == nil {
			t.Fatalf("garbage token %q accepted", raw)
		}
	}
}
