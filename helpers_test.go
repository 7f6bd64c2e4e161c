package mfgauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mfgops/mfgauth/crypto"
)

const testPassword = "Str0ngPassw0rd"

func testSecrets() Secrets {
	return Secrets{
		JWTSecret:     bytes.Repeat([]byte{0xAB}, 32),
		EncryptionKey: bytes.Repeat([]byte{0xCD}, 32),
		Pepper:        bytes.Repeat([]byte{0xEF}, 32),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AppName = "mfgauth-test"
	cfg.AppBaseURL = "https://ops.example.com"
	cfg.MaxLoginAttempts = 3
	cfg.LockoutDuration = 15 * time.Minute
	cfg.MaxConcurrentSessions = 2
	cfg.CookieSecure = false
	// Keep rate limits out of the way unless a test opts in.
	cfg.RateLimits.LoginLimit = 1000
	cfg.RateLimits.MFALimit = 1000
	cfg.RateLimits.PasswordResetLimit = 1000
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestService(t *testing.T, opts ...Option) (*AuthService, *memStore, *miniredis.Miniredis) {
	t.Helper()
	store := newMemStore()
	mr, client := newTestRedis(t)

	all := append([]Option{
		WithStore(store),
		WithRedis(client),
		WithSecrets(testSecrets()),
		WithConfig(testConfig()),
		WithLogger(zap.NewNop()),
	}, opts...)

	svc, err := New(all...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return svc, store, mr
}

// addTestAccount seeds an active account with the test password and returns it.
func addTestAccount(t *testing.T, store *memStore, email string) *Account {
	t.Helper()
	salt, err := crypto.GenerateSalt(crypto.DefaultSaltSize)
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	acct := &Account{
		ID:           uuid.NewString(),
		TenantID:     "default",
		Email:        email,
		PasswordHash: crypto.HashPassword(testPassword, salt),
		PasswordSalt: salt,
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	store.addAccount(acct)
	return acct
}

// doJSON posts a JSON body to the handler and decodes the JSON response.
func doJSON(t *testing.T, h http.Handler, method, path string, body map[string]any, headers map[string]string) (int, map[string]any, *http.Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:51234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := rec.Result()
	out := map[string]any{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal response %q: %v", data, err)
		}
	}
	return resp.StatusCode, out, resp
}

// loginAndGetTokens performs a full password login and returns the token pair.
func loginAndGetTokens(t *testing.T, svc *AuthService, email string) (access, refresh string) {
	t.Helper()
	status, body, _ := doJSON(t, svc.Handler(), http.MethodPost, "/login", map[string]any{
		"email":    email,
		"password": testPassword,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("login returned %d: %v", status, body)
	}
	access, _ = body["access_token"].(string)
	refresh, _ = body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("expected tokens in login response, got %v", body)
	}
	return access, refresh
}

func sessionCount(t *testing.T, svc *AuthService, acct *Account) int {
	t.Helper()
	list, err := svc.Sessions().List(context.Background(), acct.TenantID, acct.ID)
	if err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}
	return len(list)
}
