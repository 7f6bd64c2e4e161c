// Package sessions tracks active sessions in Redis.
//
// Each session lives at a single key holding a JSON payload with a TTL, and
// every account keeps a sorted set of its session IDs scored by creation
// time. Session creation and concurrent-cap eviction run inside one Lua
// script so two simultaneous logins cannot both slip under the cap.
package sessions

import "time"

// Session is the per-login record shared by all service instances.
type Session struct {
	SessionID   string    `json:"session_id"`
	AccountID   string    `json:"account_id"`
	TenantID    string    `json:"tenant_id"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	MFAVerified bool      `json:"mfa_verified"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
