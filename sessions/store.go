package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("sessions: session not found")

// Store persists sessions in Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a session store. All keys are namespaced under prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) sessionKey(tenantID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, tenantID, sessionID)
}

func (s *Store) accountKey(tenantID, accountID string) string {
	return fmt.Sprintf("%s:acct:%s:%s", s.prefix, tenantID, accountID)
}

// createScript stores the session payload, registers the session in the
// account's sorted set, and evicts the oldest sessions while the set exceeds
// the cap. Returns the evicted session IDs.
//
// KEYS[1] = session key, KEYS[2] = account set key
// ARGV[1] = payload, ARGV[2] = TTL ms, ARGV[3] = session ID,
// ARGV[4] = created-at score, ARGV[5] = max concurrent sessions,
// ARGV[6] = session key prefix (prefix:tenant:)
var createScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
local evicted = {}
local max = tonumber(ARGV[5])
while redis.call("ZCARD", KEYS[2]) > max do
	local oldest = redis.call("ZPOPMIN", KEYS[2])
	if #oldest == 0 then break end
	redis.call("DEL", ARGV[6] .. oldest[1])
	evicted[#evicted + 1] = oldest[1]
end
return evicted
`)

// Create stores a new session and enforces the concurrent-session cap,
// evicting oldest-first. It returns the IDs of any evicted sessions.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration, maxConcurrent int) ([]string, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("sessions: marshal: %w", err)
	}

	keys := []string{
		s.sessionKey(sess.TenantID, sess.SessionID),
		s.accountKey(sess.TenantID, sess.AccountID),
	}
	args := []interface{}{
		payload,
		ttl.Milliseconds(),
		sess.SessionID,
		sess.CreatedAt.UnixNano(),
		maxConcurrent,
		fmt.Sprintf("%s:%s:", s.prefix, sess.TenantID),
	}

	res, err := createScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}

	raw, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	evicted := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			evicted = append(evicted, id)
		}
	}
	return evicted, nil
}

// Get loads a session by ID.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(tenantID, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("sessions: unmarshal: %w", err)
	}
	return &sess, nil
}

// SetMFAVerified flips the MFA flag on a live session, preserving its TTL.
func (s *Store) SetMFAVerified(ctx context.Context, tenantID, sessionID string) error {
	key := s.sessionKey(tenantID, sessionID)

	sess, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	sess.MFAVerified = true

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sessions: marshal: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("sessions: update: %w", err)
	}
	return nil
}

// List returns an account's active sessions in creation order, pruning IDs
// whose session keys have already expired.
func (s *Store) List(ctx context.Context, tenantID, accountID string) ([]*Session, error) {
	acctKey := s.accountKey(tenantID, accountID)
	ids, err := s.client.ZRange(ctx, acctKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}

	out := make([]*Session, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		sess, err := s.Get(ctx, tenantID, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, acctKey, stale...)
	}
	return out, nil
}

// Delete removes a single session.
func (s *Store) Delete(ctx context.Context, tenantID, accountID, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.sessionKey(tenantID, sessionID))
	pipe.ZRem(ctx, s.accountKey(tenantID, accountID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sessions: delete: %w", err)
	}
	return nil
}

// deleteAllScript removes every session in the account set plus the set
// itself. Returns how many sessions were removed.
var deleteAllScript = redis.NewScript(`
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, id in ipairs(ids) do
	redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return #ids
`)

// DeleteAll removes every session for an account. Used after password reset
// and refresh-token replay detection.
func (s *Store) DeleteAll(ctx context.Context, tenantID, accountID string) (int, error) {
	keys := []string{s.accountKey(tenantID, accountID)}
	prefix := fmt.Sprintf("%s:%s:", s.prefix, tenantID)
	n, err := deleteAllScript.Run(ctx, s.client, keys, prefix).Int()
	if err != nil {
		return 0, fmt.Errorf("sessions: delete all: %w", err)
	}
	return n, nil
}

// Count returns the number of registered sessions for an account. Expired
// session keys may still be counted until the next List prunes them.
func (s *Store) Count(ctx context.Context, tenantID, accountID string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.accountKey(tenantID, accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("sessions: count: %w", err)
	}
	return n, nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
