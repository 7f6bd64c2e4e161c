package mfgauth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeStore tracks outstanding MFA challenge identifiers in Redis so a
// challenge token can be consumed exactly once across all service instances.
// The JWT carries the claims; Redis only holds the single-use marker.
type challengeStore struct {
	client redis.UniversalClient
}

func newChallengeStore(client redis.UniversalClient) *challengeStore {
	return &challengeStore{client: client}
}

func (c *challengeStore) key(jti string) string {
	return "mfachal:" + jti
}

// Issue registers a challenge marker with the challenge TTL.
func (c *challengeStore) Issue(ctx context.Context, jti string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("challenge issue: %w", err)
	}
	return nil
}

// Consume atomically removes the marker. Returns false when the challenge was
// already consumed or never existed; GETDEL guarantees only one of N
// concurrent consumers sees true.
func (c *challengeStore) Consume(ctx context.Context, jti string) (bool, error) {
	res, err := c.client.GetDel(ctx, c.key(jti)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("challenge consume: %w", err)
	}
	return res != "", nil
}
