package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "sess"), mr
}

func newSession(id string, createdAt time.Time) *Session {
	return &Session{
		SessionID:   id,
		AccountID:   "acct-1",
		TenantID:    "plant-7",
		IPAddress:   "192.0.2.10",
		UserAgent:   "test",
		MFAVerified: false,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(time.Hour),
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	evicted, err := store.Create(ctx, newSession("s1", now), time.Hour, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(evicted) != 0 {
		t.Fatalf("unexpected evictions: %v", evicted)
	}

	got, err := store.Get(ctx, "plant-7", "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccountID != "acct-1" || got.IPAddress != "192.0.2.10" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt mismatch: got %v want %v", got.CreatedAt, now)
	}
}

func TestGetMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Get(context.Background(), "plant-7", "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCapEvictsOldestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"s1", "s2"} {
		if _, err := store.Create(ctx, newSession(id, base.Add(time.Duration(i)*time.Second)), time.Hour, 2); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	evicted, err := store.Create(ctx, newSession("s3", base.Add(2*time.Second)), time.Hour, 2)
	if err != nil {
		t.Fatalf("Create s3 failed: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "s1" {
		t.Fatalf("expected [s1] evicted, got %v", evicted)
	}

	if _, err := store.Get(ctx, "plant-7", "s1"); err != ErrNotFound {
		t.Fatalf("evicted session still readable: %v", err)
	}

	list, err := store.List(ctx, "plant-7", "acct-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "s2" || list[1].SessionID != "s3" {
		ids := make([]string, len(list))
		for i, s := range list {
			ids[i] = s.SessionID
		}
		t.Fatalf("expected [s2 s3] in creation order, got %v", ids)
	}
}

func TestSetMFAVerifiedPreservesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, newSession("s1", time.Now().UTC()), time.Hour, 5); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.SetMFAVerified(ctx, "plant-7", "s1"); err != nil {
		t.Fatalf("SetMFAVerified failed: %v", err)
	}

	got, err := store.Get(ctx, "plant-7", "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.MFAVerified {
		t.Fatal("expected MFAVerified flag set")
	}
	if ttl := mr.TTL("sess:plant-7:s1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected TTL preserved, got %v", ttl)
	}
}

func TestDeleteRemovesSessionAndIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, newSession("s1", time.Now().UTC()), time.Hour, 5); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Delete(ctx, "plant-7", "acct-1", "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(ctx, "plant-7", "s1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	n, err := store.Count(ctx, "plant-7", "acct-1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty index, got %d", n)
	}
}

func TestDeleteAll(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"s1", "s2", "s3"} {
		if _, err := store.Create(ctx, newSession(id, base.Add(time.Duration(i)*time.Second)), time.Hour, 10); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	n, err := store.DeleteAll(ctx, "plant-7", "acct-1")
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	list, err := store.List(ctx, "plant-7", "acct-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no sessions, got %d", len(list))
	}
}

func TestListPrunesExpiredSessions(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := store.Create(ctx, newSession("shortlived", base), time.Minute, 10); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, newSession("longlived", base.Add(time.Second)), time.Hour, 10); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	list, err := store.List(ctx, "plant-7", "acct-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].SessionID != "longlived" {
		t.Fatalf("expected only the long-lived session, got %+v", list)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newSession("s1", now)
	b := newSession("s1", now)
	b.TenantID = "plant-9"

	if _, err := store.Create(ctx, a, time.Hour, 5); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, b, time.Hour, 5); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Delete(ctx, "plant-7", "acct-1", "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "plant-9", "s1"); err != nil {
		t.Fatalf("other tenant's session affected: %v", err)
	}
}
