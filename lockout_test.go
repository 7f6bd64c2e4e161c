package mfgauth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockoutTriggersAtThreshold(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	policy := &LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute}
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 2; i++ {
		count, locked, err := policy.RecordFailure(ctx, store.Accounts(), acct, now)
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if count != i || locked {
			t.Fatalf("failure %d: got count=%d locked=%v", i, count, locked)
		}
	}

	count, locked, err := policy.RecordFailure(ctx, store.Accounts(), acct, now)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if count != 3 || !locked {
		t.Fatalf("expected lockout at threshold, got count=%d locked=%v", count, locked)
	}

	fresh := store.account(acct.ID)
	locked2, remaining := policy.IsLocked(fresh, now)
	if !locked2 {
		t.Fatal("expected account to be locked")
	}
	if remaining <= 0 || remaining > policy.Duration {
		t.Fatalf("expected remaining in (0, %v], got %v", policy.Duration, remaining)
	}
	if stillLocked, _ := policy.IsLocked(fresh, now.Add(16*time.Minute)); stillLocked {
		t.Fatal("expected lockout to expire after its duration")
	}
}

func TestLockoutAlertFiresExactlyOnce(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	policy := &LockoutPolicy{Threshold: 5, Duration: time.Minute}
	ctx := context.Background()
	now := time.Now()

	const attempts = 20
	var wg sync.WaitGroup
	triggers := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, locked, err := policy.RecordFailure(ctx, store.Accounts(), acct, now)
			if err != nil {
				t.Errorf("RecordFailure failed: %v", err)
				return
			}
			triggers <- locked
		}()
	}
	wg.Wait()
	close(triggers)

	fired := 0
	for locked := range triggers {
		if locked {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected lockout trigger to fire exactly once, fired %d times", fired)
	}

	if got := store.account(acct.ID).FailedLoginCount; got != attempts {
		t.Fatalf("expected %d recorded failures, got %d", attempts, got)
	}
}

func TestRecordSuccessClearsCounterAndLock(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	policy := &LockoutPolicy{Threshold: 2, Duration: time.Minute}
	ctx := context.Background()
	now := time.Now()

	policy.RecordFailure(ctx, store.Accounts(), acct, now)
	policy.RecordFailure(ctx, store.Accounts(), acct, now)

	fresh := store.account(acct.ID)
	if err := policy.RecordSuccess(ctx, store.Accounts(), fresh); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	fresh = store.account(acct.ID)
	if fresh.FailedLoginCount != 0 || fresh.LockedUntil != nil {
		t.Fatalf("expected counter and lock cleared, got count=%d locked=%v",
			fresh.FailedLoginCount, fresh.LockedUntil)
	}
}

func TestRecordSuccessNoopWhenClean(t *testing.T) {
	store := newMemStore()
	acct := addTestAccount(t, store, "op@plant.example")
	policy := &LockoutPolicy{Threshold: 2, Duration: time.Minute}

	if err := policy.RecordSuccess(context.Background(), store.Accounts(), acct); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
}
