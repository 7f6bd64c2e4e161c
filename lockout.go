package mfgauth

import (
	"context"
	"time"
)

// LockoutPolicy converts consecutive authentication failures into temporary
// account lockouts. The failure counter is incremented atomically in the
// account store so concurrent failed logins cannot lose updates, and exactly
// one request observes the counter crossing the threshold.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// IsLocked reports whether the account is currently locked and, if so, how
// long until the lockout expires.
func (p *LockoutPolicy) IsLocked(acct *Account, now time.Time) (bool, time.Duration) {
	if acct.LockedUntil == nil || !now.Before(*acct.LockedUntil) {
		return false, 0
	}
	return true, acct.LockedUntil.Sub(now)
}

// RecordFailure increments the account's failure counter and applies a
// lockout when the new count reaches the threshold. It returns the new count
// and whether this failure triggered the lockout.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, accounts AccountStore, acct *Account, now time.Time) (int, bool, error) {
	count, err := accounts.IncrementLoginFailures(ctx, acct.ID)
	if err != nil {
		return 0, false, err
	}

	if count >= p.Threshold {
		until := now.Add(p.Duration)
		if err := accounts.SetLockout(ctx, acct.ID, until); err != nil {
			return count, false, err
		}
		// Only the request that crossed the threshold reports the lockout,
		// so the alert fires once.
		return count, count == p.Threshold, nil
	}
	return count, false, nil
}

// RecordSuccess clears the failure counter and any lockout after a fully
// completed authentication.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, accounts AccountStore, acct *Account) error {
	if acct.FailedLoginCount == 0 && acct.LockedUntil == nil {
		return nil
	}
	if err := accounts.ClearLockout(ctx, acct.ID); err != nil {
		return err
	}
	acct.FailedLoginCount = 0
	acct.LockedUntil = nil
	return nil
}
