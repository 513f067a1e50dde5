package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LockBox holds funds withdrawn from an account until UnlockAt.
// A box starts Active and moves to Released exactly once.
type LockBox struct {
	// ID is unique for the lifetime of the process and never reused.
	ID int64 `json:"id"`

	// Amount is the locked amount. Always positive.
	Amount decimal.Decimal `json:"amount"`

	// UnlockAt is the point in time from which the box may be released.
	UnlockAt time.Time `json:"unlock_at"`

	// CreatedAt is when the funds were committed.
	CreatedAt time.Time `json:"created_at"`

	// Owner is the username of the owning account.
	Owner string `json:"owner"`

	// Active is true until the box is released.
	Active bool `json:"active"`

	// ReleasedAt is zero while the box is active.
	ReleasedAt time.Time `json:"released_at,omitempty"`
}

// IsMatured reports whether the box is active and now has reached UnlockAt.
// It has no side effects.
func (b *LockBox) IsMatured(now time.Time) bool {
	return b.Active && !now.Before(b.UnlockAt)
}

// TimeRemaining returns how long until the box matures, or zero if it
// already has or has been released.
func (b *LockBox) TimeRemaining(now time.Time) time.Duration {
	if !b.Active || !now.Before(b.UnlockAt) {
		return 0
	}
	return b.UnlockAt.Sub(now)
}

// Release moves the box to the Released state at now.
// Releasing a released box returns ErrAlreadyReleased and changes nothing.
func (b *LockBox) Release(now time.Time) error {
	if !b.Active {
		return ErrAlreadyReleased
	}
	b.Active = false
	b.ReleasedAt = now
	return nil
}

// State returns "active" or "released".
func (b *LockBox) State() string {
	if b.Active {
		return "active"
	}
	return "released"
}

// ReleaseEvent is the immutable audit record of a single release.
type ReleaseEvent struct {
	LockBoxID  int64           `json:"lock_box_id"`
	ReleasedAt time.Time       `json:"released_at"`
	Amount     decimal.Decimal `json:"amount"`
	Username   string          `json:"username"`
	EventAt    time.Time       `json:"event_at"`
}
