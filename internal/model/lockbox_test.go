package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)

func newBox(unlockAt time.Time) *LockBox {
	return &LockBox{
		ID:        1,
		Amount:    decimal.NewFromInt(300),
		UnlockAt:  unlockAt,
		CreatedAt: t0,
		Owner:     "alice",
		Active:    true,
	}
}

func TestLockBox_IsMatured(t *testing.T) {
	unlockAt := t0.Add(5 * time.Second)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before unlock", now: t0, want: false},
		{name: "one second early", now: unlockAt.Add(-time.Second), want: false},
		{name: "exactly at unlock", now: unlockAt, want: true},
		{name: "after unlock", now: unlockAt.Add(time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box := newBox(unlockAt)
			if got := box.IsMatured(tt.now); got != tt.want {
				t.Errorf("IsMatured(%v) = %v, want %v", tt.now, got, tt.want)
			}
			if !box.Active {
				t.Error("IsMatured must not change the box state")
			}
		})
	}

	t.Run("released box is never matured", func(t *testing.T) {
		box := newBox(unlockAt)
		if err := box.Release(unlockAt); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if box.IsMatured(unlockAt.Add(time.Hour)) {
			t.Error("released box reported as matured")
		}
	})
}

func TestLockBox_Release(t *testing.T) {
	unlockAt := t0.Add(5 * time.Second)
	box := newBox(unlockAt)

	if err := box.Release(unlockAt); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if box.Active {
		t.Error("box still active after release")
	}
	if !box.ReleasedAt.Equal(unlockAt) {
		t.Errorf("ReleasedAt = %v, want %v", box.ReleasedAt, unlockAt)
	}
	if box.State() != "released" {
		t.Errorf("State() = %s, want released", box.State())
	}

	err := box.Release(unlockAt.Add(time.Minute))
	if !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("second Release() error = %v, want ErrAlreadyReleased", err)
	}
	if !box.ReleasedAt.Equal(unlockAt) {
		t.Errorf("ReleasedAt changed on second release: %v", box.ReleasedAt)
	}
}

func TestLockBox_TimeRemaining(t *testing.T) {
	box := newBox(t0.Add(90 * time.Second))

	if got := box.TimeRemaining(t0); got != 90*time.Second {
		t.Errorf("TimeRemaining() = %v, want 90s", got)
	}
	if got := box.TimeRemaining(t0.Add(2 * time.Minute)); got != 0 {
		t.Errorf("TimeRemaining() after unlock = %v, want 0", got)
	}
}
