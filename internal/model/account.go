package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Identity holds the fields shared by users and administrators.
type Identity struct {
	Username     string    `json:"username"`
	Password     string    `json:"-"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CheckPassword reports whether pass matches the stored credential.
func (i Identity) CheckPassword(pass string) bool {
	return i.Password == pass
}

// Admin is an administrator identity. It owns no ledger state.
type Admin struct {
	Identity
}

// Account is a user ledger: a spendable balance plus the lock boxes
// the user has created, in creation order.
type Account struct {
	Identity

	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
	LockBoxes []*LockBox      `json:"lock_boxes"`
}

// LockBoxFilter selects lock boxes by state.
type LockBoxFilter struct {
	ShowActive   bool
	ShowReleased bool
}

// Label describes the filter for listings.
func (f LockBoxFilter) Label() string {
	switch {
	case f.ShowActive && f.ShowReleased:
		return "active & released"
	case f.ShowActive:
		return "active"
	case f.ShowReleased:
		return "released"
	default:
		return "none"
	}
}

// NewAccount returns an active account with the given opening balance.
func NewAccount(username, password string, balance decimal.Decimal, now time.Time) *Account {
	return &Account{
		Identity: Identity{
			Username:     username,
			Password:     password,
			RegisteredAt: now,
		},
		Balance: balance,
		Active:  true,
	}
}

// CanCommit reports whether amount can be moved into a new lock box.
func (a *Account) CanCommit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(a.Balance) {
		return ErrInsufficientFunds
	}
	return nil
}

// CreateLockBox debits amount from the balance and appends a new active
// box with the given id. On error the account is left untouched.
func (a *Account) CreateLockBox(id int64, amount decimal.Decimal, unlockAt, now time.Time) (*LockBox, error) {
	if err := a.CanCommit(amount); err != nil {
		return nil, err
	}

	box := &LockBox{
		ID:        id,
		Amount:    amount,
		UnlockAt:  unlockAt,
		CreatedAt: now,
		Owner:     a.Username,
		Active:    true,
	}
	a.Balance = a.Balance.Sub(amount)
	a.LockBoxes = append(a.LockBoxes, box)
	return box, nil
}

// Deposit credits a positive amount to the balance.
func (a *Account) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

// SetActive sets the account status and reports whether it changed.
func (a *Account) SetActive(active bool) bool {
	if a.Active == active {
		return false
	}
	a.Active = active
	return true
}

// ReleaseBox releases a single box and credits its amount.
func (a *Account) ReleaseBox(box *LockBox, now time.Time) (ReleaseEvent, error) {
	if err := box.Release(now); err != nil {
		return ReleaseEvent{}, err
	}
	a.Balance = a.Balance.Add(box.Amount)
	return ReleaseEvent{
		LockBoxID:  box.ID,
		ReleasedAt: now,
		Amount:     box.Amount,
		Username:   a.Username,
		EventAt:    now,
	}, nil
}

// ReleaseMatured releases every matured box in creation order, crediting
// each amount once, and returns one event per release.
func (a *Account) ReleaseMatured(now time.Time) []ReleaseEvent {
	var events []ReleaseEvent
	for _, box := range a.LockBoxes {
		if !box.IsMatured(now) {
			continue
		}
		ev, err := a.ReleaseBox(box, now)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// FindLockBox returns the owned box with the given id, or nil.
func (a *Account) FindLockBox(id int64) *LockBox {
	for _, box := range a.LockBoxes {
		if box.ID == id {
			return box
		}
	}
	return nil
}

// FilterLockBoxes returns copies of the boxes matching f, in creation order.
// A filter with both flags false matches nothing.
func (a *Account) FilterLockBoxes(f LockBoxFilter) []LockBox {
	var out []LockBox
	for _, box := range a.LockBoxes {
		if (box.Active && f.ShowActive) || (!box.Active && f.ShowReleased) {
			out = append(out, *box)
		}
	}
	return out
}

// LockedTotal returns the sum of the amounts held in active boxes.
func (a *Account) LockedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, box := range a.LockBoxes {
		if box.Active {
			total = total.Add(box.Amount)
		}
	}
	return total
}

// CountLockBoxes returns the number of active and released boxes.
func (a *Account) CountLockBoxes() (active, released int) {
	for _, box := range a.LockBoxes {
		if box.Active {
			active++
		} else {
			released++
		}
	}
	return active, released
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	cp := *a
	cp.LockBoxes = make([]*LockBox, len(a.LockBoxes))
	for i, box := range a.LockBoxes {
		b := *box
		cp.LockBoxes[i] = &b
	}
	return &cp
}
