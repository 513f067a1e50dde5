// Package audit records the state changes of the savings ledger.
//
// The ledger calls a Sink exactly once per state-changing operation. Sinks
// are responsible for durable logging and receipts; their failures are
// reported back to the caller but never undo the operation that produced
// the event.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the type of an audit event.
type Kind string

// The fixed event vocabulary.
const (
	KindUserRegistration Kind = "USER_REGISTRATION"
	KindUserLogin        Kind = "USER_LOGIN"
	KindUserLogout       Kind = "USER_LOGOUT"
	KindAdminLogin       Kind = "ADMIN_LOGIN"
	KindAdminLogout      Kind = "ADMIN_LOGOUT"
	KindCreateLockBox    Kind = "CREATE_LOCKBOX"
	KindReleaseLockBox   Kind = "RELEASE_LOCKBOX"
	KindBalanceUpdate    Kind = "BALANCE_UPDATE"
	KindUserStatusChange Kind = "USER_STATUS_CHANGE"
)

// Kinds lists every event kind in declaration order.
var Kinds = []Kind{
	KindUserRegistration,
	KindUserLogin,
	KindUserLogout,
	KindAdminLogin,
	KindAdminLogout,
	KindCreateLockBox,
	KindReleaseLockBox,
	KindBalanceUpdate,
	KindUserStatusChange,
}

// ErrSinkClosed is returned when recording to a closed sink.
var ErrSinkClosed = errors.New("audit sink closed")

// Event describes a single state change.
type Event struct {
	// Kind is the event type.
	Kind Kind

	// Username is the acting account.
	Username string

	// Details is free text describing the change.
	Details string

	// Amount is the monetary amount involved; zero means none.
	Amount decimal.Decimal

	// LockBoxID is the lock box involved; zero means none.
	LockBoxID int64

	// Time is when the change happened.
	Time time.Time
}

// HasAmount reports whether the event carries a monetary amount.
func (e Event) HasAmount() bool {
	return !e.Amount.IsZero()
}

// HasLockBox reports whether the event refers to a lock box.
func (e Event) HasLockBox() bool {
	return e.LockBoxID > 0
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Discard is a Sink that drops every event.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Event) error { return nil }

// MultiSink fans every event out to all of its sinks. Every sink is
// called even when an earlier one fails.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
