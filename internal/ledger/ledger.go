// Package ledger is the lock-box lifecycle engine: it owns every account,
// the global release log and the lock-box id sequence, and it is the only
// place where balances and lock-box states change.
//
// Each account is guarded by its own mutex, so interactive operations and
// background scans on the same account are serialized and a lock box is
// released at most once. Audit events are emitted after the account lock
// is dropped; a sink failure is logged and never undoes the change.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/audit"
	"github.com/n3tuk/time-locked-savings/internal/clock"
	"github.com/n3tuk/time-locked-savings/internal/model"
	"github.com/n3tuk/time-locked-savings/internal/storage"
)

const (
	// DefaultAdminUsername and DefaultAdminPassword are used when no
	// administrator credentials are configured.
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"

	dateLayout = "2006-01-02 15:04:05"
)

// Options configures a Ledger. Zero values select the wall clock, a
// discarding sink, a no-op logger and the default admin credentials.
type Options struct {
	Clock         clock.Clock
	Sink          audit.Sink
	Logger        *zap.Logger
	AdminUsername string
	AdminPassword string
}

// Ledger is the process-wide application context.
type Ledger struct {
	clock  clock.Clock
	sink   audit.Sink
	logger *zap.Logger
	admin  model.Admin

	mu       sync.RWMutex
	accounts map[string]*entry
	order    []*entry

	logMu      sync.Mutex
	releaseLog []model.ReleaseEvent

	seq *model.Sequence
}

type entry struct {
	mu      sync.Mutex
	account *model.Account
}

// Totals summarizes the ledger.
type Totals struct {
	Accounts        int
	ActiveAccounts  int
	ActiveLockBoxes int
	Balance         decimal.Decimal
	Locked          decimal.Decimal
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Sink == nil {
		opts.Sink = audit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AdminUsername == "" {
		opts.AdminUsername = DefaultAdminUsername
	}
	if opts.AdminPassword == "" {
		opts.AdminPassword = DefaultAdminPassword
	}

	l := &Ledger{
		clock:    opts.Clock,
		sink:     opts.Sink,
		logger:   opts.Logger,
		accounts: make(map[string]*entry),
		seq:      model.NewSequence(1),
	}
	l.admin = model.Admin{Identity: model.Identity{
		Username:     opts.AdminUsername,
		Password:     opts.AdminPassword,
		RegisteredAt: l.now(),
	}}
	return l
}

// now returns the current time at the one-second granularity used by the
// persisted record formats.
func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC().Truncate(time.Second)
}

// emit delivers events to the sink. Failures are logged only.
func (l *Ledger) emit(ctx context.Context, events ...audit.Event) {
	for _, ev := range events {
		if err := l.sink.Record(ctx, ev); err != nil {
			l.logger.Warn("Failed to record audit event",
				zap.String("kind", string(ev.Kind)),
				zap.String("username", ev.Username),
				zap.Error(err),
			)
		}
	}
}

func (l *Ledger) lookup(username string) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	return e, nil
}

func validUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username cannot be empty", ErrInvalidUsername)
	}
	if strings.ContainsAny(username, "|\r\n\t ") {
		return fmt.Errorf("%w: %q contains whitespace or '|'", ErrInvalidUsername, username)
	}
	return nil
}

// Register creates an active account with an opening balance.
func (l *Ledger) Register(ctx context.Context, username, password string, initial decimal.Decimal) (*model.Account, error) {
	if err := validUsername(username); err != nil {
		return nil, err
	}
	if strings.ContainsAny(password, "|\r\n") {
		return nil, fmt.Errorf("%w: password cannot contain '|' or line breaks", ErrInvalidCredential)
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance cannot be negative", ErrInvalidAmount)
	}
	if username == l.admin.Username {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, username)
	}

	now := l.now()

	l.mu.Lock()
	if _, ok := l.accounts[username]; ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, username)
	}
	acct := model.NewAccount(username, password, initial, now)
	e := &entry{account: acct}
	l.accounts[username] = e
	l.order = append(l.order, e)
	view := acct.Clone()
	l.mu.Unlock()

	l.logger.Info("Account registered", zap.String("username", username))
	l.emit(ctx, audit.Event{
		Kind:     audit.KindUserRegistration,
		Username: username,
		Details:  "New user registered",
		Amount:   initial,
		Time:     now,
	})
	return view, nil
}

// Login authenticates a user and runs the release scan on their account.
// It returns a view of the account after the scan and the releases the
// scan performed.
func (l *Ledger) Login(ctx context.Context, username, password string) (*model.Account, []model.ReleaseEvent, error) {
	e, err := l.lookup(username)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()

	e.mu.Lock()
	acct := e.account
	if !acct.CheckPassword(password) {
		e.mu.Unlock()
		return nil, nil, ErrInvalidCredential
	}
	if !acct.Active {
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrAccountInactive, username)
	}
	released := l.releaseMatured(acct, now)
	view := acct.Clone()
	e.mu.Unlock()

	l.logger.Info("User logged in",
		zap.String("username", username),
		zap.Int("released", len(released)),
	)
	l.emit(ctx, audit.Event{
		Kind:     audit.KindUserLogin,
		Username: username,
		Details:  "User logged in",
		Time:     now,
	})
	l.emit(ctx, releaseAuditEvents(released)...)
	return view, released, nil
}

// Logout records the end of a user session.
func (l *Ledger) Logout(ctx context.Context, username string) error {
	if _, err := l.lookup(username); err != nil {
		return err
	}
	l.emit(ctx, audit.Event{
		Kind:     audit.KindUserLogout,
		Username: username,
		Details:  "User logged out",
		Time:     l.now(),
	})
	return nil
}

// AdminLogin authenticates the administrator.
func (l *Ledger) AdminLogin(ctx context.Context, username, password string) (model.Admin, error) {
	if username != l.admin.Username || !l.admin.CheckPassword(password) {
		return model.Admin{}, ErrInvalidCredential
	}
	l.logger.Info("Admin logged in", zap.String("username", username))
	l.emit(ctx, audit.Event{
		Kind:     audit.KindAdminLogin,
		Username: username,
		Details:  "Admin logged in",
		Time:     l.now(),
	})
	return l.admin, nil
}

// AdminLogout records the end of an admin session.
func (l *Ledger) AdminLogout(ctx context.Context, username string) {
	l.emit(ctx, audit.Event{
		Kind:     audit.KindAdminLogout,
		Username: username,
		Details:  "Admin logged out",
		Time:     l.now(),
	})
}

// CreateLockBox moves amount from the user's balance into a new lock box
// that matures at unlockAt. Ids are only consumed by successful creations.
func (l *Ledger) CreateLockBox(ctx context.Context, username string, amount decimal.Decimal, unlockAt time.Time) (model.LockBox, error) {
	e, err := l.lookup(username)
	if err != nil {
		return model.LockBox{}, err
	}

	now := l.now()
	unlockAt = unlockAt.UTC().Truncate(time.Second)
	if unlockAt.Before(now) {
		return model.LockBox{}, fmt.Errorf("%w: %s", ErrInvalidUnlockTime, unlockAt.Format(dateLayout))
	}

	e.mu.Lock()
	acct := e.account
	if !acct.Active {
		e.mu.Unlock()
		return model.LockBox{}, fmt.Errorf("%w: %s", ErrAccountInactive, username)
	}
	if err := acct.CanCommit(amount); err != nil {
		e.mu.Unlock()
		return model.LockBox{}, err
	}
	box, err := acct.CreateLockBox(l.seq.Next(), amount, unlockAt, now)
	if err != nil {
		e.mu.Unlock()
		return model.LockBox{}, err
	}
	view := *box
	e.mu.Unlock()

	l.logger.Info("Lock box created",
		zap.String("username", username),
		zap.Int64("lockbox_id", view.ID),
		zap.String("amount", view.Amount.StringFixed(2)),
		zap.Time("unlock_at", view.UnlockAt),
	)
	l.emit(ctx, audit.Event{
		Kind:      audit.KindCreateLockBox,
		Username:  username,
		Details:   "Unlocks at " + view.UnlockAt.Format(dateLayout),
		Amount:    view.Amount,
		LockBoxID: view.ID,
		Time:      now,
	})
	return view, nil
}

// ReleaseLockBox releases one matured lock box owned by username.
func (l *Ledger) ReleaseLockBox(ctx context.Context, username string, id int64) (model.ReleaseEvent, error) {
	e, err := l.lookup(username)
	if err != nil {
		return model.ReleaseEvent{}, err
	}

	now := l.now()

	e.mu.Lock()
	box := e.account.FindLockBox(id)
	if box == nil {
		e.mu.Unlock()
		return model.ReleaseEvent{}, fmt.Errorf("%w: %d", ErrLockBoxNotFound, id)
	}
	if !box.Active {
		e.mu.Unlock()
		return model.ReleaseEvent{}, fmt.Errorf("%w: %d", ErrAlreadyReleased, id)
	}
	if !box.IsMatured(now) {
		e.mu.Unlock()
		return model.ReleaseEvent{}, fmt.Errorf("%w: %d unlocks at %s", ErrNotMatured, id, box.UnlockAt.Format(dateLayout))
	}
	ev, err := e.account.ReleaseBox(box, now)
	if err != nil {
		e.mu.Unlock()
		return model.ReleaseEvent{}, err
	}
	l.appendReleases(ev)
	e.mu.Unlock()

	l.logRelease(ev)
	l.emit(ctx, releaseAuditEvents([]model.ReleaseEvent{ev})...)
	return ev, nil
}

// ScanAccount releases every matured lock box of one account.
func (l *Ledger) ScanAccount(ctx context.Context, username string) ([]model.ReleaseEvent, error) {
	e, err := l.lookup(username)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	released := l.releaseMatured(e.account, l.now())
	e.mu.Unlock()

	l.emit(ctx, releaseAuditEvents(released)...)
	return released, nil
}

// ScanAll releases matured lock boxes across all accounts, in
// registration order. Inactive accounts are scanned too: deactivation
// blocks logins, not maturity.
func (l *Ledger) ScanAll(ctx context.Context) []model.ReleaseEvent {
	l.mu.RLock()
	entries := append([]*entry(nil), l.order...)
	l.mu.RUnlock()

	now := l.now()
	var released []model.ReleaseEvent
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		e.mu.Lock()
		released = append(released, l.releaseMatured(e.account, now)...)
		e.mu.Unlock()
	}

	l.emit(ctx, releaseAuditEvents(released)...)
	return released
}

// releaseMatured must be called with the account's lock held.
func (l *Ledger) releaseMatured(acct *model.Account, now time.Time) []model.ReleaseEvent {
	released := acct.ReleaseMatured(now)
	if len(released) == 0 {
		return nil
	}
	l.appendReleases(released...)
	for _, ev := range released {
		l.logRelease(ev)
	}
	return released
}

func (l *Ledger) appendReleases(events ...model.ReleaseEvent) {
	l.logMu.Lock()
	l.releaseLog = append(l.releaseLog, events...)
	l.logMu.Unlock()
}

func (l *Ledger) logRelease(ev model.ReleaseEvent) {
	l.logger.Info("Lock box released",
		zap.String("username", ev.Username),
		zap.Int64("lockbox_id", ev.LockBoxID),
		zap.String("amount", ev.Amount.StringFixed(2)),
	)
}

func releaseAuditEvents(released []model.ReleaseEvent) []audit.Event {
	events := make([]audit.Event, 0, len(released))
	for _, ev := range released {
		events = append(events, audit.Event{
			Kind:      audit.KindReleaseLockBox,
			Username:  ev.Username,
			Details:   "Released at " + ev.ReleasedAt.Format(dateLayout),
			Amount:    ev.Amount,
			LockBoxID: ev.LockBoxID,
			Time:      ev.EventAt,
		})
	}
	return events
}

// Deposit credits a positive amount to the user's spendable balance.
func (l *Ledger) Deposit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	e, err := l.lookup(username)
	if err != nil {
		return decimal.Zero, err
	}

	now := l.now()

	e.mu.Lock()
	if !e.account.Active {
		e.mu.Unlock()
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountInactive, username)
	}
	if err := e.account.Deposit(amount); err != nil {
		e.mu.Unlock()
		return decimal.Zero, err
	}
	balance := e.account.Balance
	e.mu.Unlock()

	l.emit(ctx, audit.Event{
		Kind:     audit.KindBalanceUpdate,
		Username: username,
		Details:  "Deposit, new balance $" + balance.StringFixed(2),
		Amount:   amount,
		Time:     now,
	})
	return balance, nil
}

// SetAccountActive sets a user's status. A status change event is
// emitted on every call, including when the status does not change.
func (l *Ledger) SetAccountActive(ctx context.Context, username string, active bool) error {
	e, err := l.lookup(username)
	if err != nil {
		return err
	}

	e.mu.Lock()
	from := e.account.Active
	e.account.SetActive(active)
	e.mu.Unlock()

	l.emitStatusChange(ctx, username, from, active)
	return nil
}

// ToggleActive flips a user's status and returns the new value.
func (l *Ledger) ToggleActive(ctx context.Context, username string) (bool, error) {
	e, err := l.lookup(username)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	from := e.account.Active
	e.account.SetActive(!from)
	e.mu.Unlock()

	l.emitStatusChange(ctx, username, from, !from)
	return !from, nil
}

func (l *Ledger) emitStatusChange(ctx context.Context, username string, from, to bool) {
	l.logger.Info("Account status changed",
		zap.String("username", username),
		zap.Bool("active", to),
	)
	l.emit(ctx, audit.Event{
		Kind:     audit.KindUserStatusChange,
		Username: username,
		Details:  statusLabel(from) + " -> " + statusLabel(to),
		Time:     l.now(),
	})
}

func statusLabel(active bool) string {
	if active {
		return "Active"
	}
	return "Inactive"
}

// Account returns a copy of one account.
func (l *Ledger) Account(username string) (*model.Account, error) {
	e, err := l.lookup(username)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Clone(), nil
}

// Accounts returns copies of every account in registration order.
func (l *Ledger) Accounts() []*model.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*model.Account, 0, len(l.order))
	for _, e := range l.order {
		e.mu.Lock()
		out = append(out, e.account.Clone())
		e.mu.Unlock()
	}
	return out
}

// LockBoxes returns a user's lock boxes selected by filter, in creation
// order. A filter showing neither state selects nothing.
func (l *Ledger) LockBoxes(username string, filter model.LockBoxFilter) ([]model.LockBox, error) {
	e, err := l.lookup(username)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.FilterLockBoxes(filter), nil
}

// ReleaseLog returns a copy of the global release log, oldest first.
func (l *Ledger) ReleaseLog() []model.ReleaseEvent {
	l.logMu.Lock()
	defer l.logMu.Unlock()
	return append([]model.ReleaseEvent(nil), l.releaseLog...)
}

// ClearReleaseLog empties the release log and returns how many events
// were removed.
func (l *Ledger) ClearReleaseLog() int {
	l.logMu.Lock()
	n := len(l.releaseLog)
	l.releaseLog = nil
	l.logMu.Unlock()

	l.logger.Info("Release log cleared", zap.Int("events", n))
	return n
}

// Totals summarizes balances and lock boxes across all accounts.
func (l *Ledger) Totals() Totals {
	t := Totals{Balance: decimal.Zero, Locked: decimal.Zero}
	for _, a := range l.Accounts() {
		t.Accounts++
		if a.Active {
			t.ActiveAccounts++
		}
		active, _ := a.CountLockBoxes()
		t.ActiveLockBoxes += active
		t.Balance = t.Balance.Add(a.Balance)
		t.Locked = t.Locked.Add(a.LockedTotal())
	}
	return t
}

// Snapshot captures a consistent copy of the whole ledger. Every account
// is locked for the duration so no release lands between copying an
// account and copying the release log.
func (l *Ledger) Snapshot() *storage.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.order {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range l.order {
			e.mu.Unlock()
		}
	}()

	snap := &storage.Snapshot{
		Accounts:      make([]*model.Account, 0, len(l.order)),
		ReleaseLog:    l.ReleaseLog(),
		NextLockBoxID: l.seq.Peek(),
	}
	for _, e := range l.order {
		snap.Accounts = append(snap.Accounts, e.account.Clone())
	}
	return snap
}

// Restore replaces the ledger's contents with snap. Accounts whose name
// collides with the administrator or an earlier account are skipped.
func (l *Ledger) Restore(snap *storage.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*entry, len(snap.Accounts))
	l.order = make([]*entry, 0, len(snap.Accounts))

	var maxID int64
	for _, a := range snap.Accounts {
		if _, dup := l.accounts[a.Username]; dup || a.Username == l.admin.Username {
			l.logger.Warn("Skipping conflicting account on restore", zap.String("username", a.Username))
			continue
		}
		e := &entry{account: a.Clone()}
		l.accounts[a.Username] = e
		l.order = append(l.order, e)
		for _, b := range a.LockBoxes {
			if b.ID > maxID {
				maxID = b.ID
			}
		}
	}

	l.logMu.Lock()
	l.releaseLog = append([]model.ReleaseEvent(nil), snap.ReleaseLog...)
	l.logMu.Unlock()

	next := snap.NextLockBoxID
	if next <= maxID {
		next = maxID + 1
	}
	l.seq.Reseed(next)

	l.logger.Info("Ledger restored",
		zap.Int("accounts", len(l.order)),
		zap.Int("release_events", len(snap.ReleaseLog)),
		zap.Int64("next_lockbox_id", l.seq.Peek()),
	)
}
