// Package storage persists the savings ledger as flat, pipe-delimited
// record files.
//
// Three record sets make up a snapshot:
//
//	accounts:      username|password|balance|active(0/1)|registrationDate
//	lock boxes:    id|amount|unlockTimestamp|active(0/1)|releaseTimestamp|creationDate|ownerUsername
//	release log:   lockBoxId|releaseTimestamp|amount|username|eventTimestamp
//
// Timestamps are unix seconds; dates use "2006-01-02 15:04:05" in UTC.
// A release timestamp of 0 means the box has not been released.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/n3tuk/time-locked-savings/internal/model"
)

// ErrPersistenceCorrupt marks a record that could not be decoded. Such
// records are skipped during a load; they never abort it.
var ErrPersistenceCorrupt = errors.New("corrupt persistence record")

// Snapshot is the full entity graph of the ledger.
type Snapshot struct {
	// Accounts in registration order, each carrying its lock boxes in
	// creation order.
	Accounts []*model.Account

	// ReleaseLog is the global release audit log, oldest first.
	ReleaseLog []model.ReleaseEvent

	// NextLockBoxID is the first id the sequence may hand out.
	NextLockBoxID int64
}

// LineError describes one skipped record.
type LineError struct {
	File string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// LoadReport lists the records a load skipped.
type LoadReport struct {
	// Skipped holds one entry per malformed record.
	Skipped []*LineError

	// Orphaned counts lock boxes whose owner does not exist.
	Orphaned int
}

// Repository loads and saves snapshots.
type Repository interface {
	// Load reads the last saved snapshot. A repository that has never been
	// saved to returns an empty snapshot.
	Load(ctx context.Context) (*Snapshot, *LoadReport, error)

	// Save durably replaces the stored snapshot. A failed save must leave
	// the previously saved data intact.
	Save(ctx context.Context, snap *Snapshot) error
}
