package ledger

import (
	"errors"

	"github.com/n3tuk/time-locked-savings/internal/model"
	"github.com/n3tuk/time-locked-savings/internal/storage"
)

// Errors returned by ledger operations. A failed operation leaves the
// ledger unchanged.
var (
	ErrInvalidAmount      = model.ErrInvalidAmount
	ErrInsufficientFunds  = model.ErrInsufficientFunds
	ErrAlreadyReleased    = model.ErrAlreadyReleased
	ErrPersistenceCorrupt = storage.ErrPersistenceCorrupt

	ErrNotMatured        = errors.New("lock box has not matured")
	ErrLockBoxNotFound   = errors.New("lock box not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrInvalidUnlockTime = errors.New("unlock time is in the past")
)
