package model

import (
	"errors"
	"fmt"
)

// Errors returned by lock box and account operations.
var (
	// ErrInvalidAmount is returned when an amount is zero, negative or
	// cannot be covered by the balance.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when an amount exceeds the balance.
	// It matches ErrInvalidAmount under errors.Is.
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrInvalidAmount)

	// ErrAlreadyReleased is returned when releasing a box a second time.
	ErrAlreadyReleased = errors.New("lock box already released")
)
