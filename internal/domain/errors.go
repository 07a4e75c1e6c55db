package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrAlreadySold         = errors.New("item already sold")
	ErrSelfPurchase        = errors.New("cannot purchase own item")
	ErrTransportFailure    = errors.New("ledger transport failure")
	ErrSimulationFailure   = errors.New("transaction simulation failed")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrReadOnly is returned for mutations when no wallet is configured. It is
// an ErrUnauthorized: there is no caller identity to submit as.
var ErrReadOnly = fmt.Errorf("%w: no wallet configured", ErrUnauthorized)
