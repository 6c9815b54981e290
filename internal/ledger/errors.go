package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a freeze asks for more cash
	// than is available. A business-rule rejection, not a fault.
	ErrInsufficientFunds = errors.New("ledger: insufficient available balance")

	// ErrInsufficientShares is returned when a share freeze asks for more
	// shares than are available.
	ErrInsufficientShares = errors.New("ledger: insufficient available shares")

	// ErrInvariant signals a corrupted or concurrently-modified ledger
	// state, e.g. debiting more than is frozen. Logic-fatal: it must never
	// occur if the freeze/confirm protocol is followed, and the ledger never
	// attempts automatic repair.
	ErrInvariant = errors.New("ledger: invariant violation")

	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrAlreadyExists is returned when creating a record that is already
	// present.
	ErrAlreadyExists = errors.New("ledger: record already exists")

	// ErrNonPositive rejects zero or negative mutation amounts.
	ErrNonPositive = errors.New("ledger: amount must be positive")
)
