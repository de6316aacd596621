package ledger

import "errors"

// Operation errors returned to callers. None are retried by the engine; retry
// policy, if any, belongs to the caller.
var (
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrMissingField rejects operations without the account id their type requires.
	ErrMissingField = errors.New("required account id is missing")

	// ErrSameAccount rejects transfers where source and destination coincide.
	ErrSameAccount = errors.New("transfer requires two distinct accounts")

	// ErrDestinationNotFound means the credited account does not exist.
	ErrDestinationNotFound = errors.New("destination account not found")

	// ErrInsufficientFunds means the debited account is underfunded or missing.
	// The store's single conditional update cannot tell the two apart and the
	// engine does not try to.
	ErrInsufficientFunds = errors.New("insufficient balance or account not found")

	// ErrCompensationFailed means a transfer deducted funds, the credit failed,
	// and the restoring adjustment failed too. The ledger is inconsistent and
	// needs operational intervention; never present this as an ordinary failure.
	ErrCompensationFailed = errors.New("compensation failed, ledger inconsistent")
)
