package interfaces

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smartbank/ledger-core/internal/models"
)

var (
	// ErrNotFound is returned by plain reads when no record exists.
	ErrNotFound = errors.New("record not found")

	// ErrNoMatch is returned by ConditionalAdjust when no account matched the
	// id and condition together. A store backed by a single atomic
	// read-check-write cannot tell a missing account apart from a failed
	// balance condition, so the two cases are deliberately conflated; the
	// engine recovers the right error kind from the condition it passed.
	ErrNoMatch = errors.New("no account matched id and condition")

	// ErrDuplicate is returned when a unique constraint is violated
	// (user email, transaction idempotency key).
	ErrDuplicate = errors.New("duplicate record")
)

// Condition gates a balance adjustment. The zero value is unconditional;
// use BalanceAtLeast to require a minimum balance before the adjustment.
type Condition struct {
	minBalance decimal.Decimal
	gated      bool
}

// Always applies the adjustment whenever the account exists.
func Always() Condition { return Condition{} }

// BalanceAtLeast applies the adjustment only if balance >= min at the moment
// of the update.
func BalanceAtLeast(min decimal.Decimal) Condition {
	return Condition{minBalance: min, gated: true}
}

// Gated reports the minimum balance requirement, if any.
func (c Condition) Gated() (decimal.Decimal, bool) { return c.minBalance, c.gated }

// AccountStore is durable keyed storage of account balances. ConditionalAdjust
// is the sole concurrency-safety primitive the ledger engine relies on: the
// check and the increment must be one atomic operation on the store side.
type AccountStore interface {
	Create(ctx context.Context, account models.Account) (models.Account, error)
	Get(ctx context.Context, id string) (models.Account, error)
	ByOwner(ctx context.Context, ownerID string) (models.Account, error)

	// ConditionalAdjust atomically applies balance += delta if cond holds for
	// the current document, returning the updated account. ErrNoMatch when the
	// account is missing or the condition fails.
	ConditionalAdjust(ctx context.Context, id string, delta decimal.Decimal, cond Condition) (models.Account, error)
}
