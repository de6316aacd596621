package interfaces

import (
	"context"
	"time"

	"github.com/smartbank/ledger-core/internal/models"
)

// TransactionLog is the append-only record of completed money movements.
// No update or delete is exposed: a stored transaction is a historical fact.
type TransactionLog interface {
	// Append stores the transaction, assigning its id and creation time.
	Append(ctx context.Context, tx models.Transaction) (models.Transaction, error)

	// ByAccount returns transactions touching the account as source or
	// destination, newest first. Zero from/to bounds mean unbounded.
	ByAccount(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error)

	// FindByIdempotencyKey returns the transaction previously recorded under
	// the key, or ErrNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)
}
