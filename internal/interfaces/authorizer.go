package interfaces

import "github.com/smartbank/ledger-core/internal/models"

// Authorizer decides whether a principal may perform an operation. Invoked at
// the boundary of every engine operation, before any validation or mutation.
type Authorizer interface {
	Allows(principal models.Principal, op models.TransactionType) error
}
