package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/smartbank/ledger-core/internal/models"
)

// Operation is the closed set of money movements the engine executes. Each
// variant carries only the fields its type needs, so a deposit with a source
// account is unrepresentable.
type Operation interface {
	Type() models.TransactionType
	isOperation()
}

// Deposit credits Amount to the To account.
type Deposit struct {
	To             string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Withdraw debits Amount from the From account if it has sufficient balance.
type Withdraw struct {
	From           string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Transfer moves Amount from From to To.
type Transfer struct {
	From           string
	To             string
	Amount         decimal.Decimal
	IdempotencyKey string
}

func (Deposit) Type() models.TransactionType  { return models.TypeDeposit }
func (Withdraw) Type() models.TransactionType { return models.TypeWithdraw }
func (Transfer) Type() models.TransactionType { return models.TypeTransfer }

func (Deposit) isOperation()  {}
func (Withdraw) isOperation() {}
func (Transfer) isOperation() {}

func idempotencyKey(op Operation) string {
	switch v := op.(type) {
	case Deposit:
		return v.IdempotencyKey
	case Withdraw:
		return v.IdempotencyKey
	case Transfer:
		return v.IdempotencyKey
	}
	return ""
}

// auditDetails flattens an operation into the details map recorded with its
// audit event. Amounts are stringified to keep the payload backend-agnostic.
func auditDetails(op Operation) map[string]any {
	switch v := op.(type) {
	case Deposit:
		return map[string]any{"to": v.To, "amount": v.Amount.String()}
	case Withdraw:
		return map[string]any{"from": v.From, "amount": v.Amount.String()}
	case Transfer:
		return map[string]any{"from": v.From, "to": v.To, "amount": v.Amount.String()}
	}
	return map[string]any{}
}
