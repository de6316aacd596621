package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType discriminates the three money movements.
type TransactionType string

const (
	TypeDeposit  TransactionType = "deposit"
	TypeWithdraw TransactionType = "withdraw"
	TypeTransfer TransactionType = "transfer"
)

// TransactionStatus is the lifecycle state of a recorded transaction.
// Records are written only after their balance mutations commit, so every
// stored transaction is completed.
type TransactionStatus string

const StatusCompleted TransactionStatus = "completed"

// Transaction is an immutable record of a money movement that actually
// happened. FromAccount and ToAccount are set according to the type:
// deposits carry only a destination, withdrawals only a source, transfers both.
type Transaction struct {
	ID             string            `json:"id"`
	Type           TransactionType   `json:"type"`
	FromAccount    string            `json:"from_account,omitempty"`
	ToAccount      string            `json:"to_account,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	PerformedBy    string            `json:"performed_by"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}
