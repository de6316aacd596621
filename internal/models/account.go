package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the balance for a single owner. The balance is mutated only
// through the ledger engine's conditional adjustments and never goes below zero.
type Account struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currency_code"`
	CreatedAt    time.Time       `json:"created_at"`
}
