package wallet

import (
	"time"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/money"
)

// Binding ties a user to their chain address. Addresses are derived once,
// on first use, and never change.
type Binding struct {
	UserID       string
	Address      string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// TransactionSummary is the projection's compact view of a journal row.
type TransactionSummary struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	AmountHP  string    `json:"amount_hp"`
	Direction string    `json:"direction"`
	Category  string    `json:"category,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// View is the cached balance projection for one user. BalancePlanck is
// encoded as a JSON string because planck amounts exceed the integer range
// a JSON number can carry safely.
type View struct {
	UserID             string               `json:"user_id"`
	Address            string               `json:"address"`
	BalancePlanck      int64                `json:"balance_planck,string"`
	BalanceHP          string               `json:"balance_hp"`
	INREquivalent      string               `json:"inr_equivalent"`
	SpendingByCategory map[string]int64     `json:"spending_by_category"`
	RecentTransactions []TransactionSummary `json:"recent_transactions"`
	AsOf               time.Time            `json:"as_of"`
	Stale              bool                 `json:"stale"`
}

func summarize(tx *ledger.Transaction, address string) TransactionSummary {
	direction := "in"
	if tx.From == address {
		direction = "out"
	}
	at := tx.SubmittedAt
	if tx.SettledAt != nil {
		at = *tx.SettledAt
	}
	return TransactionSummary{
		Hash:      tx.Hash,
		Kind:      string(tx.Kind),
		AmountHP:  money.PlanckToHP(tx.Amount).String(),
		Direction: direction,
		Category:  tx.Category,
		Status:    string(tx.Status),
		Timestamp: at,
	}
}
