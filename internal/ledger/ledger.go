package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientBalance occurs when the source address lacks the funds
	// to cover a debit. Account balances never go below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateTransaction indicates the transaction hash was already
	// applied and the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrTransactionNotFound indicates an unknown transaction hash.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound indicates an address with no account row.
	ErrAccountNotFound = errors.New("account not found")
)

// Account is an address-keyed balance row. Balance is planck.
type Account struct {
	Address   string
	Balance   int64
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store holds account balances and is the only component allowed to mutate
// them. Apply is idempotent by transaction hash and serialized per address,
// so concurrent settlements never interleave a read-modify-write.
type Store interface {
	// EnsureAccount creates a zero-balance account if none exists.
	EnsureAccount(ctx context.Context, address string) error
	// Balance returns the planck balance, zero for unknown addresses.
	Balance(ctx context.Context, address string) (int64, error)
	// Account returns the full account row, ErrAccountNotFound when absent.
	Account(ctx context.Context, address string) (Account, error)
	// Apply executes the balance effects of a confirmed transaction exactly
	// once. Re-applying a hash returns ErrDuplicateTransaction and changes
	// nothing. A debit that would go negative returns ErrInsufficientBalance
	// and changes nothing.
	Apply(ctx context.Context, tx *Transaction) error
	// TotalIssued returns the sum of all balances (burned fees are gone).
	TotalIssued(ctx context.Context) (int64, error)
	// ActiveAddresses counts addresses holding a positive balance.
	ActiveAddresses(ctx context.Context) (int64, error)
}

// Journal is the append-only transaction log. Rows are owned by the
// settlement processor until terminal, then immutable.
type Journal interface {
	// Append inserts a pending row; a reused hash returns
	// ErrDuplicateTransaction.
	Append(ctx context.Context, tx *Transaction) error
	// Get returns the row for the hash, ErrTransactionNotFound on a miss.
	Get(ctx context.Context, hash string) (*Transaction, error)
	// MarkConfirmed records the terminal confirmed state. The first terminal
	// mark wins: marking an already-terminal row returns it unchanged.
	MarkConfirmed(ctx context.Context, hash string, settledAt time.Time, blockNumber int64) (*Transaction, error)
	// MarkFailed records the terminal failed state with a reason. Same
	// first-mark-wins contract as MarkConfirmed.
	MarkFailed(ctx context.Context, hash string, settledAt time.Time, reason string) (*Transaction, error)
	// ListByAddress returns transactions involving the address, newest
	// first, at most limit rows.
	ListByAddress(ctx context.Context, address string, limit int) ([]Transaction, error)
	// ListPending returns all pending rows, oldest first.
	ListPending(ctx context.Context) ([]Transaction, error)
	// CountPending returns the number of pending rows.
	CountPending(ctx context.Context) (int64, error)
	// SpendingByCategory sums confirmed debits from the address settled at
	// or after since, grouped by category.
	SpendingByCategory(ctx context.Context, address string, since time.Time) (map[string]int64, error)
	// MaxBlockNumber returns the highest assigned block number.
	MaxBlockNumber(ctx context.Context) (int64, error)
}
