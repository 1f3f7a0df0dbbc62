package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts in PostgreSQL. Row locks give per-address
// serialization and a balance check in the debit UPDATE keeps balances
// non-negative under concurrency.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed account store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureAccount guarantees an account row exists for the address.
func (s *PostgresStore) EnsureAccount(ctx context.Context, address string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (address, balance, nonce, created_at, updated_at)
        VALUES ($1, 0, 0, now(), now())
        ON CONFLICT (address) DO NOTHING`, address)
	return err
}

// Balance returns the planck balance, zero for unknown addresses.
func (s *PostgresStore) Balance(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE address = $1`, address).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Account fetches the full account row.
func (s *PostgresStore) Account(ctx context.Context, address string) (Account, error) {
	var acct Account
	err := s.db.QueryRow(ctx, `SELECT address, balance, nonce, created_at, updated_at
        FROM accounts WHERE address = $1`, address).
		Scan(&acct.Address, &acct.Balance, &acct.Nonce, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Apply executes the balance effects of a confirmed transaction exactly once.
func (s *PostgresStore) Apply(ctx context.Context, tx *Transaction) error {
	if !tx.Kind.Valid() {
		return fmt.Errorf("apply %s: unknown kind %q", tx.Hash, tx.Kind)
	}

	dbtx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx) // nolint:errcheck

	if err := lockAccounts(ctx, dbtx, tx.From, tx.To); err != nil {
		return err
	}

	// Claiming the hash first makes the whole apply idempotent: a replay
	// rolls back before touching balances.
	claim, err := dbtx.Exec(ctx, `INSERT INTO applied_transactions (hash, applied_at)
        VALUES ($1, now()) ON CONFLICT (hash) DO NOTHING`, tx.Hash)
	if err != nil {
		return err
	}
	if claim.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}

	switch tx.Kind {
	case KindMint:
		if err := creditAccount(ctx, dbtx, tx.To, tx.Amount, true); err != nil {
			return err
		}
	case KindBurn:
		if err := debitAccount(ctx, dbtx, tx.From, tx.Amount+tx.Fee); err != nil {
			return err
		}
	case KindTransfer:
		if err := debitAccount(ctx, dbtx, tx.From, tx.Amount+tx.Fee); err != nil {
			return err
		}
		if err := creditAccount(ctx, dbtx, tx.To, tx.Amount, false); err != nil {
			return err
		}
	}

	return dbtx.Commit(ctx)
}

// TotalIssued sums every balance.
func (s *PostgresStore) TotalIssued(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ActiveAddresses counts addresses holding a positive balance.
func (s *PostgresStore) ActiveAddresses(ctx context.Context) (int64, error) {
	var active int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE balance > 0`).Scan(&active); err != nil {
		return 0, err
	}
	return active, nil
}

// lockAccounts creates missing rows and takes row locks in sorted address
// order so concurrent applies cannot deadlock.
func lockAccounts(ctx context.Context, dbtx pgx.Tx, addresses ...string) error {
	distinct := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		distinct = append(distinct, addr)
	}
	sort.Strings(distinct)

	for _, addr := range distinct {
		if _, err := dbtx.Exec(ctx, `INSERT INTO accounts (address, balance, nonce, created_at, updated_at)
            VALUES ($1, 0, 0, now(), now())
            ON CONFLICT (address) DO NOTHING`, addr); err != nil {
			return err
		}
		var locked string
		if err := dbtx.QueryRow(ctx, `SELECT address FROM accounts WHERE address = $1 FOR UPDATE`, addr).Scan(&locked); err != nil {
			return err
		}
	}
	return nil
}

func creditAccount(ctx context.Context, dbtx pgx.Tx, address string, amount int64, bumpNonce bool) error {
	query := `UPDATE accounts SET balance = balance + $2, updated_at = now() WHERE address = $1`
	if bumpNonce {
		query = `UPDATE accounts SET balance = balance + $2, nonce = nonce + 1, updated_at = now() WHERE address = $1`
	}
	ct, err := dbtx.Exec(ctx, query, address, amount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("credit %s: %w", address, ErrAccountNotFound)
	}
	return nil
}

func debitAccount(ctx context.Context, dbtx pgx.Tx, address string, amount int64) error {
	ct, err := dbtx.Exec(ctx, `UPDATE accounts SET balance = balance - $2, nonce = nonce + 1, updated_at = now()
        WHERE address = $1 AND balance >= $2`, address, amount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// PostgresJournal persists the append-only transaction log in PostgreSQL.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

const journalColumns = `hash, kind, from_address, to_address, amount, fee, category, description,
    status, failure_reason, block_number, submitted_at, settled_at, metadata`

// Append inserts a pending row.
func (j *PostgresJournal) Append(ctx context.Context, tx *Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	ct, err := j.db.Exec(ctx, `INSERT INTO chain_transactions (`+journalColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (hash) DO NOTHING`,
		tx.Hash, string(tx.Kind), tx.From, tx.To, tx.Amount, tx.Fee, tx.Category, tx.Description,
		string(tx.Status), tx.FailureReason, tx.BlockNumber, tx.SubmittedAt.UTC(), tx.SettledAt, metadata)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

// Get fetches a row by hash.
func (j *PostgresJournal) Get(ctx context.Context, hash string) (*Transaction, error) {
	row := j.db.QueryRow(ctx, `SELECT `+journalColumns+` FROM chain_transactions WHERE hash = $1`, hash)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

// MarkConfirmed records the confirmed terminal state; first mark wins.
func (j *PostgresJournal) MarkConfirmed(ctx context.Context, hash string, settledAt time.Time, blockNumber int64) (*Transaction, error) {
	if _, err := j.db.Exec(ctx, `UPDATE chain_transactions
        SET status = $2, settled_at = $3, block_number = $4
        WHERE hash = $1 AND status = $5`,
		hash, string(StatusConfirmed), settledAt.UTC(), blockNumber, string(StatusPending)); err != nil {
		return nil, err
	}
	return j.Get(ctx, hash)
}

// MarkFailed records the failed terminal state; first mark wins.
func (j *PostgresJournal) MarkFailed(ctx context.Context, hash string, settledAt time.Time, reason string) (*Transaction, error) {
	if _, err := j.db.Exec(ctx, `UPDATE chain_transactions
        SET status = $2, settled_at = $3, failure_reason = $4
        WHERE hash = $1 AND status = $5`,
		hash, string(StatusFailed), settledAt.UTC(), reason, string(StatusPending)); err != nil {
		return nil, err
	}
	return j.Get(ctx, hash)
}

// ListByAddress returns transactions involving the address, newest first.
func (j *PostgresJournal) ListByAddress(ctx context.Context, address string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `SELECT `+journalColumns+` FROM chain_transactions
        WHERE from_address = $1 OR to_address = $1
        ORDER BY submitted_at DESC LIMIT $2`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListPending returns pending rows oldest first.
func (j *PostgresJournal) ListPending(ctx context.Context) ([]Transaction, error) {
	rows, err := j.db.Query(ctx, `SELECT `+journalColumns+` FROM chain_transactions
        WHERE status = $1 ORDER BY submitted_at ASC`, string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// CountPending counts pending rows.
func (j *PostgresJournal) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := j.db.QueryRow(ctx, `SELECT COUNT(*) FROM chain_transactions WHERE status = $1`,
		string(StatusPending)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SpendingByCategory groups confirmed debits from the address by category.
func (j *PostgresJournal) SpendingByCategory(ctx context.Context, address string, since time.Time) (map[string]int64, error) {
	rows, err := j.db.Query(ctx, `SELECT COALESCE(NULLIF(category, ''), 'uncategorized'), SUM(amount)
        FROM chain_transactions
        WHERE from_address = $1 AND status = $2 AND settled_at >= $3
        GROUP BY 1`, address, string(StatusConfirmed), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var category string
		var total int64
		if err := rows.Scan(&category, &total); err != nil {
			return nil, err
		}
		totals[category] = total
	}
	return totals, rows.Err()
}

// MaxBlockNumber returns the highest assigned block number.
func (j *PostgresJournal) MaxBlockNumber(ctx context.Context) (int64, error) {
	var max int64
	if err := j.db.QueryRow(ctx, `SELECT COALESCE(MAX(block_number), 0) FROM chain_transactions`).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	var kind, status string
	var settledAt *time.Time
	var metadata []byte
	if err := row.Scan(&tx.Hash, &kind, &tx.From, &tx.To, &tx.Amount, &tx.Fee, &tx.Category, &tx.Description,
		&status, &tx.FailureReason, &tx.BlockNumber, &tx.SubmittedAt, &settledAt, &metadata); err != nil {
		return nil, err
	}
	tx.Kind = Kind(kind)
	tx.Status = Status(status)
	tx.SettledAt = settledAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}
