package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrCardNotFound indicates the card id is unknown.
	ErrCardNotFound = errors.New("card not found")

	// ErrTransactionNotFound indicates the card transaction id is unknown.
	ErrTransactionNotFound = errors.New("card transaction not found")

	// ErrAlreadyReversed indicates the transaction was reversed before.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrNotReversible indicates the transaction never moved money, so there
	// is nothing to reverse.
	ErrNotReversible = errors.New("only approved transactions can be reversed")
)

// Repository persists cards.
type Repository interface {
	Create(ctx context.Context, card *Card) error
	Get(ctx context.Context, id string) (*Card, error)
	ListByUser(ctx context.Context, userID string) ([]Card, error)
	// HasOpenCard reports whether the user holds a card in status active or
	// frozen, the states that block issuing another one.
	HasOpenCard(ctx context.Context, userID string) (bool, error)
	Update(ctx context.Context, card *Card) error
}

// TransactionLog persists authorization decisions. Approved rows double as
// the spend history the limit windows sum over.
type TransactionLog interface {
	Record(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	ListByCard(ctx context.Context, cardID string, limit int) ([]Transaction, error)
	// ApprovedSince returns the card's approved transactions newer than
	// since, newest first. Feeds the fraud rules.
	ApprovedSince(ctx context.Context, cardID string, since time.Time) ([]Transaction, error)
	// SumApproved totals approved spend in [from, to).
	SumApproved(ctx context.Context, cardID string, from, to time.Time) (int64, error)
	// MarkReversed flips an approved row to reversed exactly once and
	// returns the stored row. Repeats get ErrAlreadyReversed; declined rows
	// get ErrNotReversible.
	MarkReversed(ctx context.Context, id string) (*Transaction, error)
	// FraudDeclines lists the user's transactions declined for suspected
	// fraud since the given time, newest first.
	FraudDeclines(ctx context.Context, userID string, since time.Time) ([]Transaction, error)
}

// PostgresRepository stores cards in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a card repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const cardColumns = `id, user_id, address, masked_pan, pan_hash, cvv_hash, expiry_month, expiry_year,
    cardholder_name, status, balance, controls, timezone, created_at, updated_at, last_used_at`

// Create inserts a card record.
func (r *PostgresRepository) Create(ctx context.Context, card *Card) error {
	controls, err := json.Marshal(card.Controls)
	if err != nil {
		return fmt.Errorf("encode controls: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO virtual_cards (`+cardColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		card.ID, card.UserID, card.Address, card.MaskedPAN, card.PANHash, card.CVVHash,
		card.ExpiryMonth, card.ExpiryYear, card.CardholderName, string(card.Status), card.Balance,
		controls, card.Timezone, card.CreatedAt.UTC(), card.UpdatedAt.UTC(), nullableTime(card.LastUsedAt))
	return err
}

// Get fetches a card by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Card, error) {
	row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM virtual_cards WHERE id = $1`, id)
	card, err := scanCard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	return card, err
}

// ListByUser returns the user's cards, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Card, error) {
	rows, err := r.db.Query(ctx, `SELECT `+cardColumns+` FROM virtual_cards
        WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *card)
	}
	return out, rows.Err()
}

// HasOpenCard reports whether the user holds an active or frozen card.
func (r *PostgresRepository) HasOpenCard(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM virtual_cards
        WHERE user_id = $1 AND status IN ($2, $3))`,
		userID, string(StatusActive), string(StatusFrozen)).Scan(&exists)
	return exists, err
}

// Update persists the card's mutable fields.
func (r *PostgresRepository) Update(ctx context.Context, card *Card) error {
	controls, err := json.Marshal(card.Controls)
	if err != nil {
		return fmt.Errorf("encode controls: %w", err)
	}
	ct, err := r.db.Exec(ctx, `UPDATE virtual_cards
        SET status = $2, balance = $3, controls = $4, updated_at = $5, last_used_at = $6
        WHERE id = $1`,
		card.ID, string(card.Status), card.Balance, controls, card.UpdatedAt.UTC(), nullableTime(card.LastUsedAt))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func scanCard(row pgx.Row) (*Card, error) {
	var card Card
	var status string
	var controls []byte
	var lastUsed *time.Time
	if err := row.Scan(&card.ID, &card.UserID, &card.Address, &card.MaskedPAN, &card.PANHash, &card.CVVHash,
		&card.ExpiryMonth, &card.ExpiryYear, &card.CardholderName, &status, &card.Balance,
		&controls, &card.Timezone, &card.CreatedAt, &card.UpdatedAt, &lastUsed); err != nil {
		return nil, err
	}
	card.Status = Status(status)
	if len(controls) > 0 {
		if err := json.Unmarshal(controls, &card.Controls); err != nil {
			return nil, fmt.Errorf("decode controls: %w", err)
		}
	}
	if lastUsed != nil {
		card.LastUsedAt = *lastUsed
	}
	return &card, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// PostgresTransactionLog stores authorization decisions in PostgreSQL.
type PostgresTransactionLog struct {
	db *pgxpool.Pool
}

// NewPostgresTransactionLog builds a transaction log backed by PostgreSQL.
func NewPostgresTransactionLog(db *pgxpool.Pool) *PostgresTransactionLog {
	return &PostgresTransactionLog{db: db}
}

const cardTxColumns = `id, card_id, user_id, amount, merchant_name, merchant_category, description,
    location, status, decline_reason, response_code, authorization_code, reference_number,
    fraud_score, created_at`

// Record inserts a decision row.
func (l *PostgresTransactionLog) Record(ctx context.Context, tx *Transaction) error {
	_, err := l.db.Exec(ctx, `INSERT INTO card_transactions (`+cardTxColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		tx.ID, tx.CardID, tx.UserID, tx.Amount, tx.MerchantName, string(tx.MerchantCategory),
		tx.Description, tx.Location, string(tx.Status), tx.DeclineReason, tx.ResponseCode,
		tx.AuthorizationCode, tx.ReferenceNumber, tx.FraudScore, tx.CreatedAt.UTC())
	return err
}

// Get fetches a decision row by id.
func (l *PostgresTransactionLog) Get(ctx context.Context, id string) (*Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT `+cardTxColumns+` FROM card_transactions WHERE id = $1`, id)
	tx, err := scanCardTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

// ListByCard returns the card's decisions, newest first.
func (l *PostgresTransactionLog) ListByCard(ctx context.Context, cardID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, `SELECT `+cardTxColumns+` FROM card_transactions
        WHERE card_id = $1 ORDER BY created_at DESC LIMIT $2`, cardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCardTxs(rows)
}

// ApprovedSince returns approved rows newer than since, newest first.
func (l *PostgresTransactionLog) ApprovedSince(ctx context.Context, cardID string, since time.Time) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+cardTxColumns+` FROM card_transactions
        WHERE card_id = $1 AND status = $2 AND created_at >= $3
        ORDER BY created_at DESC`, cardID, string(TxApproved), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCardTxs(rows)
}

// SumApproved totals approved spend in [from, to).
func (l *PostgresTransactionLog) SumApproved(ctx context.Context, cardID string, from, to time.Time) (int64, error) {
	var total int64
	if err := l.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM card_transactions
        WHERE card_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4`,
		cardID, string(TxApproved), from.UTC(), to.UTC()).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// MarkReversed flips an approved row to reversed; first flip wins.
func (l *PostgresTransactionLog) MarkReversed(ctx context.Context, id string) (*Transaction, error) {
	ct, err := l.db.Exec(ctx, `UPDATE card_transactions SET status = $2
        WHERE id = $1 AND status = $3`, id, string(TxReversed), string(TxApproved))
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		tx, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx.Status == TxReversed {
			return nil, ErrAlreadyReversed
		}
		return nil, ErrNotReversible
	}
	return l.Get(ctx, id)
}

// FraudDeclines lists fraud-declined rows for the user since the given time.
func (l *PostgresTransactionLog) FraudDeclines(ctx context.Context, userID string, since time.Time) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+cardTxColumns+` FROM card_transactions
        WHERE user_id = $1 AND status = $2 AND decline_reason = $3 AND created_at >= $4
        ORDER BY created_at DESC`, userID, string(TxDeclined), DeclineSuspectedFraud, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCardTxs(rows)
}

func scanCardTx(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	var category, status string
	if err := row.Scan(&tx.ID, &tx.CardID, &tx.UserID, &tx.Amount, &tx.MerchantName, &category,
		&tx.Description, &tx.Location, &status, &tx.DeclineReason, &tx.ResponseCode,
		&tx.AuthorizationCode, &tx.ReferenceNumber, &tx.FraudScore, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.MerchantCategory = MerchantCategory(category)
	tx.Status = TxStatus(status)
	return &tx, nil
}

func collectCardTxs(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		tx, err := scanCardTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}
