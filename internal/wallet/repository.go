package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axzora/happy-paisa/internal/ledger"
)

// ErrUnknownUser indicates a user with no address binding.
var ErrUnknownUser = errors.New("unknown user")

// Directory persists user to chain address bindings.
type Directory interface {
	// GetOrCreate returns the user's binding, deriving a fresh address on
	// first use.
	GetOrCreate(ctx context.Context, userID string) (Binding, error)
	// Get returns the binding, ErrUnknownUser when absent.
	Get(ctx context.Context, userID string) (Binding, error)
	// Touch records user activity for the background refresher.
	Touch(ctx context.Context, userID string, at time.Time) error
	// ListActiveSince returns bindings active at or after the cutoff, most
	// recent first, at most limit rows.
	ListActiveSince(ctx context.Context, since time.Time, limit int) ([]Binding, error)
}

// PostgresDirectory stores bindings in PostgreSQL.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory builds a directory backed by PostgreSQL.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetOrCreate inserts a new binding unless the user already has one. A
// concurrent first use races on the primary key; the loser reads the
// winner's row.
func (d *PostgresDirectory) GetOrCreate(ctx context.Context, userID string) (Binding, error) {
	now := time.Now().UTC()
	candidate := Binding{
		UserID:       userID,
		Address:      ledger.NewAddress(),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	tag, err := d.db.Exec(ctx, `INSERT INTO wallet_addresses (user_id, address, created_at, last_active_at)
        VALUES ($1, $2, $3, $4) ON CONFLICT (user_id) DO NOTHING`,
		candidate.UserID, candidate.Address, candidate.CreatedAt, candidate.LastActiveAt)
	if err != nil {
		return Binding{}, err
	}
	if tag.RowsAffected() == 1 {
		return candidate, nil
	}
	return d.Get(ctx, userID)
}

// Get fetches a binding by user id.
func (d *PostgresDirectory) Get(ctx context.Context, userID string) (Binding, error) {
	row := d.db.QueryRow(ctx, `SELECT user_id, address, created_at, last_active_at
        FROM wallet_addresses WHERE user_id = $1`, userID)
	var b Binding
	if err := row.Scan(&b.UserID, &b.Address, &b.CreatedAt, &b.LastActiveAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Binding{}, ErrUnknownUser
		}
		return Binding{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.LastActiveAt = b.LastActiveAt.UTC()
	return b, nil
}

// Touch bumps the activity timestamp.
func (d *PostgresDirectory) Touch(ctx context.Context, userID string, at time.Time) error {
	_, err := d.db.Exec(ctx, `UPDATE wallet_addresses SET last_active_at = $2
        WHERE user_id = $1 AND last_active_at < $2`, userID, at.UTC())
	return err
}

// ListActiveSince returns recently active bindings, most recent first.
func (d *PostgresDirectory) ListActiveSince(ctx context.Context, since time.Time, limit int) ([]Binding, error) {
	rows, err := d.db.Query(ctx, `SELECT user_id, address, created_at, last_active_at
        FROM wallet_addresses WHERE last_active_at >= $1
        ORDER BY last_active_at DESC LIMIT $2`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.UserID, &b.Address, &b.CreatedAt, &b.LastActiveAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		b.LastActiveAt = b.LastActiveAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
