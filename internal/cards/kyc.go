package cards

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrKYCRequired indicates the user has not cleared KYC review, a hard
// precondition for card issuance.
var ErrKYCRequired = errors.New("kyc approval required for card issuance")

// ApprovalSource answers whether a user cleared KYC for card issuance. The
// review pipeline itself lives outside this service; only the outcome is
// consumed here.
type ApprovalSource interface {
	Approved(ctx context.Context, userID string) (bool, error)
}

// StaticApprovals is an in-memory approval source for tests and dev mode.
type StaticApprovals struct {
	mu       sync.RWMutex
	approved map[string]struct{}
}

// NewStaticApprovals constructs a source pre-approving the given users.
func NewStaticApprovals(userIDs ...string) *StaticApprovals {
	s := &StaticApprovals{approved: make(map[string]struct{}, len(userIDs))}
	for _, id := range userIDs {
		s.approved[id] = struct{}{}
	}
	return s
}

// Approve marks the user as KYC-approved.
func (s *StaticApprovals) Approve(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[userID] = struct{}{}
}

// Revoke removes the user's approval.
func (s *StaticApprovals) Revoke(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.approved, userID)
}

// Approved reports whether the user was marked approved.
func (s *StaticApprovals) Approved(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.approved[userID]
	return ok, nil
}

// OpenApprovals clears every user. Development environments run without a
// KYC pipeline, so issuance would otherwise be impossible there.
type OpenApprovals struct{}

// Approved always reports true.
func (OpenApprovals) Approved(context.Context, string) (bool, error) {
	return true, nil
}

// PostgresApprovals reads KYC review outcomes from PostgreSQL.
type PostgresApprovals struct {
	db *pgxpool.Pool
}

// NewPostgresApprovals builds an approval source backed by PostgreSQL.
func NewPostgresApprovals(db *pgxpool.Pool) *PostgresApprovals {
	return &PostgresApprovals{db: db}
}

// Approved reports whether the user's KYC record reached the approved state.
// Users with no record at all are simply not approved.
func (p *PostgresApprovals) Approved(ctx context.Context, userID string) (bool, error) {
	var approved bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_kyc
        WHERE user_id = $1 AND kyc_status = 'approved')`, userID).Scan(&approved)
	return approved, err
}
