package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	locks    map[string]*sync.Mutex
	applied  map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory store used by unit tests
// and by dev mode when no database is configured.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts: make(map[string]*Account),
		locks:    make(map[string]*sync.Mutex),
		applied:  make(map[string]struct{}),
	}
}

func (s *inMemoryStore) EnsureAccount(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(address)
	return nil
}

func (s *inMemoryStore) Balance(_ context.Context, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	if !ok {
		return 0, nil
	}
	return acct.Balance, nil
}

func (s *inMemoryStore) Account(_ context.Context, address string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acct, nil
}

func (s *inMemoryStore) Apply(_ context.Context, tx *Transaction) error {
	if !tx.Kind.Valid() {
		return fmt.Errorf("apply %s: unknown kind %q", tx.Hash, tx.Kind)
	}

	// Address locks serialize settlement per account. The struct mutex only
	// guards map and field access inside the helpers, so transactions on
	// disjoint addresses proceed concurrently.
	unlock := s.lockAddresses(tx.From, tx.To)
	defer unlock()

	if s.alreadyApplied(tx.Hash) {
		return ErrDuplicateTransaction
	}

	switch tx.Kind {
	case KindMint:
		s.credit(tx.To, tx.Amount, true)
	case KindBurn:
		if err := s.debit(tx.From, tx.Amount+tx.Fee); err != nil {
			return err
		}
	case KindTransfer:
		if err := s.debit(tx.From, tx.Amount+tx.Fee); err != nil {
			return err
		}
		s.credit(tx.To, tx.Amount, false)
	}

	s.markApplied(tx.Hash)
	return nil
}

func (s *inMemoryStore) TotalIssued(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, acct := range s.accounts {
		total += acct.Balance
	}
	return total, nil
}

func (s *inMemoryStore) ActiveAddresses(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active int64
	for _, acct := range s.accounts {
		if acct.Balance > 0 {
			active++
		}
	}
	return active, nil
}

// ensureLocked fetches or creates an account row. Callers must hold mu.
func (s *inMemoryStore) ensureLocked(address string) *Account {
	acct, ok := s.accounts[address]
	if !ok {
		now := time.Now().UTC()
		acct = &Account{Address: address, CreatedAt: now, UpdatedAt: now}
		s.accounts[address] = acct
	}
	return acct
}

func (s *inMemoryStore) alreadyApplied(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applied[hash]
	return ok
}

func (s *inMemoryStore) markApplied(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[hash] = struct{}{}
}

func (s *inMemoryStore) credit(address string, amount int64, bumpNonce bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.ensureLocked(address)
	acct.Balance += amount
	if bumpNonce {
		acct.Nonce++
	}
	acct.UpdatedAt = time.Now().UTC()
}

func (s *inMemoryStore) debit(address string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.ensureLocked(address)
	if acct.Balance < amount {
		return ErrInsufficientBalance
	}
	acct.Balance -= amount
	acct.Nonce++
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// lockAddresses acquires the per-address mutexes in sorted order so two
// transfers touching the same pair cannot deadlock.
func (s *inMemoryStore) lockAddresses(addresses ...string) func() {
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

	locked := make([]*sync.Mutex, 0, len(distinct))
	for _, addr := range distinct {
		m := s.lockFor(addr)
		m.Lock()
		locked = append(locked, m)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

func (s *inMemoryStore) lockFor(address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[address]
	if !ok {
		m = &sync.Mutex{}
		s.locks[address] = m
	}
	return m
}

type inMemoryJournal struct {
	mu    sync.RWMutex
	rows  map[string]*Transaction
	order []string
}

// NewInMemoryJournal creates an in-memory append-only journal.
func NewInMemoryJournal() Journal {
	return &inMemoryJournal{rows: make(map[string]*Transaction)}
}

func (j *inMemoryJournal) Append(_ context.Context, tx *Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.rows[tx.Hash]; exists {
		return ErrDuplicateTransaction
	}
	j.rows[tx.Hash] = tx.Copy()
	j.order = append(j.order, tx.Hash)
	return nil
}

func (j *inMemoryJournal) Get(_ context.Context, hash string) (*Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	row, ok := j.rows[hash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return row.Copy(), nil
}

func (j *inMemoryJournal) MarkConfirmed(_ context.Context, hash string, settledAt time.Time, blockNumber int64) (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	row, ok := j.rows[hash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if row.Status.Terminal() {
		return row.Copy(), nil
	}
	row.Status = StatusConfirmed
	row.SettledAt = &settledAt
	row.BlockNumber = blockNumber
	return row.Copy(), nil
}

func (j *inMemoryJournal) MarkFailed(_ context.Context, hash string, settledAt time.Time, reason string) (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	row, ok := j.rows[hash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if row.Status.Terminal() {
		return row.Copy(), nil
	}
	row.Status = StatusFailed
	row.SettledAt = &settledAt
	row.FailureReason = reason
	return row.Copy(), nil
}

func (j *inMemoryJournal) ListByAddress(_ context.Context, address string, limit int) ([]Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if limit <= 0 {
		limit = len(j.order)
	}
	out := make([]Transaction, 0, limit)
	for i := len(j.order) - 1; i >= 0 && len(out) < limit; i-- {
		row := j.rows[j.order[i]]
		if row.Involves(address) {
			out = append(out, *row.Copy())
		}
	}
	return out, nil
}

func (j *inMemoryJournal) ListPending(_ context.Context) ([]Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Transaction
	for _, hash := range j.order {
		row := j.rows[hash]
		if row.Status == StatusPending {
			out = append(out, *row.Copy())
		}
	}
	return out, nil
}

func (j *inMemoryJournal) CountPending(_ context.Context) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var count int64
	for _, row := range j.rows {
		if row.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

func (j *inMemoryJournal) SpendingByCategory(_ context.Context, address string, since time.Time) (map[string]int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	totals := make(map[string]int64)
	for _, row := range j.rows {
		if row.From != address || row.Status != StatusConfirmed {
			continue
		}
		if row.SettledAt == nil || row.SettledAt.Before(since) {
			continue
		}
		category := row.Category
		if category == "" {
			category = "uncategorized"
		}
		totals[category] += row.Amount
	}
	return totals, nil
}

func (j *inMemoryJournal) MaxBlockNumber(_ context.Context) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var max int64
	for _, row := range j.rows {
		if row.BlockNumber > max {
			max = row.BlockNumber
		}
	}
	return max, nil
}
