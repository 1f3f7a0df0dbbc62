package cards

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]*Card
}

// NewMemoryRepository constructs an in-memory card repository for tests and
// dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]*Card)}
}

func (r *memoryRepository) Create(_ context.Context, card *Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[card.ID] = copyCard(card)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.storage[id]
	if !ok {
		return nil, ErrCardNotFound
	}
	return copyCard(card), nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Card
	for _, card := range r.storage {
		if card.UserID == userID {
			out = append(out, *copyCard(card))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) HasOpenCard(_ context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, card := range r.storage {
		if card.UserID == userID && (card.Status == StatusActive || card.Status == StatusFrozen) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) Update(_ context.Context, card *Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[card.ID]; !ok {
		return ErrCardNotFound
	}
	r.storage[card.ID] = copyCard(card)
	return nil
}

func copyCard(card *Card) *Card {
	dup := *card
	dup.Controls.AllowedCategories = append([]MerchantCategory(nil), card.Controls.AllowedCategories...)
	dup.Controls.BlockedCategories = append([]MerchantCategory(nil), card.Controls.BlockedCategories...)
	return &dup
}

type memoryTransactionLog struct {
	mu      sync.RWMutex
	storage map[string]*Transaction
	order   []string
}

// NewMemoryTransactionLog constructs an in-memory decision log for tests and
// dev mode.
func NewMemoryTransactionLog() TransactionLog {
	return &memoryTransactionLog{storage: make(map[string]*Transaction)}
}

func (l *memoryTransactionLog) Record(_ context.Context, tx *Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dup := *tx
	l.storage[tx.ID] = &dup
	l.order = append(l.order, tx.ID)
	return nil
}

func (l *memoryTransactionLog) Get(_ context.Context, id string) (*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.storage[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	dup := *tx
	return &dup, nil
}

func (l *memoryTransactionLog) ListByCard(_ context.Context, cardID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		tx := l.storage[l.order[i]]
		if tx.CardID == cardID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (l *memoryTransactionLog) ApprovedSince(_ context.Context, cardID string, since time.Time) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for i := len(l.order) - 1; i >= 0; i-- {
		tx := l.storage[l.order[i]]
		if tx.CardID == cardID && tx.Status == TxApproved && !tx.CreatedAt.Before(since) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (l *memoryTransactionLog) SumApproved(_ context.Context, cardID string, from, to time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, tx := range l.storage {
		if tx.CardID != cardID || tx.Status != TxApproved {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		total += tx.Amount
	}
	return total, nil
}

func (l *memoryTransactionLog) MarkReversed(_ context.Context, id string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.storage[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	switch tx.Status {
	case TxReversed:
		return nil, ErrAlreadyReversed
	case TxApproved:
		tx.Status = TxReversed
		dup := *tx
		return &dup, nil
	default:
		return nil, ErrNotReversible
	}
}

func (l *memoryTransactionLog) FraudDeclines(_ context.Context, userID string, since time.Time) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for i := len(l.order) - 1; i >= 0; i-- {
		tx := l.storage[l.order[i]]
		if tx.UserID == userID && tx.Status == TxDeclined &&
			tx.DeclineReason == DeclineSuspectedFraud && !tx.CreatedAt.Before(since) {
			out = append(out, *tx)
		}
	}
	return out, nil
}
