package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/axzora/happy-paisa/internal/ledger"
)

type memoryDirectory struct {
	mu      sync.RWMutex
	storage map[string]Binding
}

// NewMemoryDirectory constructs an in-memory directory for tests and dev
// mode.
func NewMemoryDirectory() Directory {
	return &memoryDirectory{storage: make(map[string]Binding)}
}

func (d *memoryDirectory) GetOrCreate(_ context.Context, userID string) (Binding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if binding, ok := d.storage[userID]; ok {
		return binding, nil
	}
	now := time.Now().UTC()
	binding := Binding{
		UserID:       userID,
		Address:      ledger.NewAddress(),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	d.storage[userID] = binding
	return binding, nil
}

func (d *memoryDirectory) Get(_ context.Context, userID string) (Binding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	binding, ok := d.storage[userID]
	if !ok {
		return Binding{}, ErrUnknownUser
	}
	return binding, nil
}

func (d *memoryDirectory) Touch(_ context.Context, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	binding, ok := d.storage[userID]
	if !ok {
		return ErrUnknownUser
	}
	if at.After(binding.LastActiveAt) {
		binding.LastActiveAt = at.UTC()
		d.storage[userID] = binding
	}
	return nil
}

func (d *memoryDirectory) ListActiveSince(_ context.Context, since time.Time, limit int) ([]Binding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Binding
	for _, binding := range d.storage {
		if !binding.LastActiveAt.Before(since) {
			out = append(out, binding)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
