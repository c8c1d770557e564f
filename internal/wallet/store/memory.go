package store

import (
	"context"
	"fmt"
	"sync"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/common/keylock"
	"tailorhub/internal/common/money"
	"tailorhub/internal/wallet/domain"
)

// Memory is an in-process wallet store serialized per user.
type Memory struct {
	locks    *keylock.Locker
	currency money.Currency

	mu      sync.RWMutex
	wallets map[string]*domain.Wallet
}

func NewMemory(currency money.Currency) *Memory {
	return &Memory{
		locks:    keylock.New(),
		currency: currency,
		wallets:  make(map[string]*domain.Wallet),
	}
}

var _ Store = (*Memory)(nil)

func (s *Memory) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.Receipt, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("locking wallet %s: %w", userID, err))
	}
	defer unlock()

	s.mu.RLock()
	current, ok := s.wallets[userID]
	s.mu.RUnlock()
	if !ok {
		current = domain.Empty(userID)
		current.Currency = s.currency
	}

	next := current.Clone()
	entry, err := fn(next)
	if err != nil {
		return nil, err
	}
	if current.HasReference(entry.Reference) {
		return nil, fmt.Errorf("wallet %s reference %s: %w", userID, entry.Reference, ErrDuplicateReference)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(err)
	}

	s.mu.Lock()
	s.wallets[userID] = next
	s.mu.Unlock()

	return &domain.Receipt{Transaction: *entry, Balance: next.Balance}, nil
}

func (s *Memory) Get(_ context.Context, userID string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", userID, database.ErrNotFound)
	}
	return w.Clone(), nil
}
