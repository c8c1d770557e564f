package store

import (
	"context"
	"fmt"
	"sync"

	"tailorhub/internal/common/database"
	"tailorhub/internal/payment/domain"
)

type Memory struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
	topUps   map[string]domain.TopUp
}

func NewMemory() *Memory {
	return &Memory{
		payments: make(map[string]domain.Payment),
		topUps:   make(map[string]domain.TopUp),
	}
}

var _ Store = (*Memory)(nil)

func (s *Memory) Get(_ context.Context, paymentID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, database.ErrNotFound)
	}
	return &p, nil
}

func (s *Memory) Insert(ctx context.Context, p *domain.Payment) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.PaymentID]; ok {
		return false, nil
	}
	s.payments[p.PaymentID] = *p
	return true, nil
}

func (s *Memory) CreateTopUp(ctx context.Context, t *domain.TopUp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topUps[t.ID]; ok {
		return fmt.Errorf("top-up %s already exists", t.ID)
	}
	s.topUps[t.ID] = *t
	return nil
}

func (s *Memory) GetTopUp(_ context.Context, id string) (*domain.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topUps[id]
	if !ok {
		return nil, fmt.Errorf("top-up %s: %w", id, database.ErrNotFound)
	}
	return &t, nil
}
