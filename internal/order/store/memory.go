package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/common/keylock"
	"tailorhub/internal/order/domain"
)

// Memory is an in-process order store serialized per order id.
type Memory struct {
	locks *keylock.Locker

	mu        sync.RWMutex
	orders    map[string]*domain.Order
	byPayment map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		locks:     keylock.New(),
		orders:    make(map[string]*domain.Order),
		byPayment: make(map[string]string),
	}
}

var _ Store = (*Memory)(nil)

func (s *Memory) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return apperr.Validation("order %s already exists", o.ID)
	}
	if o.PaymentID != "" {
		if _, taken := s.byPayment[o.PaymentID]; taken {
			return fmt.Errorf("order %s: payment %s already attached to another order: %w",
				o.ID, o.PaymentID, apperr.ErrInvalidTransition)
		}
		s.byPayment[o.PaymentID] = o.ID
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Memory) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, database.ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *Memory) GetByPaymentID(_ context.Context, paymentID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPayment[paymentID]
	if !ok {
		return nil, fmt.Errorf("order with payment %s: %w", paymentID, database.ErrNotFound)
	}
	return s.orders[id].Clone(), nil
}

func (s *Memory) LatestByCustomerAndStatus(_ context.Context, customerID string, status domain.Status) (*domain.Order, error) {
	orders := s.filter(func(o *domain.Order) bool {
		return o.CustomerID == customerID && o.Status == status
	})
	if len(orders) == 0 {
		return nil, fmt.Errorf("%s order for customer %s: %w", status, customerID, database.ErrNotFound)
	}
	return orders[0], nil
}

func (s *Memory) ListByCustomer(_ context.Context, customerID string) ([]*domain.Order, error) {
	return s.filter(func(o *domain.Order) bool { return o.CustomerID == customerID }), nil
}

func (s *Memory) ListAll(_ context.Context) ([]*domain.Order, error) {
	return s.filter(func(*domain.Order) bool { return true }), nil
}

func (s *Memory) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("locking order %s: %w", id, err))
	}
	defer unlock()

	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previousPayment := o.PaymentID

	changed, err := fn(o)
	if err != nil {
		return nil, err
	}
	if !changed {
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o.PaymentID != previousPayment {
		if owner, taken := s.byPayment[o.PaymentID]; taken && owner != id {
			return nil, fmt.Errorf("order %s: payment %s already attached to another order: %w",
				id, o.PaymentID, apperr.ErrInvalidTransition)
		}
		s.byPayment[o.PaymentID] = id
	}
	s.orders[id] = o.Clone()
	return o, nil
}

func (s *Memory) filter(keep func(*domain.Order) bool) []*domain.Order {
	s.mu.RLock()
	out := []*domain.Order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
