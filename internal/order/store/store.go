package store

import (
	"context"

	"tailorhub/internal/order/domain"
)

// UpdateFunc mutates o in place and reports whether anything changed. An
// error or an unchanged result leaves the stored order as it was.
type UpdateFunc func(o *domain.Order) (bool, error)

// Store persists orders. Update is serialized per order id; reads never
// block writers on other orders. Lists are newest first.
type Store interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	LatestByCustomerAndStatus(ctx context.Context, customerID string, status domain.Status) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	ListAll(ctx context.Context) ([]*domain.Order, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, error)
}
