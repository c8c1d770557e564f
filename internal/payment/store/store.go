package store

import (
	"context"

	"tailorhub/internal/payment/domain"
)

// Store persists payment records. At most one record exists per payment id.
type Store interface {
	Get(ctx context.Context, paymentID string) (*domain.Payment, error)
	// Insert stores p unless a record for p.PaymentID exists and reports
	// whether it was created.
	Insert(ctx context.Context, p *domain.Payment) (bool, error)

	CreateTopUp(ctx context.Context, t *domain.TopUp) error
	GetTopUp(ctx context.Context, id string) (*domain.TopUp, error)
}
