package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/payment/domain"
)

// Postgres stores payments in the payments table.
type Postgres struct {
	db *database.DB
}

func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var p domain.Payment
	err := s.db.QueryRow(ctx, `
		SELECT payment_id, COALESCE(order_id, ''), customer_id, COALESCE(signature, ''),
			   mode, purpose, amount, status, created_at
		FROM payments
		WHERE payment_id = $1
	`, paymentID).Scan(
		&p.PaymentID, &p.OrderID, &p.CustomerID, &p.Signature,
		&p.Mode, &p.Purpose, &p.Amount, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentID, database.ErrNotFound)
		}
		return nil, apperr.Storage("getting payment", err)
	}
	return &p, nil
}

func (s *Postgres) Insert(ctx context.Context, p *domain.Payment) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO payments (
			payment_id, order_id, customer_id, signature, mode, purpose, amount, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_id) DO NOTHING
	`,
		p.PaymentID,
		nullable(p.OrderID),
		p.CustomerID,
		nullable(p.Signature),
		p.Mode,
		p.Purpose,
		p.Amount,
		p.Status,
		p.CreatedAt,
	)
	if err != nil {
		return false, apperr.Storage("inserting payment", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) CreateTopUp(ctx context.Context, t *domain.TopUp) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO wallet_topups (id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.UserID, t.Amount, t.CreatedAt)
	if err != nil {
		return apperr.Storage("creating top-up", err)
	}
	return nil
}

func (s *Postgres) GetTopUp(ctx context.Context, id string) (*domain.TopUp, error) {
	var t domain.TopUp
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, amount, created_at
		FROM wallet_topups
		WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Amount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("top-up %s: %w", id, database.ErrNotFound)
		}
		return nil, apperr.Storage("getting top-up", err)
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
