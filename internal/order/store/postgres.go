package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/order/domain"
)

const orderColumns = `id, customer_id, service, amount, currency, address, status,
	COALESCE(payment_id, ''), created_at, updated_at`

// Postgres stores orders in the orders table.
type Postgres struct {
	db *database.DB
}

func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) Create(ctx context.Context, o *domain.Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, service, amount, currency, address, status,
			payment_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		o.ID,
		o.CustomerID,
		o.Service,
		o.Amount,
		o.Currency,
		o.Address,
		o.Status,
		nullable(o.PaymentID),
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("order %s: payment %s already attached to another order: %w",
				o.ID, o.PaymentID, apperr.ErrInvalidTransition)
		}
		return apperr.Storage("creating order", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row, "order "+id)
}

func (s *Postgres) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID)
	return scanOrder(row, "order with payment "+paymentID)
}

func (s *Postgres) LatestByCustomerAndStatus(ctx context.Context, customerID string, status domain.Status) (*domain.Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, customerID, status)
	return scanOrder(row, fmt.Sprintf("%s order for customer %s", status, customerID))
}

func (s *Postgres) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`, customerID)
	if err != nil {
		return nil, apperr.Storage("listing customer orders", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Postgres) ListAll(ctx context.Context) ([]*domain.Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, apperr.Storage("listing orders", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// Update locks the row for the duration of fn.
func (s *Postgres) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, error) {
	var updated *domain.Order
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
		o, err := scanOrder(row, "order "+id)
		if err != nil {
			return err
		}

		changed, err := fn(o)
		if err != nil {
			return err
		}
		updated = o
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders SET status = $2, payment_id = $3, updated_at = $4 WHERE id = $1
		`, o.ID, o.Status, nullable(o.PaymentID), o.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("order %s: payment %s already attached to another order: %w",
					o.ID, o.PaymentID, apperr.ErrInvalidTransition)
			}
			return apperr.Storage("updating order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanOrder(row pgx.Row, what string) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Service, &o.Amount, &o.Currency, &o.Address,
		&o.Status, &o.PaymentID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, database.ErrNotFound)
		}
		return nil, apperr.Storage("scanning order", err)
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*domain.Order, error) {
	orders := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows, "order")
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterating orders", err)
	}
	return orders, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
