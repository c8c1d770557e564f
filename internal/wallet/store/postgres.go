package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/common/money"
	"tailorhub/internal/wallet/domain"
)

const maxTxAttempts = 3

// Postgres stores wallets in the wallets and wallet_transactions tables.
type Postgres struct {
	db       *database.DB
	currency money.Currency
}

// NewPostgres creates a wallet store. New wallets are opened in currency.
func NewPostgres(db *database.DB, currency money.Currency) *Postgres {
	return &Postgres{db: db, currency: currency}
}

var _ Store = (*Postgres)(nil)

// Mutate locks the wallet row with SELECT ... FOR UPDATE for the duration of
// fn, so concurrent debits observe each other's committed balance.
func (s *Postgres) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.Receipt, error) {
	var receipt *domain.Receipt
	err := database.Retry(ctx, maxTxAttempts, func() error {
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			r, err := s.mutateTx(ctx, tx, userID, fn)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Postgres) mutateTx(ctx context.Context, tx pgx.Tx, userID string, fn MutateFunc) (*domain.Receipt, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, now())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, s.currency)
	if err != nil {
		return nil, apperr.Storage("opening wallet", err)
	}

	w := &domain.Wallet{UserID: userID}
	var currency string
	err = tx.QueryRow(ctx, `
		SELECT balance, currency, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&w.Balance, &currency, &w.UpdatedAt)
	if err != nil {
		return nil, apperr.Storage("locking wallet", err)
	}
	w.Currency = money.Currency(currency)

	entry, err := fn(w)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, reference) DO NOTHING
	`, entry.ID, userID, entry.Type, entry.Amount, nullable(entry.Reference), entry.Timestamp)
	if err != nil {
		return nil, apperr.Storage("appending wallet transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("wallet %s reference %s: %w", userID, entry.Reference, ErrDuplicateReference)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, updated_at = $3 WHERE user_id = $1
	`, userID, w.Balance, entry.Timestamp)
	if err != nil {
		return nil, apperr.Storage("updating wallet balance", err)
	}

	return &domain.Receipt{Transaction: *entry, Balance: w.Balance}, nil
}

// Get returns the wallet with its full log in insertion order.
func (s *Postgres) Get(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{UserID: userID}
	var currency string
	err := s.db.QueryRow(ctx, `
		SELECT balance, currency, updated_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.Balance, &currency, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s: %w", userID, database.ErrNotFound)
		}
		return nil, apperr.Storage("getting wallet", err)
	}
	w.Currency = money.Currency(currency)

	rows, err := s.db.Query(ctx, `
		SELECT id, type, amount, COALESCE(reference, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, apperr.Storage("listing wallet transactions", err)
	}
	defer rows.Close()

	w.Transactions, err = scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	txs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.Reference, &t.Timestamp); err != nil {
			return nil, apperr.Storage("scanning wallet transaction", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterating wallet transactions", err)
	}
	return txs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
