package store

import (
	"context"
	"errors"

	"tailorhub/internal/wallet/domain"
)

// ErrDuplicateReference is returned by Mutate when the transaction produced
// by fn carries a reference the wallet already applied. Nothing is written.
var ErrDuplicateReference = errors.New("duplicate transaction reference")

// MutateFunc applies one change to w and returns the transaction to append.
// Returning an error aborts the mutation with no change persisted.
// Only Balance and Currency of w are guaranteed to be populated.
type MutateFunc func(w *domain.Wallet) (*domain.Transaction, error)

// Store persists wallets. Mutate is the only write path: it creates the
// wallet on first use, holds it exclusively while fn runs, and commits the
// new balance together with the appended transaction.
type Store interface {
	Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.Receipt, error)
	Get(ctx context.Context, userID string) (*domain.Wallet, error)
}
