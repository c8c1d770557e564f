package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/common/events"
	"tailorhub/internal/wallet/domain"
	"tailorhub/internal/wallet/store"
)

// Ledger provides atomic wallet credits and debits
type Ledger struct {
	store     store.Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedger creates a new wallet ledger
func NewLedger(s store.Store, publisher events.Publisher, logger *slog.Logger) *Ledger {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Ledger{
		store:     s,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Credit adds amount to the user's wallet, creating it on first use.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (*domain.Receipt, error) {
	return l.apply(ctx, userID, domain.TransactionCredit, amount, "")
}

// Debit removes amount from the user's wallet. The balance check and the
// decrement commit as one unit; a short balance yields
// apperr.ErrInsufficientBalance.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64) (*domain.Receipt, error) {
	return l.apply(ctx, userID, domain.TransactionDebit, amount, "")
}

// CreditOnce credits amount at most once per reference. A replayed
// reference reports applied=false and leaves the balance unchanged.
func (l *Ledger) CreditOnce(ctx context.Context, userID string, amount int64, reference string) (bool, error) {
	if strings.TrimSpace(reference) == "" {
		return false, apperr.Validation("reference is required")
	}
	_, err := l.apply(ctx, userID, domain.TransactionCredit, amount, reference)
	if errors.Is(err, store.ErrDuplicateReference) {
		l.logger.Info("wallet credit already applied",
			"user_id", userID,
			"reference", reference,
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetHistory returns the balance and full transaction log. A user that never
// transacted gets an empty zero-balance wallet rather than an error.
func (l *Ledger) GetHistory(ctx context.Context, userID string) (*domain.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	w, err := l.store.Get(ctx, userID)
	if database.IsNotFound(err) {
		return domain.Empty(userID), nil
	}
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return w, nil
}

func (l *Ledger) apply(ctx context.Context, userID string, typ domain.TransactionType, amount int64, reference string) (*domain.Receipt, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}

	id := ulid.Make().String()
	at := l.now()

	receipt, err := l.store.Mutate(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		if typ == domain.TransactionDebit {
			return w.Debit(id, amount, reference, at)
		}
		return w.Credit(id, amount, reference, at)
	})
	if err != nil {
		if apperr.IsBusiness(err) || errors.Is(err, store.ErrDuplicateReference) {
			return nil, err
		}
		return nil, apperr.FromContext(fmt.Errorf("%s wallet %s: %w", typ, userID, err))
	}

	eventType, msg := events.EventWalletCredited, "wallet credited"
	if typ == domain.TransactionDebit {
		eventType, msg = events.EventWalletDebited, "wallet debited"
	}
	events.Emit(ctx, l.publisher, l.logger, eventType, events.AggregateWallet, userID, events.WalletMutatedData{
		UserID:        userID,
		TransactionID: receipt.Transaction.ID,
		Amount:        amount,
		Balance:       receipt.Balance,
		Reference:     reference,
	})

	l.logger.Info(msg,
		"user_id", userID,
		"transaction_id", receipt.Transaction.ID,
		"amount", amount,
		"balance", receipt.Balance,
	)

	return receipt, nil
}
