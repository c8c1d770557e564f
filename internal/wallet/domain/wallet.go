package domain

import (
	"time"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/money"
)

// TransactionType is the direction of a wallet transaction
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// Transaction is one append-only entry in a wallet's log
type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Wallet is a user's balance together with the log that produced it.
// Amounts are in minor units of Currency.
type Wallet struct {
	UserID       string         `json:"userId"`
	Balance      int64          `json:"balance"`
	Currency     money.Currency `json:"currency"`
	Transactions []Transaction  `json:"transactions"`
	UpdatedAt    time.Time      `json:"updatedAt,omitempty"`
}

// Empty returns the zero wallet reported for users that never transacted.
func Empty(userID string) *Wallet {
	return &Wallet{
		UserID:       userID,
		Currency:     money.Default,
		Transactions: []Transaction{},
	}
}

// BalanceMoney returns the balance as a Money value.
func (w *Wallet) BalanceMoney() money.Money {
	return money.New(w.Balance, w.Currency)
}

// Credit adds amount to the balance and returns the transaction to append.
func (w *Wallet) Credit(id string, amount int64, reference string, at time.Time) (*Transaction, error) {
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	next, err := w.BalanceMoney().Add(money.New(amount, w.Currency))
	if err != nil {
		return nil, apperr.Validation("credit of %d: %v", amount, err)
	}
	w.Balance = next.AmountMinor
	return w.apply(id, TransactionCredit, amount, reference, at), nil
}

// Debit removes amount from the balance. It fails with
// apperr.ErrInsufficientBalance, leaving the wallet untouched, when the
// balance does not cover amount.
func (w *Wallet) Debit(id string, amount int64, reference string, at time.Time) (*Transaction, error) {
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if w.BalanceMoney().LessThan(money.New(amount, w.Currency)) {
		return nil, apperr.ErrInsufficientBalance
	}
	w.Balance -= amount
	return w.apply(id, TransactionDebit, amount, reference, at), nil
}

func (w *Wallet) apply(id string, typ TransactionType, amount int64, reference string, at time.Time) *Transaction {
	tx := Transaction{
		ID:        id,
		Type:      typ,
		Amount:    amount,
		Reference: reference,
		Timestamp: at.UTC(),
	}
	w.Transactions = append(w.Transactions, tx)
	w.UpdatedAt = tx.Timestamp
	return &tx
}

// HasReference reports whether a transaction with reference was applied.
func (w *Wallet) HasReference(reference string) bool {
	if reference == "" {
		return false
	}
	for _, tx := range w.Transactions {
		if tx.Reference == reference {
			return true
		}
	}
	return false
}

// Replay recomputes the balance from the transaction log.
func (w *Wallet) Replay() int64 {
	var sum int64
	for _, tx := range w.Transactions {
		switch tx.Type {
		case TransactionCredit:
			sum += tx.Amount
		case TransactionDebit:
			sum -= tx.Amount
		}
	}
	return sum
}

// Clone returns a deep copy.
func (w *Wallet) Clone() *Wallet {
	c := *w
	c.Transactions = append([]Transaction(nil), w.Transactions...)
	if c.Transactions == nil {
		c.Transactions = []Transaction{}
	}
	return &c
}

// Receipt is the outcome of one committed wallet mutation.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Balance     int64       `json:"balance"`
}
