package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"tailorhub/internal/common/apperr"
)

// Mode is how a payment's authenticity was established
type Mode string

const (
	ModeSignature Mode = "signature"
	ModeLookup    Mode = "lookup"
	ModeLocal     Mode = "local"
)

// Purpose is what a verified payment pays for
type Purpose string

const (
	PurposeOrder       Purpose = "order"
	PurposeWalletTopUp Purpose = "wallet_topup"
)

// Status of a payment record. Only verified payments are persisted.
type Status string

const StatusVerified Status = "Verified"

// Payment is the record of one accepted payment claim
type Payment struct {
	PaymentID  string    `json:"paymentId"`
	OrderID    string    `json:"orderId,omitempty"`
	CustomerID string    `json:"customerId"`
	Signature  string    `json:"signature,omitempty"`
	Mode       Mode      `json:"mode"`
	Purpose    Purpose   `json:"purpose"`
	Amount     int64     `json:"amount,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Verified reports whether the record counts as an accepted payment.
func (p *Payment) Verified() bool {
	return p != nil && p.Status == StatusVerified
}

// TopUpPrefix marks gateway order references created for wallet top-ups.
const TopUpPrefix = "topup_"

// TopUp is a wallet top-up the server agreed to before the customer paid.
// Its ID is the order reference the gateway signs, so a verified signature
// binds the payment to this user and amount.
type TopUp struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewTopUp(id, userID string, amount int64, at time.Time) (*TopUp, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	return &TopUp{ID: id, UserID: userID, Amount: amount, CreatedAt: at}, nil
}

// Signer computes and checks gateway signatures: hex HMAC-SHA256 of
// orderId + "|" + paymentId keyed by the shared gateway secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Configured reports whether a secret is set.
func (s *Signer) Configured() bool {
	return len(s.secret) > 0
}

func (s *Signer) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *Signer) Verify(orderID, paymentID, signature string) bool {
	expected := s.Sign(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
