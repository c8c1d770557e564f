package domain

import (
	"fmt"
	"strings"
	"time"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/money"
)

// Status is an order's position in its lifecycle
type Status string

const (
	StatusPendingPayment Status = "PendingPayment"
	StatusPending        Status = "Pending"
	StatusInProgress     Status = "InProgress"
	StatusCompleted      Status = "Completed"
	StatusCancelled      Status = "Cancelled"
)

// transitions lists the allowed edges; anything absent is rejected.
var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPending, StatusCancelled},
	StatusPending:        {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	switch st {
	case StatusPendingPayment, StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", apperr.Validation("unknown order status %q", s)
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsInitial reports whether an order may be created in s.
func (s Status) IsInitial() bool {
	return s == StatusPendingPayment || s == StatusPending
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a customer's service request
type Order struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customerId"`
	Service    string         `json:"service"`
	Amount     int64          `json:"amount"`
	Currency   money.Currency `json:"currency"`
	Address    string         `json:"address"`
	Status     Status         `json:"status"`
	PaymentID  string         `json:"paymentId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NewOrder validates the creation fields. An order created directly in
// Pending was paid out of band and must carry paymentID.
func NewOrder(id, customerID, service string, amount int64, currency money.Currency, address string, status Status, paymentID string, at time.Time) (*Order, error) {
	if id == "" {
		return nil, apperr.Validation("id is required")
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, apperr.Validation("customerId is required")
	}
	if strings.TrimSpace(service) == "" {
		return nil, apperr.Validation("service is required")
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if strings.TrimSpace(address) == "" {
		return nil, apperr.Validation("address is required")
	}
	if !status.IsInitial() {
		return nil, apperr.Validation("initial status must be %s or %s", StatusPendingPayment, StatusPending)
	}
	if (status == StatusPendingPayment) != (paymentID == "") {
		return nil, apperr.Validation("paymentId must be set exactly when the order has left %s", StatusPendingPayment)
	}

	at = at.UTC()
	return &Order{
		ID:         id,
		CustomerID: customerID,
		Service:    service,
		Amount:     amount,
		Currency:   currency,
		Address:    address,
		Status:     status,
		PaymentID:  paymentID,
		CreatedAt:  at,
		UpdatedAt:  at,
	}, nil
}

// Transition moves the order to target. Leaving PendingPayment for Pending
// requires paymentID, which is attached once and never replaced. It reports
// whether the status changed; a transition to the current status is a no-op.
func (o *Order) Transition(target Status, paymentID string, at time.Time) (bool, error) {
	if target == o.Status {
		return false, nil
	}
	if !CanTransition(o.Status, target) {
		return false, fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.Status, target, apperr.ErrInvalidTransition)
	}
	if o.Status == StatusPendingPayment && target == StatusPending {
		if paymentID == "" {
			return false, fmt.Errorf("order %s: %s -> %s requires a verified payment: %w",
				o.ID, o.Status, target, apperr.ErrInvalidTransition)
		}
		o.PaymentID = paymentID
	}
	o.Status = target
	o.UpdatedAt = at.UTC()
	return true, nil
}

// Clone returns a copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
