package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"tailorhub/internal/common/middleware"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// Emit builds and publishes an event after a committed mutation. Failures
// are logged; the mutation has already happened and is not affected.
func Emit(ctx context.Context, pub Publisher, logger *slog.Logger, eventType, aggregateType, aggregateID string, data interface{}) {
	if pub == nil {
		return
	}
	evt, err := NewEvent(eventType, aggregateType, aggregateID, data)
	if err != nil {
		logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}
	evt.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Warn("failed to publish event",
			"type", eventType,
			"aggregate_id", aggregateID,
			"error", err,
		)
	}
}

// Event types
const (
	EventOrderCreated          = "order.created"
	EventOrderStatusChanged    = "order.status_changed"
	EventPaymentVerified       = "payment.verified"
	EventWalletCredited        = "wallet.credited"
	EventWalletDebited         = "wallet.debited"
	EventNotificationRequested = "notification.requested"
)

// Aggregate types
const (
	AggregateOrder   = "order"
	AggregateWallet  = "wallet"
	AggregatePayment = "payment"
	AggregateUser    = "user"
)

// Event data structures

// OrderStatusChangedData is the data for order.status_changed events
type OrderStatusChangedData struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	PaymentID  string `json:"payment_id,omitempty"`
}

// OrderCreatedData is the data for order.created events
type OrderCreatedData struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
}

// PaymentVerifiedData is the data for payment.verified events
type PaymentVerifiedData struct {
	PaymentID  string `json:"payment_id"`
	OrderID    string `json:"order_id,omitempty"`
	CustomerID string `json:"customer_id"`
	Mode       string `json:"mode"`
	Purpose    string `json:"purpose"`
	Amount     int64  `json:"amount,omitempty"`
}

// WalletMutatedData is the data for wallet.credited and wallet.debited events
type WalletMutatedData struct {
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
	Reference     string `json:"reference,omitempty"`
}

// NotificationRequestedData is the data for notification.requested events
type NotificationRequestedData struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}
