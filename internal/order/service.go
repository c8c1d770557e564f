package order

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/events"
	"tailorhub/internal/common/money"
	"tailorhub/internal/order/domain"
	"tailorhub/internal/order/store"
)

// NotificationTitle is the title of every status-change notification.
const NotificationTitle = "Order Update"

// StatusMessage is the body sent to the customer when an order moves to s.
func StatusMessage(s domain.Status) string {
	return "Your order is now " + string(s)
}

// Notifier receives post-commit status-change notifications. Its result is
// logged and never affects the transition.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// Service provides order lifecycle operations
type Service struct {
	store     store.Store
	notifier  Notifier
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new order service
func NewService(s store.Store, notifier Notifier, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     s,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateParams is the input to Create
type CreateParams struct {
	CustomerID    string
	Service       string
	Amount        int64
	Currency      money.Currency
	Address       string
	InitialStatus domain.Status
	// PaymentID is required when InitialStatus is Pending.
	PaymentID string
}

// Create persists a new order in its initial status.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Order, error) {
	if p.InitialStatus == "" {
		p.InitialStatus = domain.StatusPendingPayment
	}
	if p.Currency == "" {
		p.Currency = money.Default
	}

	o, err := domain.NewOrder(ulid.Make().String(), p.CustomerID, p.Service, p.Amount, p.Currency,
		p.Address, p.InitialStatus, p.PaymentID, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, apperr.FromContext(err)
	}

	events.Emit(ctx, s.publisher, s.logger, events.EventOrderCreated, events.AggregateOrder, o.ID, events.OrderCreatedData{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Amount,
		Currency:   string(o.Currency),
		Status:     string(o.Status),
	})

	s.logger.Info("order created",
		"order_id", o.ID,
		"customer_id", o.CustomerID,
		"amount", money.New(o.Amount, o.Currency).String(),
		"status", o.Status,
	)

	return o, nil
}

// Transition moves an order to target. Leaving PendingPayment for Pending
// needs a verified payment and is only reachable through AttachPayment.
func (s *Service) Transition(ctx context.Context, id string, target domain.Status) (*domain.Order, error) {
	return s.update(ctx, id, func(o *domain.Order) (bool, error) {
		return o.Transition(target, "", s.now())
	})
}

// AttachPayment records paymentID against a PendingPayment order and moves
// it to Pending. Attaching the payment the order already carries is a no-op
// success, so a retried verification does not notify twice.
func (s *Service) AttachPayment(ctx context.Context, id, paymentID string) (*domain.Order, bool, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, false, apperr.Validation("paymentId is required")
	}
	var changed bool
	o, err := s.update(ctx, id, func(o *domain.Order) (bool, error) {
		if o.PaymentID == paymentID {
			return false, nil
		}
		if o.Status != domain.StatusPendingPayment {
			return false, fmt.Errorf("order %s is %s, not awaiting payment: %w", o.ID, o.Status, apperr.ErrInvalidTransition)
		}
		var err error
		changed, err = o.Transition(domain.StatusPending, paymentID, s.now())
		return changed, err
	})
	if err != nil {
		return nil, false, err
	}
	return o, changed, nil
}

func (s *Service) update(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("order id is required")
	}

	var (
		changed bool
		from    domain.Status
	)
	o, err := s.store.Update(ctx, id, func(o *domain.Order) (bool, error) {
		from = o.Status
		c, err := fn(o)
		changed = c
		return c, err
	})
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	if !changed {
		return o, nil
	}

	s.logger.Info("order status changed",
		"order_id", o.ID,
		"from", from,
		"to", o.Status,
		"payment_id", o.PaymentID,
	)

	events.Emit(ctx, s.publisher, s.logger, events.EventOrderStatusChanged, events.AggregateOrder, o.ID, events.OrderStatusChangedData{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		From:       string(from),
		To:         string(o.Status),
		PaymentID:  o.PaymentID,
	})

	s.notify(ctx, o)
	return o, nil
}

func (s *Service) notify(ctx context.Context, o *domain.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, o.CustomerID, NotificationTitle, StatusMessage(o.Status)); err != nil {
		s.logger.Warn("order notification not sent",
			"order_id", o.ID,
			"customer_id", o.CustomerID,
			"error", err,
		)
	}
}

// Get returns an order or apperr.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return o, nil
}

// GetByPaymentID returns the order a payment was attached to.
func (s *Service) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	o, err := s.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return o, nil
}

// LatestAwaitingPayment returns the customer's most recent PendingPayment order.
func (s *Service) LatestAwaitingPayment(ctx context.Context, customerID string) (*domain.Order, error) {
	o, err := s.store.LatestByCustomerAndStatus(ctx, customerID, domain.StatusPendingPayment)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return o, nil
}

// ListByCustomer returns the customer's orders, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	orders, err := s.store.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return orders, nil
}

// ListAll returns every order, newest first.
func (s *Service) ListAll(ctx context.Context) ([]*domain.Order, error) {
	orders, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return orders, nil
}
