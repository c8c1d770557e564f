package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/money"
	"tailorhub/internal/notify"
	"tailorhub/internal/order"
	orderdomain "tailorhub/internal/order/domain"
	"tailorhub/internal/payment"
	paymentdomain "tailorhub/internal/payment/domain"
	"tailorhub/internal/wallet"
	walletdomain "tailorhub/internal/wallet/domain"
)

// Config holds marketplace configuration
type Config struct {
	InitialStatus    string        `envconfig:"ORDER_INITIAL_STATUS" default:"PendingPayment"`
	Currency         string        `envconfig:"CURRENCY" default:"INR"`
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"5s"`
}

// LocalPaymentPrefix marks payment ids generated for orders paid out of band.
const LocalPaymentPrefix = "local_"

// Service is the entry point for every marketplace operation. Each call
// runs under the operation timeout and its own span; a call that runs out
// of time fails with apperr.ErrTransient.
type Service struct {
	ledger   *wallet.Ledger
	orders   *order.Service
	verifier *payment.Verifier
	notifier *notify.Service

	initialStatus orderdomain.Status
	currency      money.Currency
	timeout       time.Duration
	tracer        trace.Tracer
	logger        *slog.Logger
}

func NewService(cfg Config, ledger *wallet.Ledger, orders *order.Service, verifier *payment.Verifier, notifier *notify.Service, logger *slog.Logger) (*Service, error) {
	status, err := orderdomain.ParseStatus(cfg.InitialStatus)
	if err != nil || !status.IsInitial() {
		return nil, fmt.Errorf("invalid ORDER_INITIAL_STATUS %q", cfg.InitialStatus)
	}
	currency, err := money.ParseCurrency(cfg.Currency)
	if err != nil {
		return nil, err
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		ledger:        ledger,
		orders:        orders,
		verifier:      verifier,
		notifier:      notifier,
		initialStatus: status,
		currency:      currency,
		timeout:       timeout,
		tracer:        otel.Tracer("tailorhub/marketplace"),
		logger:        logger,
	}, nil
}

func call[T any](ctx context.Context, s *Service, name string, fn func(ctx context.Context, span trace.Span) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()

	res, err := fn(ctx, span)
	if err != nil {
		err = apperr.FromContext(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Kind(err))
	}
	return res, err
}

// AddMoney credits the user's wallet.
func (s *Service) AddMoney(ctx context.Context, userID string, amount int64) (*walletdomain.Receipt, error) {
	return call(ctx, s, "AddMoney", func(ctx context.Context, span trace.Span) (*walletdomain.Receipt, error) {
		span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount))
		return s.ledger.Credit(ctx, userID, amount)
	})
}

// PayWithWallet debits the user's wallet. It does not touch any order.
func (s *Service) PayWithWallet(ctx context.Context, userID string, amount int64) (*walletdomain.Receipt, error) {
	return call(ctx, s, "PayWithWallet", func(ctx context.Context, span trace.Span) (*walletdomain.Receipt, error) {
		span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount))
		return s.ledger.Debit(ctx, userID, amount)
	})
}

func (s *Service) WalletHistory(ctx context.Context, userID string) (*walletdomain.Wallet, error) {
	return call(ctx, s, "WalletHistory", func(ctx context.Context, span trace.Span) (*walletdomain.Wallet, error) {
		span.SetAttributes(attribute.String("user.id", userID))
		return s.ledger.GetHistory(ctx, userID)
	})
}

// CreateWalletTopUp registers a top-up the user then pays at the gateway.
// Verifying that payment credits the stored amount to the stored user.
func (s *Service) CreateWalletTopUp(ctx context.Context, userID string, amount int64) (*paymentdomain.TopUp, error) {
	return call(ctx, s, "CreateWalletTopUp", func(ctx context.Context, span trace.Span) (*paymentdomain.TopUp, error) {
		span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount))
		return s.verifier.CreateTopUp(ctx, userID, amount)
	})
}

// CreateOrderInput is the input to CreateOrder
type CreateOrderInput struct {
	CustomerID string
	Service    string
	Amount     int64
	Address    string
}

// CreateOrder creates an order in the configured initial status. Orders
// that start in Pending get a local payment id and payment record.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*orderdomain.Order, error) {
	return call(ctx, s, "CreateOrder", func(ctx context.Context, span trace.Span) (*orderdomain.Order, error) {
		span.SetAttributes(attribute.String("customer.id", in.CustomerID))
		params := order.CreateParams{
			CustomerID:    in.CustomerID,
			Service:       in.Service,
			Amount:        in.Amount,
			Currency:      s.currency,
			Address:       in.Address,
			InitialStatus: s.initialStatus,
		}
		if s.initialStatus == orderdomain.StatusPending {
			params.PaymentID = LocalPaymentPrefix + ulid.Make().String()
		}

		o, err := s.orders.Create(ctx, params)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("order.id", o.ID))

		if o.PaymentID != "" {
			if err := s.verifier.RecordLocal(ctx, o); err != nil {
				s.logger.Error("failed to record local payment",
					"order_id", o.ID,
					"payment_id", o.PaymentID,
					"error", err,
				)
			}
		}
		return o, nil
	})
}

// UpdateOrderStatus validates status and applies the transition.
func (s *Service) UpdateOrderStatus(ctx context.Context, id, status string) (*orderdomain.Order, error) {
	return call(ctx, s, "UpdateOrderStatus", func(ctx context.Context, span trace.Span) (*orderdomain.Order, error) {
		span.SetAttributes(attribute.String("order.id", id), attribute.String("order.status", status))
		target, err := orderdomain.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		return s.orders.Transition(ctx, id, target)
	})
}

func (s *Service) GetOrder(ctx context.Context, id string) (*orderdomain.Order, error) {
	return call(ctx, s, "GetOrder", func(ctx context.Context, span trace.Span) (*orderdomain.Order, error) {
		span.SetAttributes(attribute.String("order.id", id))
		return s.orders.Get(ctx, id)
	})
}

func (s *Service) ListOrders(ctx context.Context) ([]*orderdomain.Order, error) {
	return call(ctx, s, "ListOrders", func(ctx context.Context, _ trace.Span) ([]*orderdomain.Order, error) {
		return s.orders.ListAll(ctx)
	})
}

func (s *Service) ListCustomerOrders(ctx context.Context, customerID string) ([]*orderdomain.Order, error) {
	return call(ctx, s, "ListCustomerOrders", func(ctx context.Context, span trace.Span) ([]*orderdomain.Order, error) {
		span.SetAttributes(attribute.String("customer.id", customerID))
		return s.orders.ListByCustomer(ctx, customerID)
	})
}

// VerifyPaymentInput carries either a signature-mode or a lookup-mode claim.
type VerifyPaymentInput struct {
	// Mode is optional; when empty it is inferred from the fields present.
	Mode       paymentdomain.Mode
	OrderID    string
	PaymentID  string
	Signature  string
	CustomerID string
	Purpose    paymentdomain.Purpose
	// UserID and Amount are cross-checked against a stored top-up.
	UserID string
	Amount int64
}

func (in VerifyPaymentInput) mode() paymentdomain.Mode {
	if in.Mode != "" {
		return in.Mode
	}
	if in.Signature != "" || in.OrderID != "" {
		return paymentdomain.ModeSignature
	}
	return paymentdomain.ModeLookup
}

// VerifyPayment dispatches the claim to the matching verification mode.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*payment.Result, error) {
	return call(ctx, s, "VerifyPayment", func(ctx context.Context, span trace.Span) (*payment.Result, error) {
		mode := in.mode()
		span.SetAttributes(attribute.String("payment.id", in.PaymentID), attribute.String("payment.mode", string(mode)))
		switch mode {
		case paymentdomain.ModeSignature:
			return s.verifier.VerifySignature(ctx, payment.SignatureClaim{
				OrderID:   in.OrderID,
				PaymentID: in.PaymentID,
				Signature: in.Signature,
				Purpose:   in.Purpose,
				UserID:    in.UserID,
				Amount:    in.Amount,
			})
		case paymentdomain.ModeLookup:
			return s.verifier.VerifyLookup(ctx, payment.LookupClaim{
				PaymentID:  in.PaymentID,
				CustomerID: in.CustomerID,
			})
		default:
			return nil, apperr.Validation("unknown verification mode %q", mode)
		}
	})
}

// Notify delivers a notification synchronously so the caller sees a
// missing device token.
func (s *Service) Notify(ctx context.Context, userID, title, body string) error {
	_, err := call(ctx, s, "Notify", func(ctx context.Context, span trace.Span) (struct{}, error) {
		span.SetAttributes(attribute.String("user.id", userID))
		return struct{}{}, s.notifier.Notify(ctx, userID, title, body)
	})
	return err
}

func (s *Service) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	_, err := call(ctx, s, "RegisterDeviceToken", func(ctx context.Context, span trace.Span) (struct{}, error) {
		span.SetAttributes(attribute.String("user.id", userID))
		return struct{}{}, s.notifier.RegisterToken(ctx, userID, token)
	})
	return err
}
