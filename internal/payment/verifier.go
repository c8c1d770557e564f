package payment

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
	"tailorhub/internal/common/keylock"
	orderdomain "tailorhub/internal/order/domain"
	"tailorhub/internal/payment/domain"
	"tailorhub/internal/payment/store"
)

// Config holds payment verification configuration
type Config struct {
	GatewaySecret string   `envconfig:"PAYMENT_GATEWAY_SECRET"`
	VerifyModes   []string `envconfig:"PAYMENT_VERIFY_MODES" default:"signature,lookup"`
}

// lookupAttempts bounds how often lookup mode re-selects an order that
// another request moved out of PendingPayment first.
const lookupAttempts = 3

// Orders is the part of the order service the verifier drives.
type Orders interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*orderdomain.Order, error)
	LatestAwaitingPayment(ctx context.Context, customerID string) (*orderdomain.Order, error)
	AttachPayment(ctx context.Context, id, paymentID string) (*orderdomain.Order, bool, error)
}

// Wallets credits verified wallet top-ups.
type Wallets interface {
	CreditOnce(ctx context.Context, userID string, amount int64, reference string) (bool, error)
}

// SignatureClaim is a gateway callback carrying an HMAC signature. For
// wallet top-ups OrderID is the id returned by CreateTopUp.
type SignatureClaim struct {
	OrderID   string
	PaymentID string
	Signature string
	Purpose   domain.Purpose
	// UserID and Amount are optional for top-ups. When set they must match
	// the stored top-up; the credit always uses the stored values.
	UserID string
	Amount int64
}

// LookupClaim is a confirmation relayed by a trusted upstream channel.
type LookupClaim struct {
	PaymentID  string
	CustomerID string
}

// Result describes an accepted claim.
type Result struct {
	Payment *domain.Payment
	Order   *orderdomain.Order
	// Replayed is set when the payment had already been verified.
	Replayed bool
}

// Verifier validates payment claims and applies their effects exactly once.
type Verifier struct {
	store     store.Store
	orders    Orders
	wallets   Wallets
	signer    *domain.Signer
	modes     map[domain.Mode]bool
	locks     *keylock.Locker
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewVerifier creates a verifier. Signature mode is only enabled when a
// gateway secret is configured.
func NewVerifier(cfg Config, s store.Store, orders Orders, wallets Wallets, publisher events.Publisher, logger *slog.Logger) (*Verifier, error) {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	v := &Verifier{
		store:     s,
		orders:    orders,
		wallets:   wallets,
		signer:    domain.NewSigner(cfg.GatewaySecret),
		modes:     make(map[domain.Mode]bool),
		locks:     keylock.New(),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, m := range cfg.VerifyModes {
		switch mode := domain.Mode(strings.TrimSpace(m)); mode {
		case domain.ModeSignature:
			if !v.signer.Configured() {
				return nil, errors.New("signature verification requires PAYMENT_GATEWAY_SECRET")
			}
			v.modes[mode] = true
		case domain.ModeLookup:
			v.modes[mode] = true
		case "":
		default:
			return nil, fmt.Errorf("unknown verification mode %q", m)
		}
	}
	if len(v.modes) == 0 {
		return nil, errors.New("no payment verification mode enabled")
	}
	return v, nil
}

// Enabled reports whether mode is accepted by this deployment.
func (v *Verifier) Enabled(mode domain.Mode) bool {
	return v.modes[mode]
}

// VerifySignature accepts a claim whose signature matches the gateway
// secret. A mismatch yields apperr.ErrVerificationFailed with no state
// change, even for a payment id that was already verified. A correctly
// signed payment id that was already verified succeeds immediately.
func (v *Verifier) VerifySignature(ctx context.Context, c SignatureClaim) (*Result, error) {
	if !v.Enabled(domain.ModeSignature) {
		return nil, apperr.Validation("signature verification is not enabled")
	}
	if c.Purpose == "" {
		c.Purpose = domain.PurposeOrder
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if !v.signer.Verify(c.OrderID, c.PaymentID, c.Signature) {
		v.logger.Warn("payment signature mismatch",
			"payment_id", c.PaymentID,
			"order_id", c.OrderID,
		)
		return nil, fmt.Errorf("payment %s: %w", c.PaymentID, apperr.ErrVerificationFailed)
	}

	return v.locked(ctx, c.PaymentID, func(ctx context.Context) (*Result, error) {
		p := &domain.Payment{
			PaymentID: c.PaymentID,
			OrderID:   c.OrderID,
			Signature: c.Signature,
			Mode:      domain.ModeSignature,
			Purpose:   c.Purpose,
			Status:    domain.StatusVerified,
		}

		if c.Purpose == domain.PurposeWalletTopUp {
			t, err := v.topUpFor(ctx, c)
			if err != nil {
				return nil, err
			}
			applied, err := v.wallets.CreditOnce(ctx, t.UserID, t.Amount, t.ID)
			if err != nil {
				return nil, err
			}
			if !applied {
				v.logger.Warn("top-up already credited",
					"topup_id", t.ID,
					"payment_id", c.PaymentID,
				)
			}
			p.CustomerID = t.UserID
			p.Amount = t.Amount
			return v.record(ctx, p, nil)
		}

		o, _, err := v.orders.AttachPayment(ctx, c.OrderID, c.PaymentID)
		if err != nil {
			return nil, err
		}
		p.CustomerID = o.CustomerID
		p.Amount = o.Amount
		return v.record(ctx, p, o)
	})
}

// topUpFor loads the top-up named by the signed order reference. A claim
// naming no top-up, or disagreeing with it, fails verification.
func (v *Verifier) topUpFor(ctx context.Context, c SignatureClaim) (*domain.TopUp, error) {
	t, err := v.store.GetTopUp(ctx, c.OrderID)
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("payment %s: no top-up %s: %w", c.PaymentID, c.OrderID, apperr.ErrVerificationFailed)
	}
	if err != nil {
		return nil, err
	}
	if (c.UserID != "" && c.UserID != t.UserID) || (c.Amount != 0 && c.Amount != t.Amount) {
		v.logger.Warn("top-up claim does not match stored top-up",
			"payment_id", c.PaymentID,
			"topup_id", t.ID,
		)
		return nil, fmt.Errorf("payment %s: top-up %s mismatch: %w", c.PaymentID, t.ID, apperr.ErrVerificationFailed)
	}
	return t, nil
}

// CreateTopUp registers a wallet top-up. The customer pays it at the gateway
// using the returned id as the order reference.
func (v *Verifier) CreateTopUp(ctx context.Context, userID string, amount int64) (*domain.TopUp, error) {
	t, err := domain.NewTopUp(domain.TopUpPrefix+ulid.Make().String(), userID, amount, v.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := v.store.CreateTopUp(ctx, t); err != nil {
		return nil, apperr.FromContext(err)
	}
	v.logger.Info("wallet top-up created",
		"topup_id", t.ID,
		"user_id", t.UserID,
		"amount", t.Amount,
	)
	return t, nil
}

// VerifyLookup accepts a trusted confirmation for the customer's most recent
// order still awaiting payment. Without such an order it fails with
// apperr.ErrNotFound.
func (v *Verifier) VerifyLookup(ctx context.Context, c LookupClaim) (*Result, error) {
	if !v.Enabled(domain.ModeLookup) {
		return nil, apperr.Validation("lookup verification is not enabled")
	}
	if strings.TrimSpace(c.PaymentID) == "" {
		return nil, apperr.Validation("paymentId is required")
	}
	if strings.TrimSpace(c.CustomerID) == "" {
		return nil, apperr.Validation("customerId is required")
	}

	return v.locked(ctx, c.PaymentID, func(ctx context.Context) (*Result, error) {
		o, err := v.attachLatest(ctx, c)
		if err != nil {
			return nil, err
		}
		return v.record(ctx, &domain.Payment{
			PaymentID:  c.PaymentID,
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			Mode:       domain.ModeLookup,
			Purpose:    domain.PurposeOrder,
			Amount:     o.Amount,
			Status:     domain.StatusVerified,
		}, o)
	})
}

func (v *Verifier) attachLatest(ctx context.Context, c LookupClaim) (*orderdomain.Order, error) {
	// A previous attempt may have attached the payment and failed before
	// recording it.
	o, err := v.orders.GetByPaymentID(ctx, c.PaymentID)
	if err == nil {
		if o.CustomerID != c.CustomerID {
			return nil, fmt.Errorf("payment %s belongs to another customer: %w", c.PaymentID, apperr.ErrVerificationFailed)
		}
		return o, nil
	}
	if !database.IsNotFound(err) {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		o, err := v.orders.LatestAwaitingPayment(ctx, c.CustomerID)
		if err != nil {
			return nil, err
		}
		o, _, err = v.orders.AttachPayment(ctx, o.ID, c.PaymentID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, apperr.ErrInvalidTransition) || attempt == lookupAttempts {
			return nil, err
		}
		v.logger.Debug("order left PendingPayment concurrently, retrying lookup",
			"payment_id", c.PaymentID,
			"attempt", attempt,
		)
	}
}

// RecordLocal stores the payment record for an order that was paid out of
// band and created directly in Pending.
func (v *Verifier) RecordLocal(ctx context.Context, o *orderdomain.Order) error {
	_, err := v.store.Insert(ctx, &domain.Payment{
		PaymentID:  o.PaymentID,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Mode:       domain.ModeLocal,
		Purpose:    domain.PurposeOrder,
		Amount:     o.Amount,
		Status:     domain.StatusVerified,
		CreatedAt:  v.now().UTC(),
	})
	return apperr.FromContext(err)
}

// locked runs fn under the payment id's lock after the idempotency check.
func (v *Verifier) locked(ctx context.Context, paymentID string, fn func(context.Context) (*Result, error)) (*Result, error) {
	unlock, err := v.locks.Lock(ctx, paymentID)
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("waiting for payment %s: %w", paymentID, err))
	}
	defer unlock()

	existing, err := v.store.Get(ctx, paymentID)
	switch {
	case err == nil && existing.Verified():
		v.logger.Info("payment already verified", "payment_id", paymentID)
		return &Result{Payment: existing, Replayed: true}, nil
	case err != nil && !database.IsNotFound(err):
		return nil, apperr.FromContext(err)
	}

	res, err := fn(ctx)
	if err != nil {
		return nil, apperr.FromContext(err)
	}
	return res, nil
}

func (v *Verifier) record(ctx context.Context, p *domain.Payment, o *orderdomain.Order) (*Result, error) {
	p.CreatedAt = v.now().UTC()
	created, err := v.store.Insert(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		// Verified concurrently by another instance.
		existing, err := v.store.Get(ctx, p.PaymentID)
		if err != nil {
			return nil, err
		}
		return &Result{Payment: existing, Order: o, Replayed: true}, nil
	}

	events.Emit(ctx, v.publisher, v.logger, events.EventPaymentVerified, events.AggregatePayment, p.PaymentID, events.PaymentVerifiedData{
		PaymentID:  p.PaymentID,
		OrderID:    p.OrderID,
		CustomerID: p.CustomerID,
		Mode:       string(p.Mode),
		Purpose:    string(p.Purpose),
		Amount:     p.Amount,
	})

	v.logger.Info("payment verified",
		"payment_id", p.PaymentID,
		"order_id", p.OrderID,
		"customer_id", p.CustomerID,
		"mode", p.Mode,
		"purpose", p.Purpose,
	)

	return &Result{Payment: p, Order: o}, nil
}

func (c SignatureClaim) validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return apperr.Validation("orderId is required")
	}
	if strings.TrimSpace(c.PaymentID) == "" {
		return apperr.Validation("paymentId is required")
	}
	if strings.TrimSpace(c.Signature) == "" {
		return apperr.Validation("signature is required")
	}
	switch c.Purpose {
	case domain.PurposeOrder:
	case domain.PurposeWalletTopUp:
		if c.Amount < 0 {
			return apperr.Validation("amount must not be negative")
		}
	default:
		return apperr.Validation("unknown payment purpose %q", c.Purpose)
	}
	return nil
}
