package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/money"
	"tailorhub/internal/order"
	orderdomain "tailorhub/internal/order/domain"
	orderstore "tailorhub/internal/order/store"
	"tailorhub/internal/payment/domain"
	"tailorhub/internal/payment/store"
	"tailorhub/internal/wallet"
	walletstore "tailorhub/internal/wallet/store"
)

const secret = "test-gateway-secret"

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify(context.Context, string, string, string) error {
	c.n.Add(1)
	return nil
}

// flakyStore fails the first Insert to simulate a crash between the order
// transition and the payment record.
type flakyStore struct {
	store.Store
	failed atomic.Bool
}

func (f *flakyStore) Insert(ctx context.Context, p *domain.Payment) (bool, error) {
	if f.failed.CompareAndSwap(false, true) {
		return false, apperr.Storage("inserting payment", errors.New("connection reset"))
	}
	return f.Store.Insert(ctx, p)
}

type fixture struct {
	verifier *Verifier
	orders   *order.Service
	ledger   *wallet.Ledger
	payments store.Store
	notified *countingNotifier
	signer   *domain.Signer
}

func newFixture(t *testing.T, modes []string, payments store.Store) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if payments == nil {
		payments = store.NewMemory()
	}
	n := &countingNotifier{}
	orders := order.NewService(orderstore.NewMemory(), n, nil, logger)
	ledger := wallet.NewLedger(walletstore.NewMemory(money.INR), nil, logger)
	v, err := NewVerifier(Config{GatewaySecret: secret, VerifyModes: modes}, payments, orders, ledger, nil, logger)
	require.NoError(t, err)
	return &fixture{
		verifier: v,
		orders:   orders,
		ledger:   ledger,
		payments: payments,
		notified: n,
		signer:   domain.NewSigner(secret),
	}
}

func (f *fixture) createOrder(t *testing.T, customerID string) *orderdomain.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), order.CreateParams{
		CustomerID: customerID,
		Service:    "kurta stitching",
		Amount:     500,
		Address:    "14 Park Street",
	})
	require.NoError(t, err)
	return o
}

func TestSignatureScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)

	o := f.createOrder(t, "c1")
	assert.Equal(t, orderdomain.StatusPendingPayment, o.Status)

	claim := SignatureClaim{
		OrderID:   o.ID,
		PaymentID: "pay_1",
		Signature: f.signer.Sign(o.ID, "pay_1"),
	}

	res, err := f.verifier.VerifySignature(ctx, claim)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "c1", res.Payment.CustomerID)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, got.Status)
	assert.Equal(t, "pay_1", got.PaymentID)
	assert.Equal(t, int32(1), f.notified.n.Load())

	res, err = f.verifier.VerifySignature(ctx, claim)
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	got, err = f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, got.Status)
	assert.Equal(t, int32(1), f.notified.n.Load())
}

func flipByte(sig string, i int) string {
	b := []byte(sig)
	if b[i] == 'a' {
		b[i] = 'b'
	} else {
		b[i] = 'a'
	}
	return string(b)
}

func TestTamperedSignatureFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)
	o := f.createOrder(t, "c1")

	sig := flipByte(f.signer.Sign(o.ID, "pay_1"), 10)

	_, err := f.verifier.VerifySignature(ctx, SignatureClaim{OrderID: o.ID, PaymentID: "pay_1", Signature: sig})
	require.ErrorIs(t, err, apperr.ErrVerificationFailed)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPendingPayment, got.Status)
	assert.Empty(t, got.PaymentID)
	assert.Zero(t, f.notified.n.Load())

	_, err = f.payments.Get(ctx, "pay_1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTamperedSignatureFailsForVerifiedPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)
	o := f.createOrder(t, "c1")

	_, err := f.verifier.VerifySignature(ctx, SignatureClaim{OrderID: o.ID, PaymentID: "pay_1", Signature: f.signer.Sign(o.ID, "pay_1")})
	require.NoError(t, err)

	tests := []struct {
		name  string
		claim SignatureClaim
	}{
		{
			name:  "flipped_byte",
			claim: SignatureClaim{OrderID: o.ID, PaymentID: "pay_1", Signature: flipByte(f.signer.Sign(o.ID, "pay_1"), 10)},
		},
		{
			name:  "other_order",
			claim: SignatureClaim{OrderID: "whatever", PaymentID: "pay_1", Signature: flipByte(f.signer.Sign(o.ID, "pay_1"), 3)},
		},
		{
			name:  "signature_for_other_order",
			claim: SignatureClaim{OrderID: "whatever", PaymentID: "pay_1", Signature: f.signer.Sign(o.ID, "pay_1")},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.verifier.VerifySignature(ctx, tt.claim)
			require.ErrorIs(t, err, apperr.ErrVerificationFailed)
			assert.Nil(t, res)
		})
	}
	assert.Equal(t, int32(1), f.notified.n.Load())
}

func TestSignatureForUnknownOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"signature"}, nil)

	_, err := f.verifier.VerifySignature(context.Background(), SignatureClaim{
		OrderID:   "missing",
		PaymentID: "pay_1",
		Signature: f.signer.Sign("missing", "pay_1"),
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSecondPaymentForPaidOrderIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)
	o := f.createOrder(t, "c1")

	_, err := f.verifier.VerifySignature(ctx, SignatureClaim{OrderID: o.ID, PaymentID: "pay_1", Signature: f.signer.Sign(o.ID, "pay_1")})
	require.NoError(t, err)

	_, err = f.verifier.VerifySignature(ctx, SignatureClaim{OrderID: o.ID, PaymentID: "pay_2", Signature: f.signer.Sign(o.ID, "pay_2")})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", got.PaymentID)
}

func TestConcurrentVerificationNotifiesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)
	o := f.createOrder(t, "c1")
	claim := SignatureClaim{OrderID: o.ID, PaymentID: "pay_1", Signature: f.signer.Sign(o.ID, "pay_1")}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verifier.VerifySignature(ctx, claim)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.notified.n.Load())
}

func TestLookupPicksLatestPendingOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"lookup"}, nil)

	older := f.createOrder(t, "c1")
	time.Sleep(2 * time.Millisecond)
	newer := f.createOrder(t, "c1")

	res, err := f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_1", CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, res.Order.ID)

	got, err := f.orders.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPendingPayment, got.Status)

	res, err = f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_1", CustomerID: "c1"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int32(1), f.notified.n.Load())

	res, err = f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_2", CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, older.ID, res.Order.ID)

	_, err = f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_3", CustomerID: "c1"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
}

func TestLookupRetryAfterPartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	payments := &flakyStore{Store: store.NewMemory()}
	f := newFixture(t, []string{"lookup"}, payments)
	o := f.createOrder(t, "c1")

	_, err := f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_1", CustomerID: "c1"})
	require.ErrorIs(t, err, apperr.ErrStorage)

	res, err := f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_1", CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, o.ID, res.Order.ID)
	assert.Equal(t, int32(1), f.notified.n.Load())

	p, err := payments.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.True(t, p.Verified())
}

func TestLookupRejectsForeignPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	payments := &flakyStore{Store: store.NewMemory()}
	f := newFixture(t, []string{"lookup"}, payments)
	f.createOrder(t, "c1")
	f.createOrder(t, "c2")

	_, err := f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_1", CustomerID: "c1"})
	require.Error(t, err)

	_, err = f.verifier.VerifyLookup(ctx, LookupClaim{PaymentID: "pay_1", CustomerID: "c2"})
	require.ErrorIs(t, err, apperr.ErrVerificationFailed)
}

func TestWalletTopUpCreditsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)

	topUp, err := f.verifier.CreateTopUp(ctx, "u1", 250)
	require.NoError(t, err)

	claim := SignatureClaim{
		OrderID:   topUp.ID,
		PaymentID: "pay_t1",
		Signature: f.signer.Sign(topUp.ID, "pay_t1"),
		Purpose:   domain.PurposeWalletTopUp,
	}
	for i := 0; i < 2; i++ {
		_, err := f.verifier.VerifySignature(ctx, claim)
		require.NoError(t, err)
	}

	// A second gateway payment for the same top-up does not credit again.
	_, err = f.verifier.VerifySignature(ctx, SignatureClaim{
		OrderID:   topUp.ID,
		PaymentID: "pay_t2",
		Signature: f.signer.Sign(topUp.ID, "pay_t2"),
		Purpose:   domain.PurposeWalletTopUp,
	})
	require.NoError(t, err)

	w, err := f.ledger.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), w.Balance)
	assert.Len(t, w.Transactions, 1)

	p, err := f.payments.Get(ctx, "pay_t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.CustomerID)
	assert.Equal(t, int64(250), p.Amount)
}

func TestWalletTopUpCreditsStoredAmountOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"signature"}, nil)

	o := f.createOrder(t, "c1")
	topUp, err := f.verifier.CreateTopUp(ctx, "u1", 100)
	require.NoError(t, err)

	tests := []struct {
		name  string
		claim SignatureClaim
	}{
		{
			name: "order_signature_reused_as_top_up",
			claim: SignatureClaim{
				OrderID:   o.ID,
				PaymentID: "pay_1",
				Signature: f.signer.Sign(o.ID, "pay_1"),
				Purpose:   domain.PurposeWalletTopUp,
				UserID:    "c1",
				Amount:    1_000_000_000,
			},
		},
		{
			name: "inflated_amount",
			claim: SignatureClaim{
				OrderID:   topUp.ID,
				PaymentID: "pay_2",
				Signature: f.signer.Sign(topUp.ID, "pay_2"),
				Purpose:   domain.PurposeWalletTopUp,
				UserID:    "u1",
				Amount:    1_000_000_000,
			},
		},
		{
			name: "other_user",
			claim: SignatureClaim{
				OrderID:   topUp.ID,
				PaymentID: "pay_3",
				Signature: f.signer.Sign(topUp.ID, "pay_3"),
				Purpose:   domain.PurposeWalletTopUp,
				UserID:    "c1",
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.verifier.VerifySignature(ctx, tt.claim)
			require.ErrorIs(t, err, apperr.ErrVerificationFailed)

			_, err = f.payments.Get(ctx, tt.claim.PaymentID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}

	for _, user := range []string{"c1", "u1"} {
		w, err := f.ledger.GetHistory(ctx, user)
		require.NoError(t, err)
		assert.Zero(t, w.Balance, user)
	}

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPendingPayment, got.Status)
}

func TestCreateTopUpValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"signature"}, nil)

	_, err := f.verifier.CreateTopUp(context.Background(), "", 100)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.verifier.CreateTopUp(context.Background(), "u1", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDisabledModeIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"lookup"}, nil)

	_, err := f.verifier.VerifySignature(context.Background(), SignatureClaim{OrderID: "o", PaymentID: "p", Signature: "s"})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNewVerifierConfig(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "both", cfg: Config{GatewaySecret: "s", VerifyModes: []string{"signature", "lookup"}}},
		{name: "lookup_without_secret", cfg: Config{VerifyModes: []string{"lookup"}}},
		{name: "signature_without_secret", cfg: Config{VerifyModes: []string{"signature"}}, wantErr: true},
		{name: "unknown_mode", cfg: Config{GatewaySecret: "s", VerifyModes: []string{"webhook"}}, wantErr: true},
		{name: "none", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewVerifier(tt.cfg, store.NewMemory(), nil, nil, nil, logger)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
