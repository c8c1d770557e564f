package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/events"
	"tailorhub/internal/common/money"
	"tailorhub/internal/wallet/domain"
	"tailorhub/internal/wallet/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newLedger() (*Ledger, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewLedger(store.NewMemory(money.INR), pub, testLogger()), pub
}

func TestCreditThenOverdraw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, pub := newLedger()

	w, err := l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	assert.Empty(t, w.Transactions)

	receipt, err := l.Credit(ctx, "u1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), receipt.Balance)

	w, err = l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.Balance)
	require.Len(t, w.Transactions, 1)
	assert.Equal(t, domain.TransactionCredit, w.Transactions[0].Type)

	_, err = l.Debit(ctx, "u1", 150)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	w, err = l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.Balance)
	assert.Len(t, w.Transactions, 1)

	assert.Equal(t, []string{events.EventWalletCredited}, pub.types())
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger()

	for _, amount := range []int64{0, -5} {
		_, err := l.Credit(ctx, "u1", amount)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = l.Debit(ctx, "u1", amount)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	_, err := l.Credit(ctx, "", 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	w, err := l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, w.Transactions)
}

func TestConcurrentDebitsExactlyOneSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger()

	_, err := l.Credit(ctx, "u1", 100)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Debit(ctx, "u1", 80)
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrInsufficientBalance):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	w, err := l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), w.Balance)
}

func TestBalanceMatchesLogUnderConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger()

	rng := rand.New(rand.NewSource(42))
	type op struct {
		credit bool
		amount int64
	}
	ops := make([]op, 200)
	for i := range ops {
		ops[i] = op{credit: rng.Intn(2) == 0, amount: int64(rng.Intn(50) + 1)}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		expected int64
	)
	for _, o := range ops {
		wg.Add(1)
		go func(o op) {
			defer wg.Done()
			var err error
			if o.credit {
				_, err = l.Credit(ctx, "u1", o.amount)
			} else {
				_, err = l.Debit(ctx, "u1", o.amount)
			}
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
				return
			}
			mu.Lock()
			if o.credit {
				expected += o.amount
			} else {
				expected -= o.amount
			}
			mu.Unlock()
		}(o)
	}
	wg.Wait()

	w, err := l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, expected, w.Balance)
	assert.Equal(t, w.Replay(), w.Balance)
	assert.GreaterOrEqual(t, w.Balance, int64(0))

	var running int64
	for _, tx := range w.Transactions {
		if tx.Type == domain.TransactionCredit {
			running += tx.Amount
		} else {
			running -= tx.Amount
		}
		require.GreaterOrEqual(t, running, int64(0))
	}
}

func TestCreditOnceIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, pub := newLedger()

	applied, err := l.CreditOnce(ctx, "u1", 500, "pay_1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = l.CreditOnce(ctx, "u1", 500, "pay_1")
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := l.GetHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.Balance)
	assert.Len(t, w.Transactions, 1)
	assert.Len(t, pub.types(), 1)

	_, err = l.CreditOnce(ctx, "u1", 500, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type blockingStore struct{ store.Store }

func (blockingStore) Mutate(ctx context.Context, _ string, _ store.MutateFunc) (*domain.Receipt, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	l := NewLedger(blockingStore{}, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Debit(ctx, "u1", 10)
	require.ErrorIs(t, err, apperr.ErrTransient)
	assert.False(t, apperr.IsBusiness(err))
}
