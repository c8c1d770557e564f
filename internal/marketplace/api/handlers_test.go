package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorhub/internal/common/idempotency"
	"tailorhub/internal/common/middleware"
	"tailorhub/internal/common/money"
	"tailorhub/internal/marketplace"
	"tailorhub/internal/notify"
	"tailorhub/internal/order"
	orderdomain "tailorhub/internal/order/domain"
	orderstore "tailorhub/internal/order/store"
	"tailorhub/internal/payment"
	paymentdomain "tailorhub/internal/payment/domain"
	paymentstore "tailorhub/internal/payment/store"
	"tailorhub/internal/wallet"
	walletstore "tailorhub/internal/wallet/store"
)

const gatewaySecret = "test-gateway-secret"

type pushRecorder struct {
	mu    sync.Mutex
	count int
}

func (p *pushRecorder) Send(context.Context, notify.Message) error {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	return nil
}

func (p *pushRecorder) sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

type testServer struct {
	*httptest.Server
	push   *pushRecorder
	signer *paymentdomain.Signer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	push := &pushRecorder{}
	notifier := notify.NewService(notify.NewMemoryTokens(), push, logger)
	orders := order.NewService(orderstore.NewMemory(), notifier, nil, logger)
	ledger := wallet.NewLedger(walletstore.NewMemory(money.INR), nil, logger)
	verifier, err := payment.NewVerifier(payment.Config{
		GatewaySecret: gatewaySecret,
		VerifyModes:   []string{"signature", "lookup"},
	}, paymentstore.NewMemory(), orders, ledger, nil, logger)
	require.NoError(t, err)

	svc, err := marketplace.NewService(marketplace.Config{
		InitialStatus:    "PendingPayment",
		Currency:         "INR",
		OperationTimeout: 5 * time.Second,
	}, ledger, orders, verifier, notifier, logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Idempotency(idempotency.NewMemoryStore(), time.Hour, logger))
	r.Mount("/", NewHandler(svc, logger).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, push: push, signer: paymentdomain.NewSigner(gatewaySecret)}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (s *testServer) getList(t *testing.T, path string) []map[string]any {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestWalletEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/wallet/add", map[string]any{"userId": "u1", "amount": 100})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = s.do(t, http.MethodPost, "/wallet/pay", map[string]any{"userId": "u1", "amount": 150})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INSUFFICIENT_BALANCE", errorCode(body))

	resp, body = s.do(t, http.MethodGet, "/wallet/u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 100, body["balance"])
	txs, _ := body["transactions"].([]any)
	assert.Len(t, txs, 1)

	resp, body = s.do(t, http.MethodGet, "/wallet/stranger", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["balance"])
	assert.Equal(t, []any{}, body["transactions"])
}

func TestWalletValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, body := range []map[string]any{
		{"userId": "u1", "amount": 0},
		{"userId": "u1", "amount": -5},
		{"amount": 10},
	} {
		resp, out := s.do(t, http.MethodPost, "/wallet/add", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(out))
	}

	resp, _ := s.do(t, http.MethodPost, "/wallet/add", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrderPaymentFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPut, "/users/c1/device-token", map[string]any{"token": "device-c1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, created := s.do(t, http.MethodPost, "/orders", map[string]any{
		"customerId": "c1",
		"service":    "sherwani",
		"amount":     7500,
		"address":    "3 Temple Lane",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, string(orderdomain.StatusPendingPayment), created["status"])

	verify := map[string]any{
		"orderId":   id,
		"paymentId": "pay_100",
		"signature": s.signer.Sign(id, "pay_100"),
	}
	resp, body := s.do(t, http.MethodPost, "/payment/verify", verify)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = s.do(t, http.MethodPost, "/payment/verify", verify)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	assert.Equal(t, true, data["replayed"])

	resp, order := s.do(t, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(orderdomain.StatusPending), order["status"])
	assert.Equal(t, "pay_100", order["paymentId"])
	assert.Equal(t, 1, s.push.sent())

	resp, body = s.do(t, http.MethodPut, "/orders/"+id, map[string]any{"status": "InProgress"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"id": id, "status": "InProgress"}, body)

	resp, body = s.do(t, http.MethodPost, "/orders/update", map[string]any{"orderId": id, "status": "Completed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Completed", body["status"])

	resp, body = s.do(t, http.MethodPost, "/orders/"+id, map[string]any{"status": "Pending"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(body))

	assert.Len(t, s.getList(t, "/orders"), 1)
	assert.Len(t, s.getList(t, "/orders/customer/c1"), 1)
	assert.Empty(t, s.getList(t, "/orders/customer/c2"))
}

func TestVerifyPaymentErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, created := s.do(t, http.MethodPost, "/orders", map[string]any{
		"customerId": "c1", "service": "kurta", "amount": 800, "address": "7 Fort Road",
	})
	id, _ := created["id"].(string)

	resp, body := s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"orderId": id, "paymentId": "pay_bad", "signature": "deadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VERIFICATION_FAILED", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"paymentId": "pay_l", "customerId": "nobody",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	resp, _ = s.do(t, http.MethodPost, "/payment/verify", map[string]any{"orderId": id})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotifyEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	msg := map[string]any{"userId": "u5", "title": "Hello", "body": "Your fitting is tomorrow"}
	resp, body := s.do(t, http.MethodPost, "/notify", msg)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NO_DELIVERY_TOKEN", errorCode(body))

	resp, _ = s.do(t, http.MethodPut, "/users/u5/device-token", map[string]any{"token": "tok-5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/notify", msg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, s.push.sent())
}

func TestIdempotencyKeyReplaysCredit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	add := map[string]any{"userId": "u7", "amount": 40}
	resp, _ := s.do(t, http.MethodPost, "/wallet/add", add, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/wallet/add", add, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Idempotency-Replayed"))

	_, body := s.do(t, http.MethodGet, "/wallet/u7", nil)
	assert.EqualValues(t, 40, body["balance"])
}

func TestWalletTopUpEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/wallet/topup", map[string]any{"userId": "u3", "amount": 250})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data, _ := body["data"].(map[string]any)
	topUpID, _ := data["id"].(string)
	require.NotEmpty(t, topUpID)
	assert.EqualValues(t, 250, data["amount"])

	resp, body = s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"orderId":   topUpID,
		"paymentId": "pay_inflated",
		"signature": s.signer.Sign(topUpID, "pay_inflated"),
		"purpose":   "wallet_topup",
		"userId":    "u3",
		"amount":    1_000_000,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VERIFICATION_FAILED", errorCode(body))

	_, created := s.do(t, http.MethodPost, "/orders", map[string]any{
		"customerId": "u3", "service": "hem", "amount": 1, "address": "2 Mall Road",
	})
	orderID, _ := created["id"].(string)
	resp, body = s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"orderId":   orderID,
		"paymentId": "pay_order",
		"signature": s.signer.Sign(orderID, "pay_order"),
		"purpose":   "wallet_topup",
		"userId":    "u3",
		"amount":    1_000_000,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VERIFICATION_FAILED", errorCode(body))

	resp, _ = s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"orderId":   topUpID,
		"paymentId": "pay_topup",
		"signature": s.signer.Sign(topUpID, "pay_topup"),
		"purpose":   "wallet_topup",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = s.do(t, http.MethodGet, "/wallet/u3", nil)
	assert.EqualValues(t, 250, body["balance"])
}

func TestTamperedReplayOfVerifiedPaymentFails(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, created := s.do(t, http.MethodPost, "/orders", map[string]any{
		"customerId": "c1", "service": "blouse", "amount": 900, "address": "9 Lake View",
	})
	id, _ := created["id"].(string)

	resp, _ := s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"orderId": id, "paymentId": "pay_1", "signature": s.signer.Sign(id, "pay_1"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/payment/verify", map[string]any{
		"orderId": "whatever", "paymentId": "pay_1", "signature": s.signer.Sign(id, "pay_1"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VERIFICATION_FAILED", errorCode(body))
}

func TestManualPendingWithoutPaymentIsRejected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, created := s.do(t, http.MethodPost, "/orders", map[string]any{
		"customerId": "c1", "service": "kurta", "amount": 800, "address": "7 Fort Road",
	})
	id, _ := created["id"].(string)

	resp, body := s.do(t, http.MethodPut, "/orders/"+id, map[string]any{"status": "Pending"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(body))

	_, order := s.do(t, http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, string(orderdomain.StatusPendingPayment), order["status"])
	assert.Nil(t, order["paymentId"])

	resp, _ = s.do(t, http.MethodPut, "/orders/"+id, map[string]any{"status": "Cancelled"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
