package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tailorhub/internal/common/api"
	"tailorhub/internal/marketplace"
	orderdomain "tailorhub/internal/order/domain"
	paymentdomain "tailorhub/internal/payment/domain"
	walletdomain "tailorhub/internal/wallet/domain"
)

// Handler handles marketplace HTTP requests
type Handler struct {
	service *marketplace.Service
	logger  *slog.Logger
}

// NewHandler creates a new marketplace handler
func NewHandler(service *marketplace.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the marketplace routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Wallet routes
	r.Post("/wallet/add", h.AddMoney)
	r.Post("/wallet/pay", h.PayWithWallet)
	r.Post("/wallet/topup", h.CreateWalletTopUp)
	r.Get("/wallet/{userId}", h.GetWallet)

	// Order routes
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders", h.ListOrders)
	r.Get("/orders/customer/{customerId}", h.ListCustomerOrders)
	r.Post("/orders/update", h.UpdateOrderByBody)
	r.Get("/orders/{id}", h.GetOrder)
	r.Put("/orders/{id}", h.UpdateOrder)
	r.Post("/orders/{id}", h.UpdateOrder)

	// Payment routes
	r.Post("/payment/verify", h.VerifyPayment)

	// Notification routes
	r.Post("/notify", h.Notify)
	r.Put("/users/{userId}/device-token", h.RegisterDeviceToken)

	return r
}

// WalletRequest is the body of /wallet/add, /wallet/pay and /wallet/topup
type WalletRequest struct {
	UserID string `json:"userId" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

// AddMoney handles POST /wallet/add
func (h *Handler) AddMoney(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	receipt, err := h.service.AddMoney(r.Context(), req.UserID, req.Amount)
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}

	api.WriteData(w, http.StatusOK, receipt)
}

// PayWithWallet handles POST /wallet/pay
func (h *Handler) PayWithWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	receipt, err := h.service.PayWithWallet(r.Context(), req.UserID, req.Amount)
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}

	api.WriteData(w, http.StatusOK, receipt)
}

// CreateWalletTopUp handles POST /wallet/topup. The returned id is the
// order reference to pay at the gateway with purpose wallet_topup.
func (h *Handler) CreateWalletTopUp(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	topUp, err := h.service.CreateWalletTopUp(r.Context(), req.UserID, req.Amount)
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}

	api.WriteData(w, http.StatusCreated, topUp)
}

// WalletResponse is the body of GET /wallet/{userId}
type WalletResponse struct {
	Balance      int64                      `json:"balance"`
	Transactions []walletdomain.Transaction `json:"transactions"`
}

// GetWallet handles GET /wallet/{userId}. Unknown users get a zero balance.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.WalletHistory(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}

	txs := wallet.Transactions
	if txs == nil {
		txs = []walletdomain.Transaction{}
	}
	api.WriteJSON(w, http.StatusOK, WalletResponse{Balance: wallet.Balance, Transactions: txs})
}

// CreateOrderRequest is the API request for creating an order
type CreateOrderRequest struct {
	CustomerID string `json:"customerId" validate:"required"`
	Service    string `json:"service" validate:"required"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	Address    string `json:"address" validate:"required"`
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	o, err := h.service.CreateOrder(r.Context(), marketplace.CreateOrderInput{
		CustomerID: req.CustomerID,
		Service:    req.Service,
		Amount:     req.Amount,
		Address:    req.Address,
	})
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, o)
}

// ListOrders handles GET /orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, nonNil(orders))
}

// ListCustomerOrders handles GET /orders/customer/{customerId}
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListCustomerOrders(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, nonNil(orders))
}

// GetOrder handles GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, o)
}

// UpdateOrderRequest is the body of PUT /orders/{id}
type UpdateOrderRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateOrderByIDRequest is the body of POST /orders/update
type UpdateOrderByIDRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Status  string `json:"status" validate:"required"`
}

// OrderStatusResponse is returned by order status updates
type OrderStatusResponse struct {
	ID     string             `json:"id"`
	Status orderdomain.Status `json:"status"`
}

// UpdateOrder handles PUT and POST /orders/{id}
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	h.updateStatus(w, r, chi.URLParam(r, "id"), req.Status)
}

// UpdateOrderByBody handles POST /orders/update
func (h *Handler) UpdateOrderByBody(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderByIDRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	h.updateStatus(w, r, req.OrderID, req.Status)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, id, status string) {
	o, err := h.service.UpdateOrderStatus(r.Context(), id, status)
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, OrderStatusResponse{ID: o.ID, Status: o.Status})
}

// VerifyPaymentRequest carries signature-mode fields (orderId, paymentId,
// signature) or lookup-mode fields (paymentId, customerId).
type VerifyPaymentRequest struct {
	Mode       string `json:"mode" validate:"omitempty,oneof=signature lookup"`
	OrderID    string `json:"orderId"`
	PaymentID  string `json:"paymentId" validate:"required"`
	Signature  string `json:"signature"`
	CustomerID string `json:"customerId"`
	Purpose    string `json:"purpose" validate:"omitempty,oneof=order wallet_topup"`
	UserID     string `json:"userId"`
	Amount     int64  `json:"amount" validate:"gte=0"`
}

// VerifyPaymentResponse is the data of a successful verification
type VerifyPaymentResponse struct {
	PaymentID string             `json:"paymentId"`
	OrderID   string             `json:"orderId,omitempty"`
	Status    orderdomain.Status `json:"status,omitempty"`
	Replayed  bool               `json:"replayed"`
}

// VerifyPayment handles POST /payment/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	res, err := h.service.VerifyPayment(r.Context(), marketplace.VerifyPaymentInput{
		Mode:       paymentdomain.Mode(req.Mode),
		OrderID:    req.OrderID,
		PaymentID:  req.PaymentID,
		Signature:  req.Signature,
		CustomerID: req.CustomerID,
		Purpose:    paymentdomain.Purpose(req.Purpose),
		UserID:     req.UserID,
		Amount:     req.Amount,
	})
	if err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}

	resp := VerifyPaymentResponse{
		PaymentID: res.Payment.PaymentID,
		OrderID:   res.Payment.OrderID,
		Replayed:  res.Replayed,
	}
	if res.Order != nil {
		resp.Status = res.Order.Status
	}
	api.WriteData(w, http.StatusOK, resp)
}

// NotifyRequest is the API request for sending a notification
type NotifyRequest struct {
	UserID string `json:"userId" validate:"required"`
	Title  string `json:"title" validate:"required"`
	Body   string `json:"body" validate:"required"`
}

// Notify handles POST /notify
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	if err := h.service.Notify(r.Context(), req.UserID, req.Title, req.Body); err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK)
}

// DeviceTokenRequest registers a push token for a user
type DeviceTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// RegisterDeviceToken handles PUT /users/{userId}/device-token
func (h *Handler) RegisterDeviceToken(w http.ResponseWriter, r *http.Request) {
	var req DeviceTokenRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	if err := h.service.RegisterDeviceToken(r.Context(), chi.URLParam(r, "userId"), req.Token); err != nil {
		api.WriteAppError(w, h.logger, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK)
}

func nonNil(orders []*orderdomain.Order) []*orderdomain.Order {
	if orders == nil {
		return []*orderdomain.Order{}
	}
	return orders
}
