package malricpharma

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"malricpharma/internal/auth"
	"malricpharma/internal/config"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
	httpx "malricpharma/internal/http"
	"malricpharma/internal/provider/mpesa"
	"malricpharma/internal/provider/mpesa/mpesatest"
	authsvc "malricpharma/internal/services/auth"
	eventsvc "malricpharma/internal/services/event"
	ordersvc "malricpharma/internal/services/order"
	paysvc "malricpharma/internal/services/payment"
	productsvc "malricpharma/internal/services/product"
	"malricpharma/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c client) call(method, path string, body any, out any) (int, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(c.t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(c.t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, env
}

type orderView struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Notes         string `json:"notes"`
	History       []struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	} `json:"statusHistory"`
	Payments []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payments"`
}

type checkoutView struct {
	Order   orderView `json:"order"`
	Payment *struct {
		Success               bool   `json:"success"`
		Status                string `json:"status"`
		ProviderTransactionID string `json:"providerTransactionId"`
	} `json:"payment"`
	PaymentError *struct {
		Code string `json:"code"`
	} `json:"paymentError"`
}

type stack struct {
	base   string
	daraja *mpesatest.Server
	issuer *auth.Issuer
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := memory.New()
	store.AddProduct(product.Product{ID: 7, Name: "Paracetamol 500mg", Category: "Pain relief", Price: decimal.NewFromInt(500)})
	store.AddProduct(product.Product{ID: 8, Name: "Vitamin C 1000mg", Category: "Supplements", Price: decimal.RequireFromString("250.50")})

	daraja := mpesatest.NewServer()
	t.Cleanup(daraja.Close)
	gateway := mpesa.New(daraja.Config(), nil)

	reconciler := paysvc.NewReconciler(gateway, store.UnitOfWork(), nil)
	payments := paysvc.NewService(gateway, store.Payments(), store.Orders(), store.UnitOfWork(), reconciler, nil)
	orders := ordersvc.NewService(store.UnitOfWork(), store.Orders(), store.Payments(), payments, nil)
	callbacks := eventsvc.NewCallbackSystem(store.Events(), gateway, reconciler, eventsvc.DefaultWorkerConfig())
	issuer := auth.NewIssuer("integration-secret", time.Hour)

	srv := httptest.NewServer(httpx.NewRouter(httpx.RouterDependencies{
		Config:         config.Cfg{App: config.AppCfg{Env: "test"}},
		Issuer:         issuer,
		AuthService:    authsvc.NewService(store.Users(), store.RefreshTokens(), issuer, 0),
		OrderService:   orders,
		PaymentService: payments,
		ProductService: productsvc.NewService(store.Products()),
		EventProcessor: callbacks.Processor,
		EventReplay:    callbacks.Replay,
	}))
	t.Cleanup(srv.Close)
	return &stack{base: srv.URL + "/api/v1", daraja: daraja, issuer: issuer}
}

func (s *stack) customer(t *testing.T, email string) client {
	t.Helper()
	var sess struct {
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
	}
	code, env := client{t: t, base: s.base}.call(http.MethodPost, "/auth/register",
		map[string]string{"email": email, "password": "wanjiku-2026", "name": "Jane Wanjiku"}, &sess)
	require.Equal(t, http.StatusCreated, code, "%+v", env.Error)
	return client{t: t, base: s.base, token: sess.Tokens.AccessToken}
}

func (s *stack) admin(t *testing.T) client {
	t.Helper()
	tok, err := s.issuer.Issue(&user.User{ID: 1000, Email: "admin@malricpharma.co.ke", IsAdmin: true})
	require.NoError(t, err)
	return client{t: t, base: s.base, token: tok}
}

func (s *stack) callback(t *testing.T, body []byte) string {
	t.Helper()
	resp, err := http.Post(s.base+"/payments/mpesa/callback", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack struct {
		ResultCode int    `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Zero(t, ack.ResultCode)
	return ack.ResultDesc
}

func cart(method string, total float64) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"productId": 7, "quantity": 2},
			{"productId": 8, "quantity": 1},
		},
		"shippingInfo": map[string]any{
			"fullName": "Jane Wanjiku",
			"phone":    "0712345678",
			"address":  "Moi Avenue 12",
			"city":     "Nairobi",
		},
		"paymentMethod": method,
		"total":         total,
	}
}

func TestCheckoutPaidByMpesa(t *testing.T) {
	s := newStack(t)
	jane := s.customer(t, "jane@example.com")

	var created checkoutView
	code, env := jane.call(http.MethodPost, "/orders", cart("mpesa", 1250.50), &created)
	require.Equal(t, http.StatusCreated, code, "%+v", env.Error)
	require.NotNil(t, created.Payment)
	assert.True(t, created.Payment.Success)
	assert.Equal(t, "initiated", created.Order.PaymentStatus)
	assert.Equal(t, "PENDING", created.Order.Status)
	txID := created.Payment.ProviderTransactionID
	assert.Equal(t, s.daraja.LastCheckoutID(), txID)

	desc := s.callback(t, mpesatest.SuccessCallback(txID, 1251, "QKT1ABC2DE", "254712345678"))
	assert.Equal(t, "Callback processed successfully", desc)

	var got orderView
	code, _ = jane.call(http.MethodGet, "/orders/"+created.Order.ID, nil, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CONFIRMED", got.Status)
	assert.Equal(t, "completed", got.PaymentStatus)
	require.Len(t, got.History, 2)
	assert.Equal(t, "Payment confirmed via M-Pesa (receipt QKT1ABC2DE)", got.History[1].Notes)

	// redelivery is acknowledged and changes nothing
	assert.Equal(t, "Callback processed successfully", s.callback(t, mpesatest.SuccessCallback(txID, 1251, "QKT1ABC2DE", "254712345678")))
	code, _ = jane.call(http.MethodGet, "/orders/track/"+created.Order.OrderNumber, nil, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, got.History, 2)

	admin := s.admin(t)
	for _, next := range []string{"PROCESSING", "SHIPPED", "DELIVERED"} {
		code, env = admin.call(http.MethodPatch, "/admin/orders/"+created.Order.ID+"/status", map[string]string{"status": next}, &got)
		require.Equal(t, http.StatusOK, code, "%s: %+v", next, env.Error)
		assert.Equal(t, next, got.Status)
	}

	code, env = jane.call(http.MethodPatch, "/orders/"+created.Order.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "CANNOT_CANCEL", env.Error.Code)

	var stats struct {
		TotalOrders     int `json:"totalOrders"`
		CompletedOrders int `json:"completedOrders"`
	}
	code, _ = admin.call(http.MethodGet, "/admin/orders/stats", nil, &stats)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, 1, stats.CompletedOrders)
}

func TestCheckoutCancelledByPayer(t *testing.T) {
	s := newStack(t)
	jane := s.customer(t, "jane@example.com")

	var created checkoutView
	code, _ := jane.call(http.MethodPost, "/orders", cart("mpesa", 1250.50), &created)
	require.Equal(t, http.StatusCreated, code)

	s.callback(t, mpesatest.FailureCallback(created.Payment.ProviderTransactionID, 1032, "Request cancelled by user"))

	var got orderView
	jane.call(http.MethodGet, "/orders/"+created.Order.ID, nil, &got)
	assert.Equal(t, "CANCELLED", got.Status)
	assert.Equal(t, "failed", got.PaymentStatus)

	code, env := jane.call(http.MethodPost, "/orders/"+created.Order.ID+"/payments/retry", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "PAYMENT_NOT_RETRYABLE", env.Error.Code)
}

func TestFailedPushCanBeRetried(t *testing.T) {
	s := newStack(t)
	jane := s.customer(t, "jane@example.com")
	s.daraja.RejectSTK(http.StatusBadRequest, "400.002.02", "Bad Request - Invalid Amount")

	var created checkoutView
	code, _ := jane.call(http.MethodPost, "/orders", cart("mpesa", 1250.50), &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, created.PaymentError)
	assert.Equal(t, "GATEWAY_ERROR", created.PaymentError.Code)
	assert.Equal(t, "failed", created.Order.PaymentStatus)

	admin := s.admin(t)
	var awaiting struct {
		Total int `json:"total"`
	}
	admin.call(http.MethodGet, "/admin/orders/awaiting-payment", nil, &awaiting)
	assert.Equal(t, 1, awaiting.Total)

	var retried struct {
		Success                 bool   `json:"success"`
		Status                  string `json:"status"`
		RequiresDeliveryPayment bool   `json:"requiresDeliveryPayment"`
	}
	code, env := jane.call(http.MethodPost, "/orders/"+created.Order.ID+"/payments/retry", map[string]string{"paymentMethod": "cod"}, &retried)
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	assert.True(t, retried.Success)
	assert.Equal(t, "pending_delivery", retried.Status)
	assert.True(t, retried.RequiresDeliveryPayment)

	admin.call(http.MethodGet, "/admin/orders/awaiting-payment", nil, &awaiting)
	assert.Zero(t, awaiting.Total)
}

func TestOrdersAreScopedToOwner(t *testing.T) {
	s := newStack(t)
	jane := s.customer(t, "jane@example.com")
	otieno := s.customer(t, "otieno@example.com")

	var created checkoutView
	code, _ := jane.call(http.MethodPost, "/orders", cart("cod", 1250.50), &created)
	require.Equal(t, http.StatusCreated, code)

	code, env := otieno.call(http.MethodGet, "/orders/"+created.Order.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, _ = otieno.call(http.MethodGet, "/payments/"+created.Order.Payments[0].ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var list struct {
		Total int `json:"total"`
	}
	otieno.call(http.MethodGet, "/orders", nil, &list)
	assert.Zero(t, list.Total)
	jane.call(http.MethodGet, "/orders?status=pending", nil, &list)
	assert.Equal(t, 1, list.Total)
}
