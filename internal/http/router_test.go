package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"malricpharma/internal/auth"
	"malricpharma/internal/config"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
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

type api struct {
	handler http.Handler
	issuer  *auth.Issuer
	store   *memory.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memory.New()
	store.AddProduct(product.Product{ID: 7, Name: "Paracetamol 500mg", Price: decimal.NewFromInt(500)})
	daraja := mpesatest.NewServer()
	t.Cleanup(daraja.Close)
	gateway := mpesa.New(daraja.Config(), nil)

	reconciler := paysvc.NewReconciler(gateway, store.UnitOfWork(), nil)
	payments := paysvc.NewService(gateway, store.Payments(), store.Orders(), store.UnitOfWork(), reconciler, nil)
	orders := ordersvc.NewService(store.UnitOfWork(), store.Orders(), store.Payments(), payments, nil)
	callbacks := eventsvc.NewCallbackSystem(store.Events(), gateway, reconciler, eventsvc.DefaultWorkerConfig())
	issuer := auth.NewIssuer("router-test-secret", time.Hour)

	h := NewRouter(RouterDependencies{
		Config:         config.Cfg{App: config.AppCfg{Env: "test"}},
		Issuer:         issuer,
		AuthService:    authsvc.NewService(store.Users(), store.RefreshTokens(), issuer, 0),
		OrderService:   orders,
		PaymentService: payments,
		ProductService: productsvc.NewService(store.Products()),
		EventProcessor: callbacks.Processor,
		EventReplay:    callbacks.Replay,
	})
	return &api{handler: h, issuer: issuer, store: store}
}

func (a *api) token(t *testing.T, u user.User) string {
	t.Helper()
	tok, err := a.issuer.Issue(&u)
	require.NoError(t, err)
	return tok
}

func (a *api) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	assert.Equal(t, false, body["success"])
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error object: %v", body)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["environment"])
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	code, body = a.do(t, http.MethodGet, "/api/v1/orders", "garbage", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, body))

	code, body = a.do(t, http.MethodGet, "/api/v1/orders", a.token(t, user.User{ID: 5}), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
}

func TestAdminGate(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodGet, "/api/v1/admin/orders", a.token(t, user.User{ID: 5}), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))

	code, _ = a.do(t, http.MethodGet, "/api/v1/admin/orders/stats", a.token(t, user.User{ID: 1, IsAdmin: true}), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTotalMismatchEnvelope(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, http.MethodPost, "/api/v1/orders", a.token(t, user.User{ID: 5}), map[string]any{
		"items":         []map[string]any{{"productId": 7, "quantity": 2}},
		"shippingInfo":  map[string]any{"fullName": "Jane", "phone": "0712345678", "address": "Moi Ave"},
		"paymentMethod": "mpesa",
		"total":         1200,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "TOTAL_MISMATCH", errorCode(t, body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "1000.00", details["serverTotal"])
	assert.Equal(t, "1200.00", details["clientTotal"])
}

func TestMalformedBody(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, http.MethodPost, "/api/v1/orders", a.token(t, user.User{ID: 5}), "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, body))
}

func TestUnknownOrderIs404(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, http.MethodGet, "/api/v1/orders/does-not-exist", a.token(t, user.User{ID: 5}), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ORDER_NOT_FOUND", errorCode(t, body))
}

func TestCallbackAlwaysAcknowledged(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/api/v1/payments/mpesa/callback", "", "{broken")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["ResultCode"])
	assert.Equal(t, "Callback received but processing failed", body["ResultDesc"])

	code, body = a.do(t, http.MethodPost, "/api/v1/payments/mpesa/callback", "",
		string(mpesatest.FailureCallback("ws_CO_unknown", 1032, "Request cancelled by user")))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Callback received", body["ResultDesc"])
	assert.Equal(t, 2, a.store.Counts()["events"])
}

func TestRegisterLoginMe(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "jane@example.com", "password": "wanjiku-2026", "name": "Jane Wanjiku",
	})
	require.Equal(t, http.StatusCreated, code)
	tokens := body["data"].(map[string]any)["tokens"].(map[string]any)
	access := tokens["accessToken"].(string)

	code, body = a.do(t, http.MethodGet, "/api/v1/auth/me", access, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "jane@example.com", body["data"].(map[string]any)["email"])
	assert.NotContains(t, body["data"], "PasswordHash")

	code, body = a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "jane@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, body))

	code, body = a.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, body))

	code, _ = a.do(t, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{"refreshToken": tokens["refreshToken"]})
	assert.Equal(t, http.StatusOK, code)
}

func TestProductCatalog(t *testing.T) {
	a := newAPI(t)
	admin := a.token(t, user.User{ID: 1, IsAdmin: true})
	customer := a.token(t, user.User{ID: 5})

	code, body := a.do(t, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusOK, code)
	page := body["data"].(map[string]any)
	assert.Equal(t, float64(1), page["total"])

	code, body = a.do(t, http.MethodGet, "/api/v1/products/7", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Paracetamol 500mg", body["data"].(map[string]any)["name"])

	code, body = a.do(t, http.MethodGet, "/api/v1/products/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, body))

	code, body = a.do(t, http.MethodGet, "/api/v1/products/99", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "PRODUCT_NOT_FOUND", errorCode(t, body))

	amoxil := map[string]any{
		"name": "Amoxil 250mg", "description": "Amoxicillin capsules, 21s",
		"category": "Antibiotics", "price": "350.00",
	}
	code, _ = a.do(t, http.MethodPost, "/api/v1/products", "", amoxil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body = a.do(t, http.MethodPost, "/api/v1/products", customer, amoxil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))

	code, body = a.do(t, http.MethodPost, "/api/v1/products", admin, amoxil)
	require.Equal(t, http.StatusCreated, code)
	id := body["data"].(map[string]any)["id"].(float64)
	assert.Equal(t, float64(8), id)

	code, body = a.do(t, http.MethodPost, "/api/v1/products", admin, map[string]any{"name": "No price"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_PRODUCT", errorCode(t, body))

	code, body = a.do(t, http.MethodPut, "/api/v1/products/8", admin, map[string]any{"price": "400.00"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "400", body["data"].(map[string]any)["price"])
	assert.Equal(t, "Amoxil 250mg", body["data"].(map[string]any)["name"])

	// The edited price is what checkout charges.
	code, body = a.do(t, http.MethodPost, "/api/v1/orders", customer, map[string]any{
		"items":         []map[string]any{{"productId": 8, "quantity": 2}},
		"shippingInfo":  map[string]any{"fullName": "Jane", "phone": "0712345678", "address": "Moi Ave"},
		"paymentMethod": "cod",
		"total":         800,
	})
	require.Equal(t, http.StatusCreated, code, body)

	code, _ = a.do(t, http.MethodDelete, "/api/v1/products/8", customer, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(t, http.MethodDelete, "/api/v1/products/8", admin, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = a.do(t, http.MethodDelete, "/api/v1/products/8", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "PRODUCT_NOT_FOUND", errorCode(t, body))

	code, body = a.do(t, http.MethodPost, "/api/v1/orders", customer, map[string]any{
		"items":         []map[string]any{{"productId": 8, "quantity": 1}},
		"shippingInfo":  map[string]any{"fullName": "Jane", "phone": "0712345678", "address": "Moi Ave"},
		"paymentMethod": "cod",
		"total":         400,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ITEMS_UNAVAILABLE", errorCode(t, body))
}

func TestOversizedBodyRejected(t *testing.T) {
	a := newAPI(t)
	huge := `{"name":"` + strings.Repeat("a", 128<<10) + `"}`

	code, body := a.do(t, http.MethodPost, "/api/v1/products", a.token(t, user.User{ID: 1, IsAdmin: true}), huge)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "REQUEST_TOO_LARGE", errorCode(t, body))

	code, body = a.do(t, http.MethodPost, "/api/v1/auth/login", "", huge)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "REQUEST_TOO_LARGE", errorCode(t, body))
}

func TestHugePageParameter(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodGet, "/api/v1/products?page=9223372036854775807&limit=100", "", nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Empty(t, data["products"])
	assert.Equal(t, float64(1), data["total"])

	code, body = a.do(t, http.MethodGet, "/api/v1/orders?page=9223372036854775807", a.token(t, user.User{ID: 5}), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"].(map[string]any)["orders"])
}
