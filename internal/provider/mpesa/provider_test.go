package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"malricpharma/internal/config"
	"malricpharma/internal/provider"
	"malricpharma/internal/provider/mpesa/mpesatest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*Provider, *mpesatest.Server) {
	t.Helper()
	srv := mpesatest.NewServer()
	t.Cleanup(srv.Close)
	p := New(srv.Config(), nil)
	p.now = func() time.Time { return time.Date(2026, 1, 15, 7, 30, 45, 0, time.UTC) }
	return p, srv
}

func pushReq() provider.PushPaymentReq {
	return provider.PushPaymentReq{
		Phone:          "0712345678",
		Amount:         decimal.RequireFromString("1049.50"),
		OrderReference: "MP1768462245000000",
		Description:    "Payment for MalricPharma order MP1768462245000000",
	}
}

func providerCode(t *testing.T, err error) string {
	t.Helper()
	var pe *provider.ProviderError
	require.True(t, errors.As(err, &pe), "expected ProviderError, got %v", err)
	return pe.Code
}

func TestValidateConfigListsMissingKeys(t *testing.T) {
	p := New(config.MpesaCfg{Environment: "sandbox", ConsumerKey: "k"}, nil)

	err := p.ValidateConfig()
	require.Error(t, err)
	assert.Equal(t, provider.ErrConfigIncomplete, providerCode(t, err))
	assert.Contains(t, err.Error(), "MPESA_PASSKEY")
	assert.NotContains(t, err.Error(), "MPESA_CONSUMER_KEY")
}

func TestBaseURLByEnvironment(t *testing.T) {
	assert.Equal(t, sandboxURL, baseURL(config.MpesaCfg{Environment: "sandbox"}))
	assert.Equal(t, productionURL, baseURL(config.MpesaCfg{Environment: "production"}))
	assert.Equal(t, "http://fake", baseURL(config.MpesaCfg{Environment: "production", BaseURL: "http://fake"}))
}

func TestInitiatePushPayment(t *testing.T) {
	p, srv := newTestProvider(t)

	resp, err := p.InitiatePushPayment(context.Background(), pushReq())
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Equal(t, srv.LastCheckoutID(), resp.ProviderTransactionID)
	assert.Equal(t, "254712345678", resp.Phone)
	assert.Equal(t, int64(1050), resp.Amount)

	body := srv.LastSTK()
	assert.Equal(t, "CustomerPayBillOnline", body["TransactionType"])
	assert.Equal(t, "254712345678", body["PhoneNumber"])
	assert.Equal(t, float64(1050), body["Amount"])
	assert.Equal(t, "20260115103045", body["Timestamp"])
	want := base64.StdEncoding.EncodeToString([]byte(mpesatest.Shortcode + mpesatest.Passkey + "20260115103045"))
	assert.Equal(t, want, body["Password"])
}

func TestAccessTokenIsCached(t *testing.T) {
	p, srv := newTestProvider(t)

	_, err := p.InitiatePushPayment(context.Background(), pushReq())
	require.NoError(t, err)
	_, err = p.InitiatePushPayment(context.Background(), pushReq())
	require.NoError(t, err)

	tokens, stk, _ := srv.Calls()
	assert.Equal(t, 1, tokens)
	assert.Equal(t, 2, stk)
}

func TestInitiateRejectsBadInputBeforeNetwork(t *testing.T) {
	p, srv := newTestProvider(t)

	req := pushReq()
	req.Phone = "12345"
	_, err := p.InitiatePushPayment(context.Background(), req)
	assert.Equal(t, provider.ErrInvalidPhone, providerCode(t, err))

	req = pushReq()
	req.Amount = decimal.Zero
	_, err = p.InitiatePushPayment(context.Background(), req)
	assert.Equal(t, provider.ErrInvalidAmount, providerCode(t, err))

	tokens, stk, _ := srv.Calls()
	assert.Zero(t, tokens)
	assert.Zero(t, stk)
}

func TestInitiateRejectedByDaraja(t *testing.T) {
	p, srv := newTestProvider(t)
	srv.RejectSTK(http.StatusBadRequest, "400.002.02", "Bad Request - Invalid PhoneNumber")

	_, err := p.InitiatePushPayment(context.Background(), pushReq())
	assert.Equal(t, provider.ErrRejected, providerCode(t, err))
	assert.Contains(t, err.Error(), "Invalid PhoneNumber")
}

func TestInitiateDeclinedAck(t *testing.T) {
	p, srv := newTestProvider(t)
	srv.DeclineSTK("1", "Unable to lock subscriber")

	resp, err := p.InitiatePushPayment(context.Background(), pushReq())
	require.NoError(t, err)
	assert.False(t, resp.Accepted())
	assert.Equal(t, "Unable to lock subscriber", resp.AckDescription)
}

func TestQueryStatus(t *testing.T) {
	p, srv := newTestProvider(t)

	res, err := p.QueryStatus(context.Background(), "ws_CO_0001")
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.False(t, res.Final())

	srv.SetQueryResult("1032", "Request cancelled by user")
	res, err = p.QueryStatus(context.Background(), "ws_CO_0001")
	require.NoError(t, err)
	assert.True(t, res.Final())
	assert.False(t, res.Succeeded())
	assert.Equal(t, "ws_CO_0001", res.ProviderTransactionID)

	srv.SetQueryResult("0", "The service request is processed successfully.")
	res, err = p.QueryStatus(context.Background(), "ws_CO_0001")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	_, err = p.QueryStatus(context.Background(), " ")
	assert.Equal(t, provider.ErrRequestFailed, providerCode(t, err))
}

func TestUnreachableGateway(t *testing.T) {
	srv := mpesatest.NewServer()
	cfg := srv.Config()
	srv.Close()
	p := New(cfg, nil)

	_, err := p.InitiatePushPayment(context.Background(), pushReq())
	assert.Equal(t, provider.ErrAuthFailed, providerCode(t, err))
}
