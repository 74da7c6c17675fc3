package mpesa

import (
	"testing"

	"malricpharma/internal/config"
	"malricpharma/internal/provider"
	"malricpharma/internal/provider/mpesa/mpesatest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuccessCallback(t *testing.T) {
	p := New(config.MpesaCfg{}, nil)

	cb, err := p.ParseCallback(mpesatest.SuccessCallback("ws_CO_0001", 1050, "QKT1ABC2DE", "254712345678"))
	require.NoError(t, err)
	assert.True(t, cb.Success)
	assert.Equal(t, 0, cb.ResultCode)
	assert.Equal(t, "ws_CO_0001", cb.ProviderTransactionID)
	require.NotNil(t, cb.Details)
	assert.True(t, cb.Details.Amount.Equal(decimal.NewFromInt(1050)))
	assert.Equal(t, "QKT1ABC2DE", cb.Details.ReceiptNumber)
	assert.Equal(t, "20260115103045", cb.Details.TransactionDate)
	assert.Equal(t, "254712345678", cb.Details.PhoneNumber)
}

func TestParseFailureCallback(t *testing.T) {
	p := New(config.MpesaCfg{}, nil)

	cb, err := p.ParseCallback(mpesatest.FailureCallback("ws_CO_0002", 1032, "Request cancelled by user"))
	require.NoError(t, err)
	assert.False(t, cb.Success)
	assert.Equal(t, 1032, cb.ResultCode)
	assert.Equal(t, "Request cancelled by user", cb.ResultDesc)
	assert.Nil(t, cb.Details)
}

func TestParseCallbackRejectsMalformedBodies(t *testing.T) {
	p := New(config.MpesaCfg{}, nil)
	bodies := map[string]string{
		"not json":           `{"Body":`,
		"no stkCallback":     `{"Body":{}}`,
		"no checkout id":     `{"Body":{"stkCallback":{"ResultCode":0}}}`,
		"text result code":   `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":"zero"}}}`,
		"success no items":   `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`,
		"success no receipt": `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":10}]}}}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseCallback([]byte(body))
			assert.Equal(t, provider.ErrCallbackParseFailed, providerCode(t, err))
		})
	}
}

func TestParseCallbackStringResultCode(t *testing.T) {
	p := New(config.MpesaCfg{}, nil)

	cb, err := p.ParseCallback([]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_9","ResultCode":"2001","ResultDesc":"The initiator information is invalid."}}}`))
	require.NoError(t, err)
	assert.Equal(t, 2001, cb.ResultCode)
	assert.False(t, cb.Success)
}
