package payment

import (
	"testing"
	"time"

	"malricpharma/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestNewPaymentValidation(t *testing.T) {
	_, err := NewPayment("", MethodMpesa, decimal.NewFromInt(10), StatusPending, nil, now)
	assert.Error(t, err)

	_, err = NewPayment("o-1", MethodMpesa, decimal.Zero, StatusPending, nil, now)
	assert.Equal(t, core.CodeInvalidTotal, core.CodeOf(err))

	_, err = NewPayment("o-1", MethodMpesa, decimal.NewFromInt(10), StatusCompleted, nil, now)
	assert.Equal(t, core.CodeInvalidStatus, core.CodeOf(err))

	p, err := NewPayment("o-1", MethodCOD, decimal.NewFromInt(10), StatusPendingDelivery, nil, now)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.NotNil(t, p.Metadata)
}

func TestLifecycle(t *testing.T) {
	p, err := NewPayment("o-1", MethodMpesa, decimal.NewFromInt(1000), StatusPending, Metadata{"phoneNumber": "254712345678"}, now)
	require.NoError(t, err)
	assert.Equal(t, "254712345678", p.Phone())

	require.NoError(t, p.MarkInitiated("ws_CO_1", Metadata{"merchantRequestId": "mr-1"}, now))
	assert.Equal(t, StatusInitiated, p.Status)
	assert.Equal(t, "ws_CO_1", *p.ProviderTransactionID)
	assert.Equal(t, "mr-1", p.Metadata["merchantRequestId"])

	assert.Error(t, p.MarkInitiated("ws_CO_2", nil, now))

	require.NoError(t, p.MarkCompleted(Metadata{"mpesaReceiptNumber": "QKT1"}, now))
	assert.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)

	err = p.MarkFailed("late failure", nil, now)
	assert.Equal(t, core.CodeInvalidTransition, core.CodeOf(err))
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestStatusSets(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInitiated, StatusPendingDelivery} {
		assert.True(t, s.IsOpen(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		assert.False(t, s.IsOpen(), s)
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{
		"mpesa":            MethodMpesa,
		"M-Pesa":           MethodMpesa,
		"card":             MethodCard,
		"cash_on_delivery": MethodCOD,
		"COD":              MethodCOD,
	}
	for in, want := range cases {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMethod("bitcoin")
	assert.Equal(t, core.CodeInvalidPaymentMethod, core.CodeOf(err))
}
