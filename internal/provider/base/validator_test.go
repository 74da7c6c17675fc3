package base

import (
	"errors"
	"testing"

	"malricpharma/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":       "254712345678",
		"+254 712 345 678": "254712345678",
		"712345678":        "254712345678",
		"254112345678":     "254112345678",
		"0112-345-678":     "254112345678",
		"":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestValidatePhone(t *testing.T) {
	got, err := ValidatePhone("0712345678")
	require.NoError(t, err)
	assert.Equal(t, "254712345678", got)

	for _, bad := range []string{"12345", "0812345678", "25471234567", "abc"} {
		_, err := ValidatePhone(bad)
		var pe *provider.ProviderError
		require.True(t, errors.As(err, &pe), bad)
		assert.Equal(t, provider.ErrInvalidPhone, pe.Code, bad)
	}
}

func TestWholeUnits(t *testing.T) {
	v := NewAmountValidator("KES", 1, 250000)

	n, err := v.WholeUnits(decimal.RequireFromString("1049.50"))
	require.NoError(t, err)
	assert.Equal(t, int64(1050), n)

	_, err = v.WholeUnits(decimal.RequireFromString("0.4"))
	assert.Error(t, err)

	_, err = v.WholeUnits(decimal.NewFromInt(250001))
	var pe *provider.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, provider.ErrInvalidAmount, pe.Code)
}
