package base

import (
	"fmt"
	"regexp"
	"strings"

	"malricpharma/internal/provider"

	"github.com/shopspring/decimal"
)

const kenyaCountryCode = "254"

var kenyaMSISDN = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone rewrites a Kenyan phone number to 2547XXXXXXXX / 2541XXXXXXXX.
// Non-digits are stripped, a leading trunk 0 becomes the country code and a
// bare subscriber number gets the country code prepended.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "0"):
		return kenyaCountryCode + digits[1:]
	case strings.HasPrefix(digits, "7") && len(digits) == 9:
		return kenyaCountryCode + digits
	case !strings.HasPrefix(digits, kenyaCountryCode):
		return kenyaCountryCode + digits
	}
	return digits
}

// ValidatePhone normalizes phone and checks it is a dialable Kenyan mobile number.
func ValidatePhone(phone string) (string, error) {
	normalized := NormalizePhone(phone)
	if !kenyaMSISDN.MatchString(normalized) {
		return "", &provider.ProviderError{
			Code:    provider.ErrInvalidPhone,
			Message: fmt.Sprintf("invalid phone number %q", phone),
		}
	}
	return normalized, nil
}

// AmountValidator validates payment amounts
type AmountValidator struct {
	minAmount int64
	maxAmount int64
	currency  string
}

// NewAmountValidator creates an amount validator with limits
func NewAmountValidator(currency string, minAmount, maxAmount int64) *AmountValidator {
	return &AmountValidator{
		minAmount: minAmount,
		maxAmount: maxAmount,
		currency:  currency,
	}
}

// WholeUnits rounds amount to whole currency units and checks the limits.
func (v *AmountValidator) WholeUnits(amount decimal.Decimal) (int64, error) {
	units := amount.Round(0).IntPart()
	if units <= 0 {
		return 0, &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: "amount must be greater than zero",
		}
	}
	if units < v.minAmount {
		return 0, &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("amount must be at least %d %s", v.minAmount, v.currency),
		}
	}
	if v.maxAmount > 0 && units > v.maxAmount {
		return 0, &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("amount must not exceed %d %s", v.maxAmount, v.currency),
		}
	}
	return units, nil
}
