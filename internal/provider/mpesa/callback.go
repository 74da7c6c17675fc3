package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"malricpharma/internal/provider"

	"github.com/shopspring/decimal"
)

// stkCallback is the JSON shape Safaricom posts to CallBackURL.
type stkCallback struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        flexString `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback extracts the result of an STK push from a callback body.
// Any structural problem is a parse failure, never a business failure.
func (p *Provider) ParseCallback(body []byte) (*provider.CallbackResult, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var cb stkCallback
	if err := dec.Decode(&cb); err != nil {
		return nil, parseErr("invalid callback JSON: %v", err)
	}
	stk := cb.Body.StkCallback
	if stk == nil {
		return nil, parseErr("callback has no Body.stkCallback")
	}
	if stk.CheckoutRequestID == "" {
		return nil, parseErr("callback has no CheckoutRequestID")
	}
	code, err := strconv.Atoi(string(stk.ResultCode))
	if err != nil {
		return nil, parseErr("callback ResultCode %q is not numeric", stk.ResultCode)
	}

	res := &provider.CallbackResult{
		MerchantRequestID:     stk.MerchantRequestID,
		ProviderTransactionID: stk.CheckoutRequestID,
		ResultCode:            code,
		ResultDesc:            stk.ResultDesc,
		Success:               code == 0,
	}
	if !res.Success {
		return res, nil
	}

	if stk.CallbackMetadata == nil || len(stk.CallbackMetadata.Item) == 0 {
		return nil, parseErr("successful callback %s has no CallbackMetadata", stk.CheckoutRequestID)
	}
	details := &provider.TransactionDetails{}
	for _, it := range stk.CallbackMetadata.Item {
		switch it.Name {
		case "Amount":
			amt, err := decimalValue(it.Value)
			if err != nil {
				return nil, parseErr("callback Amount: %v", err)
			}
			details.Amount = amt
		case "MpesaReceiptNumber":
			details.ReceiptNumber = textValue(it.Value)
		case "TransactionDate":
			details.TransactionDate = textValue(it.Value)
		case "PhoneNumber":
			details.PhoneNumber = textValue(it.Value)
		}
	}
	if details.ReceiptNumber == "" {
		return nil, parseErr("successful callback %s has no MpesaReceiptNumber", stk.CheckoutRequestID)
	}
	res.Details = details
	return res, nil
}

func decimalValue(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		// some sandboxes serialize numbers as strings
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	}
	return decimal.Zero, fmt.Errorf("unexpected value %v", v)
}

func textValue(v any) string {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', 0, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func parseErr(format string, args ...any) error {
	return &provider.ProviderError{
		Code:    provider.ErrCallbackParseFailed,
		Message: fmt.Sprintf(format, args...),
	}
}
