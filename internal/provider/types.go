package provider

import "github.com/shopspring/decimal"

// PushPaymentReq asks the provider to prompt the payer's phone.
type PushPaymentReq struct {
	Phone          string
	Amount         decimal.Decimal
	OrderReference string
	Description    string
}

// PushPaymentResp is the provider's immediate acknowledgment.
type PushPaymentResp struct {
	MerchantRequestID     string `json:"merchantRequestId"`
	ProviderTransactionID string `json:"checkoutRequestId"`
	AckCode               string `json:"responseCode"`
	AckDescription        string `json:"responseDescription"`
	CustomerMessage       string `json:"customerMessage"`
	Phone                 string `json:"phoneNumber"`
	Amount                int64  `json:"amount"`
}

// Accepted reports whether the provider accepted the push request.
func (r *PushPaymentResp) Accepted() bool {
	return r.AckCode == "0"
}

// StatusResult is the answer to a transaction status query.
type StatusResult struct {
	ProviderTransactionID string `json:"checkoutRequestId"`
	ResponseCode          string `json:"responseCode,omitempty"`
	ResponseDescription   string `json:"responseDescription,omitempty"`
	ResultCode            string `json:"resultCode,omitempty"`
	ResultDesc            string `json:"resultDesc,omitempty"`
	// Pending is set while the payer has not answered the prompt yet.
	Pending bool `json:"pending"`
}

// Final reports whether the result settles the transaction.
func (r *StatusResult) Final() bool {
	return !r.Pending && r.ResultCode != ""
}

// Succeeded reports a final successful result.
func (r *StatusResult) Succeeded() bool {
	return r.Final() && r.ResultCode == "0"
}

// CallbackResult is a parsed asynchronous result notification.
type CallbackResult struct {
	MerchantRequestID     string
	ProviderTransactionID string
	ResultCode            int
	ResultDesc            string
	Success               bool
	Details               *TransactionDetails
}

// TransactionDetails are present on successful callbacks only.
type TransactionDetails struct {
	Amount          decimal.Decimal `json:"amount"`
	ReceiptNumber   string          `json:"mpesaReceiptNumber"`
	TransactionDate string          `json:"transactionDate"`
	PhoneNumber     string          `json:"phoneNumber"`
}

// ProviderError is returned for every gateway failure.
type ProviderError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ProviderErr string `json:"provider_error,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.ProviderErr != "" {
		return e.Message + ": " + e.ProviderErr
	}
	return e.Message
}

// Error codes
const (
	ErrAuthFailed          = "AUTH_FAILED"
	ErrConfigIncomplete    = "CONFIG_INCOMPLETE"
	ErrInvalidPhone        = "INVALID_PHONE"
	ErrInvalidAmount       = "INVALID_AMOUNT"
	ErrRequestFailed       = "REQUEST_FAILED"
	ErrResponseParseFailed = "RESPONSE_PARSE_FAILED"
	ErrRejected            = "STK_REJECTED"
	ErrCallbackParseFailed = "CALLBACK_PARSE_FAILED"
)
