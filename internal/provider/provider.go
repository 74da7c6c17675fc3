package provider

import "context"

// Gateway is a mobile-money push-payment provider.
type Gateway interface {
	Name() string

	// ValidateConfig reports missing settings without touching the network.
	ValidateConfig() error

	InitiatePushPayment(ctx context.Context, req PushPaymentReq) (*PushPaymentResp, error)
	QueryStatus(ctx context.Context, providerTxID string) (*StatusResult, error)
	ParseCallback(body []byte) (*CallbackResult, error)
}
