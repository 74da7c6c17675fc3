package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"malricpharma/internal/config"
	"malricpharma/internal/provider"
	"malricpharma/internal/provider/base"

	"github.com/rs/zerolog/log"
)

const (
	sandboxURL    = "https://sandbox.safaricom.co.ke"
	productionURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// Daraja rejects STK amounts above this many shillings.
	maxSTKAmount = 250000
	// Tokens are refreshed this long before Daraja expires them.
	tokenSkew = 5 * time.Minute

	// errorCode Daraja returns while the payer has not answered the prompt.
	stillProcessingCode = "500.001.1001"
)

var eat = time.FixedZone("EAT", 3*3600)

// Provider implements the M-Pesa Daraja STK push gateway
type Provider struct {
	cfg        config.MpesaCfg
	httpClient *base.HTTPClient
	amounts    *base.AmountValidator
	tokens     TokenCache
	now        func() time.Time
}

var _ provider.Gateway = (*Provider)(nil)

// New creates a new M-Pesa provider instance. A nil cache keeps tokens in process.
func New(cfg config.MpesaCfg, tokens TokenCache) *Provider {
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	httpClient := base.NewHTTPClient("mpesa", cfg.Timeout,
		base.WithRetries(uint64(retries)),
		base.WithRetryInterval(cfg.RetryInterval),
	)
	httpClient.SetBaseURL(baseURL(cfg))
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		amounts:    base.NewAmountValidator("KES", 1, maxSTKAmount),
		tokens:     tokens,
		now:        time.Now,
	}
}

func baseURL(cfg config.MpesaCfg) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	if cfg.Environment == "production" {
		return productionURL
	}
	return sandboxURL
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "mpesa"
}

// ValidateConfig reports every missing Daraja setting.
func (p *Provider) ValidateConfig() error {
	required := []struct{ key, val string }{
		{"MPESA_CONSUMER_KEY", p.cfg.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", p.cfg.ConsumerSecret},
		{"MPESA_BUSINESS_SHORTCODE", p.cfg.Shortcode},
		{"MPESA_PASSKEY", p.cfg.Passkey},
		{"MPESA_CALLBACK_URL", p.cfg.CallbackURL},
	}
	var missing []string
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return &provider.ProviderError{
			Code:        provider.ErrConfigIncomplete,
			Message:     "M-Pesa configuration incomplete",
			ProviderErr: "missing " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// AccessToken returns a cached bearer token or fetches a new one.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	key := p.cfg.Shortcode + "_" + p.cfg.Environment
	if tok, ok, err := p.tokens.Get(ctx, key); err != nil {
		log.Warn().Err(err).Msg("mpesa token cache read failed")
	} else if ok {
		return tok, nil
	}

	creds := base64.StdEncoding.EncodeToString([]byte(p.cfg.ConsumerKey + ":" + p.cfg.ConsumerSecret))
	resp, err := p.httpClient.Get(ctx, tokenPath, map[string]string{"Authorization": "Basic " + creds})
	if err != nil {
		return "", &provider.ProviderError{
			Code:        provider.ErrAuthFailed,
			Message:     "failed to get access token",
			ProviderErr: err.Error(),
		}
	}
	if !resp.IsSuccess() {
		return "", &provider.ProviderError{
			Code:        provider.ErrAuthFailed,
			Message:     fmt.Sprintf("token endpoint returned status %d", resp.StatusCode),
			ProviderErr: resp.String(),
		}
	}

	var out struct {
		AccessToken string     `json:"access_token"`
		ExpiresIn   flexString `json:"expires_in"`
	}
	if err := resp.Decode(&out); err != nil || out.AccessToken == "" {
		return "", &provider.ProviderError{
			Code:    provider.ErrAuthFailed,
			Message: "token response has no access_token",
		}
	}

	expiresIn, err := strconv.Atoi(string(out.ExpiresIn))
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}
	ttl := time.Duration(expiresIn)*time.Second - tokenSkew
	if ttl > 0 {
		if err := p.tokens.Set(ctx, key, out.AccessToken, ttl); err != nil {
			log.Warn().Err(err).Msg("mpesa token cache write failed")
		}
	}
	return out.AccessToken, nil
}

// InitiatePushPayment sends an STK push prompt to the payer's phone.
func (p *Provider) InitiatePushPayment(ctx context.Context, req provider.PushPaymentReq) (*provider.PushPaymentResp, error) {
	phone, err := base.ValidatePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	amount, err := p.amounts.WholeUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts, password := p.password()
	payload := map[string]any{
		"BusinessShortCode": p.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            p.cfg.Shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       p.cfg.CallbackURL,
		"AccountReference":  req.OrderReference,
		"TransactionDesc":   req.Description,
	}

	resp, err := p.httpClient.PostJSON(ctx, stkPath, payload, bearer(token))
	if err != nil {
		return nil, &provider.ProviderError{
			Code:        provider.ErrRequestFailed,
			Message:     "STK push request failed",
			ProviderErr: err.Error(),
		}
	}

	var out struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
		ErrorCode           string `json:"errorCode"`
		ErrorMessage        string `json:"errorMessage"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, &provider.ProviderError{
			Code:        provider.ErrResponseParseFailed,
			Message:     fmt.Sprintf("failed to parse STK response (status %d)", resp.StatusCode),
			ProviderErr: resp.String(),
		}
	}
	if out.ErrorCode != "" || !resp.IsSuccess() {
		msg := out.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("STK push returned status %d", resp.StatusCode)
		}
		return nil, &provider.ProviderError{
			Code:        provider.ErrRejected,
			Message:     msg,
			ProviderErr: out.ErrorCode,
		}
	}

	log.Info().
		Str("provider", "mpesa").
		Str("operation", "stk_push").
		Str("checkout_request_id", out.CheckoutRequestID).
		Str("response_code", out.ResponseCode).
		Int64("amount", amount).
		Str("account_reference", req.OrderReference).
		Msg("M-Pesa operation")

	return &provider.PushPaymentResp{
		MerchantRequestID:     out.MerchantRequestID,
		ProviderTransactionID: out.CheckoutRequestID,
		AckCode:               out.ResponseCode,
		AckDescription:        out.ResponseDescription,
		CustomerMessage:       out.CustomerMessage,
		Phone:                 phone,
		Amount:                amount,
	}, nil
}

// QueryStatus asks Daraja for the outcome of an STK push.
func (p *Provider) QueryStatus(ctx context.Context, providerTxID string) (*provider.StatusResult, error) {
	if strings.TrimSpace(providerTxID) == "" {
		return nil, &provider.ProviderError{Code: provider.ErrRequestFailed, Message: "checkout request id is required"}
	}
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts, password := p.password()
	payload := map[string]any{
		"BusinessShortCode": p.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": providerTxID,
	}
	resp, err := p.httpClient.PostJSONIdempotent(ctx, queryPath, payload, bearer(token))
	if err != nil {
		return nil, &provider.ProviderError{
			Code:        provider.ErrRequestFailed,
			Message:     "STK status query failed",
			ProviderErr: err.Error(),
		}
	}

	var out struct {
		ResponseCode        flexString `json:"ResponseCode"`
		ResponseDescription string     `json:"ResponseDescription"`
		CheckoutRequestID   string     `json:"CheckoutRequestID"`
		ResultCode          flexString `json:"ResultCode"`
		ResultDesc          string     `json:"ResultDesc"`
		ErrorCode           string     `json:"errorCode"`
		ErrorMessage        string     `json:"errorMessage"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, &provider.ProviderError{
			Code:        provider.ErrResponseParseFailed,
			Message:     fmt.Sprintf("failed to parse status response (status %d)", resp.StatusCode),
			ProviderErr: resp.String(),
		}
	}

	result := &provider.StatusResult{
		ProviderTransactionID: providerTxID,
		ResponseCode:          string(out.ResponseCode),
		ResponseDescription:   out.ResponseDescription,
		ResultCode:            string(out.ResultCode),
		ResultDesc:            out.ResultDesc,
	}
	switch {
	case out.ErrorCode == stillProcessingCode:
		result.Pending = true
		result.ResultDesc = out.ErrorMessage
	case out.ErrorCode != "" || !resp.IsSuccess():
		msg := out.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("status query returned status %d", resp.StatusCode)
		}
		return nil, &provider.ProviderError{
			Code:        provider.ErrRejected,
			Message:     msg,
			ProviderErr: out.ErrorCode,
		}
	case result.ResultCode == "":
		result.Pending = true
	}
	return result, nil
}

// password returns the EAT timestamp and base64(shortcode+passkey+timestamp).
func (p *Provider) password() (string, string) {
	ts := p.now().In(eat).Format("20060102150405")
	return ts, base64.StdEncoding.EncodeToString([]byte(p.cfg.Shortcode + p.cfg.Passkey + ts))
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
