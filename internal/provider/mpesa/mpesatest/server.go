// Package mpesatest runs an in-process Daraja stand-in for tests.
package mpesatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"malricpharma/internal/config"
)

const (
	// AccessToken is what the fake token endpoint hands out.
	AccessToken = "test-access-token"
	Shortcode   = "174379"
	Passkey     = "test-passkey"
)

// Server answers the Daraja OAuth, STK push and STK query endpoints.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	seq          int
	tokenCalls   int
	stkCalls     int
	queryCalls   int
	lastSTK      map[string]any
	stkStatus    int
	stkErrorCode string
	stkErrorMsg  string
	stkAckCode   string
	stkAckDesc   string
	queryPending bool
	queryCode    string
	queryDesc    string
	rejected     map[string]bool
}

func NewServer() *Server {
	s := &Server{stkStatus: http.StatusOK, stkAckCode: "0", stkAckDesc: "Success. Request accepted for processing", queryPending: true,
		rejected: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", s.token)
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", s.stkPush)
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", s.stkQuery)
	s.Server = httptest.NewServer(mux)
	return s
}

// Config returns gateway settings pointing at the fake with retries off.
func (s *Server) Config() config.MpesaCfg {
	return config.MpesaCfg{
		Environment:    "sandbox",
		BaseURL:        s.URL,
		ConsumerKey:    "test-key",
		ConsumerSecret: "test-secret",
		Shortcode:      Shortcode,
		Passkey:        Passkey,
		CallbackURL:    "https://shop.example.com/api/v1/payments/mpesa/callback",
		Timeout:        5 * time.Second,
		MaxRetries:     0,
		RetryInterval:  time.Millisecond,
	}
}

// RejectSTK makes the next STK pushes fail with a Daraja error body.
func (s *Server) RejectSTK(status int, code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stkStatus, s.stkErrorCode, s.stkErrorMsg = status, code, msg
}

// DeclineSTK makes STK pushes return a non-zero ResponseCode.
func (s *Server) DeclineSTK(code, desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stkAckCode, s.stkAckDesc = code, desc
}

// SetQueryResult makes status queries return a final ResultCode.
func (s *Server) SetQueryResult(code, desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryPending, s.queryCode, s.queryDesc = false, code, desc
}

// RejectQuery makes status queries for checkoutRequestID fail with a 400.
func (s *Server) RejectQuery(checkoutRequestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[checkoutRequestID] = true
}

// SetQueryPending makes status queries answer "still processing".
func (s *Server) SetQueryPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryPending = true
}

func (s *Server) Calls() (token, stk, query int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls, s.stkCalls, s.queryCalls
}

// LastSTK is the decoded body of the latest STK push.
func (s *Server) LastSTK() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSTK
}

// LastCheckoutID is the CheckoutRequestID of the latest accepted push.
func (s *Server) LastCheckoutID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return checkoutID(s.seq)
}

func checkoutID(n int) string {
	return fmt.Sprintf("ws_CO_%04d", n)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokenCalls++
	s.mu.Unlock()
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		http.Error(w, `{"errorMessage":"Invalid Authentication passed"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": AccessToken, "expires_in": "3599"})
}

func (s *Server) stkPush(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stkCalls++
	s.lastSTK = body

	if r.Header.Get("Authorization") != "Bearer "+AccessToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errorCode": "404.001.03", "errorMessage": "Invalid Access Token"})
		return
	}
	if s.stkErrorCode != "" {
		writeJSON(w, s.stkStatus, map[string]any{"errorCode": s.stkErrorCode, "errorMessage": s.stkErrorMsg})
		return
	}
	s.seq++
	writeJSON(w, http.StatusOK, map[string]any{
		"MerchantRequestID":   fmt.Sprintf("mr-%04d", s.seq),
		"CheckoutRequestID":   checkoutID(s.seq),
		"ResponseCode":        s.stkAckCode,
		"ResponseDescription": s.stkAckDesc,
		"CustomerMessage":     s.stkAckDesc,
	})
}

func (s *Server) stkQuery(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	id, _ := body["CheckoutRequestID"].(string)
	if s.rejected[id] {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"requestId":    "q-1",
			"errorCode":    "400.002.02",
			"errorMessage": "Bad Request - Invalid CheckoutRequestID",
		})
		return
	}
	if s.queryPending {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"requestId":    "q-1",
			"errorCode":    "500.001.1001",
			"errorMessage": "The transaction is being processed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ResponseCode":        "0",
		"ResponseDescription": "The service request has been accepted successsfully",
		"MerchantRequestID":   "mr-query",
		"CheckoutRequestID":   id,
		"ResultCode":          s.queryCode,
		"ResultDesc":          s.queryDesc,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SuccessCallback builds the body Daraja posts for a completed payment.
func SuccessCallback(checkoutRequestID string, amount int64, receipt, phone string) []byte {
	b, _ := json.Marshal(map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"MerchantRequestID": "mr-cb",
				"CheckoutRequestID": checkoutRequestID,
				"ResultCode":        0,
				"ResultDesc":        "The service request is processed successfully.",
				"CallbackMetadata": map[string]any{
					"Item": []map[string]any{
						{"Name": "Amount", "Value": amount},
						{"Name": "MpesaReceiptNumber", "Value": receipt},
						{"Name": "TransactionDate", "Value": 20260115103045},
						{"Name": "PhoneNumber", "Value": phone},
					},
				},
			},
		},
	})
	return b
}

// FailureCallback builds the body Daraja posts for a failed or cancelled payment.
func FailureCallback(checkoutRequestID string, resultCode int, desc string) []byte {
	b, _ := json.Marshal(map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"MerchantRequestID": "mr-cb",
				"CheckoutRequestID": checkoutRequestID,
				"ResultCode":        resultCode,
				"ResultDesc":        desc,
			},
		},
	})
	return b
}
