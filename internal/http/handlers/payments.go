package handlers

import (
	"io"
	"net/http"
	"strings"

	"malricpharma/internal/domain/payment"
	eventsvc "malricpharma/internal/services/event"
	paysvc "malricpharma/internal/services/payment"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// maxCallbackBody caps what is read from a provider callback.
const maxCallbackBody = 1 << 20

type retryReq struct {
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Phone         string `json:"phoneNumber,omitempty"`
}

// RetryPayment starts a new payment attempt for a PENDING order.
func RetryPayment(svc *paysvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		var in retryReq
		if r.ContentLength != 0 {
			if err := decode(w, r, &in); err != nil {
				fail(w, r, err)
				return
			}
		}
		req := payment.Request{Phone: strings.TrimSpace(in.Phone)}
		if in.PaymentMethod != "" {
			m, err := payment.ParseMethod(in.PaymentMethod)
			if err != nil {
				fail(w, r, err)
				return
			}
			req.Method = m
		}
		res, err := svc.RetryPayment(r.Context(), p, chi.URLParam(r, "id"), req)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, res)
	}
}

func GetPayment(svc *paysvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		pay, err := svc.GetPayment(r.Context(), p, chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, pay)
	}
}

// QueryMpesaStatus asks Daraja for the result of an STK push.
func QueryMpesaStatus(svc *paysvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		res, err := svc.QueryProviderStatus(r.Context(), p, chi.URLParam(r, "checkoutRequestId"))
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, res)
	}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// MpesaCallback acknowledges every callback with 200 so Daraja stops
// redelivering; failures stay in the inbox for the retry worker.
func MpesaCallback(processor *eventsvc.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			log.Error().Err(err).Msg("mpesa callback: read body failed")
			writeJSON(w, http.StatusOK, callbackAck{ResultDesc: "Callback received but processing failed"})
			return
		}

		res, err := processor.Receive(r.Context(), body)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("mpesa callback: processing failed")
			writeJSON(w, http.StatusOK, callbackAck{ResultDesc: "Callback received but processing failed"})
		case res == nil || !res.Found:
			writeJSON(w, http.StatusOK, callbackAck{ResultDesc: "Callback received"})
		default:
			log.Info().
				Str("order_number", res.OrderNumber).
				Str("payment_status", string(res.PaymentStatus)).
				Bool("applied", res.Applied).
				Msg("mpesa callback processed")
			writeJSON(w, http.StatusOK, callbackAck{ResultDesc: "Callback processed successfully"})
		}
	}
}

// ReplayCallbacks re-runs stored callback events by id.
func ReplayCallbacks(svc *eventsvc.ReplayService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in eventsvc.ReplayRequest
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		resp, err := svc.ReplayEvents(r.Context(), in)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, resp)
	}
}
