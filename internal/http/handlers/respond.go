package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"malricpharma/internal/core"

	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func statusFor(k core.Kind) int {
	switch k {
	case core.KindValidation, core.KindConflict:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindUpstream:
		return http.StatusBadGateway
	case core.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error envelope. Errors outside the taxonomy are logged
// and reported as SERVER_ERROR without their text.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   errorBody{Code: core.CodeServerError, Message: "internal server error"},
		})
		return
	}
	writeJSON(w, statusFor(e.Kind), map[string]any{
		"success": false,
		"error":   errorBody{Code: e.Code, Message: e.Message, Details: e.Details},
	})
}

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Validation(core.CodeRequestTooLarge, "request body is too large")
		}
		return core.Validation(core.CodeInvalidRequest, "request body is not valid JSON")
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
