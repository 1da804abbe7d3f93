package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cimillas/ticket-processor/internal/domain"
	"github.com/go-playground/validator/v10"
)

const (
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeInvalidField         = "invalid_field"
	codeForbidden            = "forbidden"
	codeUnavailable          = "unavailable"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// statusForKind maps business failures to HTTP statuses. Unknown kinds are
// infrastructure errors.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInsufficientInventory,
		domain.KindDuplicateKey,
		domain.KindNotPending,
		domain.KindConcurrencyConflict,
		domain.KindCapacityExceeded:
		return http.StatusConflict
	case domain.KindExpired:
		return http.StatusGone
	case domain.KindPaymentDeclined:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError hides infrastructure details from clients; those are
// already logged by the service layer.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		writeError(w, status, codeInternalError, "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		writeError(w, http.StatusBadRequest, codeMissingRequiredField, fe.Field()+" is required")
		return
	}
	writeError(w, http.StatusBadRequest, codeInvalidField, fe.Field()+" is invalid")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
