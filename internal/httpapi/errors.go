package httpapi

import (
	"encoding/json"
	"net/http"

	"llmtrayd/internal/container"
	"llmtrayd/internal/dispatch"
	"llmtrayd/internal/registry"
	"llmtrayd/pkg/types"
)

// writeJSONError writes the consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeErr maps a domain error onto its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	writeJSONError(w, statusForErr(err), err.Error())
}

func statusForErr(err error) int {
	switch {
	case registry.IsValidation(err):
		return http.StatusBadRequest
	case registry.IsNotFound(err), container.IsNotFound(err), dispatch.IsModelUnavailable(err):
		return http.StatusNotFound
	case dispatch.IsProtocol(err):
		return http.StatusBadGateway
	case container.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case dispatch.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
