package http

import (
	"encoding/json"
	"net/http"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/pkg/errs"
)

type errorResponse struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps a service error onto an HTTP status by its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	status := StatusForKind(kind)
	if errs.Is(err, domain.ErrUnauthenticated) {
		status = http.StatusUnauthorized
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func StatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPaymentFailed:
		return http.StatusPaymentRequired
	case domain.KindGatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
