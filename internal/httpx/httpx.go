// Package httpx holds the JSON response helpers and the error to status
// mapping shared by every HTTP handler in the service.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/joao-fontenele/shopflow/internal/auth"
	"github.com/joao-fontenele/shopflow/internal/domain"
)

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, map[string]string{"error": message})
}

// Status maps a service error to its HTTP status and the message safe to
// show the client. Unknown errors become a generic 500.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusUnauthorized, domain.ErrNotAuthorized.Error()
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrVerificationInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrGatewayTimeout):
		return http.StatusGatewayTimeout, domain.ErrGatewayTimeout.Error()
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, domain.ErrGatewayUnavailable.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// Fail writes err as a JSON error. Server side failures are logged with the
// supplied attributes; client errors are logged at debug.
func Fail(w http.ResponseWriter, logger *slog.Logger, err error, msg string, args ...any) {
	status, message := Status(err)
	args = append(args, "error", err, "status", status)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, args...)
	} else {
		logger.Debug(msg, args...)
	}
	WriteError(w, logger, status, message)
}

func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Validationf("invalid request body")
	}
	return nil
}

// Chain wraps the service mux with request ids, panic recovery, a request
// deadline and actor extraction.
func Chain(h http.Handler, timeout time.Duration) http.Handler {
	h = auth.Middleware(h)
	h = middleware.Timeout(timeout)(h)
	h = middleware.Recoverer(h)
	h = middleware.RealIP(h)
	return middleware.RequestID(h)
}
