package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const internalErrorMessage = "Internal server error"

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Success: status < http.StatusBadRequest, Message: message})
}

// statusFor переводит вид доменной ошибки в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict),
		domain.IsIdempotencyConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorEnvelope строит тело ответа об ошибке. Сообщения доменных ошибок
// отдаются клиенту как есть, внутренние подробности остаются в логе.
func errorEnvelope(err error, fallback string) (int, envelope) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return status, envelope{Success: false, Message: fallback, Error: internalErrorMessage}
	}

	message := err.Error()
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	return status, envelope{Success: false, Message: message}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, body := errorEnvelope(err, fallback)

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	respondJSON(w, status, body)
}
