package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
)

// IdempotencyKeyHeader заголовок ключа идемпотентности оформления.
const IdempotencyKeyHeader = "Idempotency-Key"

const createOrderOperation = "POST /orders"

var errInvalidBody = domain.NewError(domain.ErrInvalidInput, "Invalid request body")

// createOrder оформляет заказ. С заголовком Idempotency-Key повтор запроса
// получает первый ответ без повторного оформления.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, errInvalidBody, "Error creating order")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" || h.idempotency == nil {
		status, payload := h.placeOrder(r, identity, body)
		writeRaw(w, status, payload)
		return
	}

	hash := idempotency.RequestHash(createOrderOperation, identity.UserID, body)
	stored, replay, err := h.idempotency.Begin(r.Context(), identity.UserID, key, hash)
	if err != nil {
		h.respondError(w, r, err, "Error creating order")
		return
	}
	if replay {
		h.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"user_id":         identity.UserID,
		}).Info("replaying stored checkout response")
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, stored.Status, stored.Body)
		return
	}

	status, payload := h.placeOrder(r, identity, body)
	h.idempotency.Complete(r.Context(), identity.UserID, key, idempotency.Response{Status: status, Body: payload})
	writeRaw(w, status, payload)
}

// placeOrder выполняет оформление и возвращает готовый ответ.
func (h *Handler) placeOrder(r *http.Request, identity domain.Identity, body []byte) (int, []byte) {
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return h.renderError(r, errInvalidBody, "Error creating order")
	}

	order, err := h.checkout.Checkout(r.Context(), identity, checkout.Request{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		return h.renderError(r, err, "Error creating order")
	}

	return render(http.StatusCreated, envelope{
		Success: true,
		Message: "Order placed successfully",
		Data:    toOrderDTO(order),
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	query := r.URL.Query()

	page, err := optionalInt(query.Get("page"))
	if err != nil {
		h.respondError(w, r, domain.NewError(domain.ErrInvalidInput, "Invalid page"), "Error fetching orders")
		return
	}
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		h.respondError(w, r, domain.NewError(domain.ErrInvalidInput, "Invalid limit"), "Error fetching orders")
		return
	}

	result, err := h.orders.List(r.Context(), identity.UserID, orders.ListFilter{
		Status:    query.Get("status"),
		StartDate: query.Get("startDate"),
		EndDate:   query.Get("endDate"),
	}, page, limit)
	if err != nil {
		h.respondError(w, r, err, "Error fetching orders")
		return
	}

	respondJSON(w, http.StatusOK, listEnvelope{
		Success:     true,
		Count:       len(result.Orders),
		TotalCount:  result.TotalCount,
		TotalPages:  result.TotalPages,
		CurrentPage: result.Page,
		Data:        toOrderDTOs(result.Orders),
	})
}

func (h *Handler) orderStats(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	stats, err := h.orders.Stats(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, r, err, "Error fetching order statistics")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: toStatsDTO(stats)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	order, err := h.orders.GetByID(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err, "Error fetching order")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: toOrderDTO(order)})
}

func (h *Handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	events, err := h.orders.Timeline(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err, "Error fetching order timeline")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: toTimelineDTOs(events)})
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err, "Error updating order status")
		return
	}

	order, err := h.status.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.respondError(w, r, err, "Error updating order status")
		return
	}
	respondJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Order status updated",
		Data:    toOrderDTO(order),
	})
}

func (h *Handler) renderError(r *http.Request, err error, fallback string) (int, []byte) {
	rec := &bodyRecorder{header: make(http.Header)}
	h.respondError(rec, r, err, fallback)
	return rec.status, rec.body.Bytes()
}

func render(status int, payload interface{}) (int, []byte) {
	body, err := json.Marshal(payload)
	if err != nil {
		body, _ = json.Marshal(envelope{Success: false, Message: internalErrorMessage})
		return http.StatusInternalServerError, body
	}
	return status, body
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// bodyRecorder собирает ответ в память, чтобы сохранить его для повторов.
type bodyRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bodyRecorder) Header() http.Header { return b.header }

func (b *bodyRecorder) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bodyRecorder) WriteHeader(status int) { b.status = status }
