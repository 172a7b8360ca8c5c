// Package http JSON API оформления заказов поверх chi.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
)

const (
	// DefaultRequestTimeout ограничивает обработку одного запроса.
	DefaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20
)

// CheckoutService оформляет заказ из корзины.
type CheckoutService interface {
	Checkout(ctx context.Context, identity domain.Identity, req checkout.Request) (domain.Order, error)
}

// OrderQueries читает заказы владельца.
type OrderQueries interface {
	List(ctx context.Context, userID string, filter orders.ListFilter, page, limit int) (orders.Page, error)
	GetByID(ctx context.Context, userID, orderID string) (domain.Order, error)
	Timeline(ctx context.Context, userID, orderID string) ([]domain.TimelineEvent, error)
	Stats(ctx context.Context, userID string) (orders.Stats, error)
}

// StatusSetter меняет статус заказа.
type StatusSetter interface {
	SetStatus(ctx context.Context, orderID, rawStatus string) (domain.Order, error)
}

// CartService изменяет корзину пользователя.
type CartService interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	UpsertItem(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error)
	UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (domain.Cart, error)
	Clear(ctx context.Context, userID string) (domain.Cart, error)
}

// Config собирает зависимости API.
type Config struct {
	Checkout CheckoutService
	Orders   OrderQueries
	Status   StatusSetter
	Carts    CartService
	Identity domain.IdentityProvider

	// Idempotency включает обработку заголовка Idempotency-Key на POST /orders.
	Idempotency *idempotency.Guard

	// CheckoutRateLimit запросов в секунду на пользователя; 0 отключает лимит.
	CheckoutRateLimit float64
	CheckoutRateBurst int

	RequestTimeout time.Duration
	Logger         *log.Entry
}

// Handler обслуживает маршруты заказов и корзины.
type Handler struct {
	checkout    CheckoutService
	orders      OrderQueries
	status      StatusSetter
	carts       CartService
	idempotency *idempotency.Guard
	logger      *log.Entry
}

// NewRouter собирает chi-роутер API с middleware и трассировкой.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "http-api")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	h := &Handler{
		checkout:    cfg.Checkout,
		orders:      cfg.Orders,
		status:      cfg.Status,
		carts:       cfg.Carts,
		idempotency: cfg.Idempotency,
		logger:      cfg.Logger,
	}
	limiter := newUserLimiter(rate.Limit(cfg.CheckoutRateLimit), cfg.CheckoutRateBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Group(func(r chi.Router) {
		r.Use(authenticate(cfg.Identity))

		r.Route("/orders", func(r chi.Router) {
			r.With(limiter.middleware).Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/stats", h.orderStats)
			r.Get("/{id}", h.getOrder)
			r.Get("/{id}/timeline", h.orderTimeline)
			r.Patch("/{id}/status", h.updateOrderStatus)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Post("/", h.addCartItem)
			r.Delete("/", h.clearCart)
			r.Put("/{productId}", h.updateCartItem)
			r.Delete("/{productId}", h.removeCartItem)
		})
	})

	return otelhttp.NewHandler(r, "checkout-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// requestLogger пишет строку лога на каждый запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
