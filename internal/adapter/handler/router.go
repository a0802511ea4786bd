package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RequestObserver counts served HTTP requests.
type RequestObserver interface {
	ObserveRequest(route, status string)
}

// NewRouter registers the checkout API on a chi router. metricsHandler may be
// nil, in which case /metrics is not served.
func NewRouter(h *HTTPHandler, observer RequestObserver, metricsHandler http.Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogging(logger, observer))

	r.Get("/health", h.HealthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListCustomerOrders)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Get("/orders/{orderID}/items", h.ListOrderItems)
		r.Get("/merchant/orders", h.ListMerchantOrders)
		r.Get("/admin/orders", h.ListAllOrders)
	})

	return r
}

const unmatchedRoute = "unmatched"

func requestLogging(logger *zap.Logger, observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			// Unmatched paths share one label so scanners cannot grow the
			// metric cardinality.
			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			if observer != nil {
				observer.ObserveRequest(route, strconv.Itoa(ww.status))
			}
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
