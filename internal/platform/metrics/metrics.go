package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Registry owns the service's Prometheus collectors. It implements services.Metrics.
type Registry struct {
	reg *prometheus.Registry

	ordersCreated       *prometheus.CounterVec
	reservationFailures *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	webhookRetries      *prometheus.CounterVec
	deadLetters         *prometheus.CounterVec
	gatewayLatency      *prometheus.HistogramVec
	httpDuration        *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry together with the Go and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_created_total",
			Help: "Orders created, by checkout flow.",
		}, []string{"flow"}),
		reservationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_reservation_failures_total",
			Help: "Stock reservations rejected for insufficient stock.",
		}, []string{"product_id"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_events_total",
			Help: "Processor webhook events reconciled, by type and outcome.",
		}, []string{"type", "outcome"}),
		webhookRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_retries_total",
			Help: "Webhook retry attempts processed, by attempt number.",
		}, []string{"attempt"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_dead_letters_total",
			Help: "Webhook deliveries that exhausted their retries.",
		}, []string{"type"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "payment_gateway_duration_seconds",
			Help:    "Payment processor call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ordersCreated,
		r.reservationFailures,
		r.webhookEvents,
		r.webhookRetries,
		r.deadLetters,
		r.gatewayLatency,
		r.httpDuration,
	)
	return r
}

func (r *Registry) OrderCreated(flow string) {
	r.ordersCreated.WithLabelValues(flow).Inc()
}

func (r *Registry) ReservationFailed(productID string) {
	r.reservationFailures.WithLabelValues(productID).Inc()
}

func (r *Registry) WebhookProcessed(eventType string, outcome string) {
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (r *Registry) WebhookRetried(attempt int) {
	r.webhookRetries.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (r *Registry) WebhookDeadLettered(eventType string) {
	r.deadLetters.WithLabelValues(eventType).Inc()
}

// ObserveGateway records a processor call. Its signature matches payments.LatencyObserver.
func (r *Registry) ObserveGateway(operation string, outcome string, elapsed time.Duration) {
	r.gatewayLatency.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Middleware records request latency labelled with the chi route pattern.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
