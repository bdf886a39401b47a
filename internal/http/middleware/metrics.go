package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — счётчики Prometheus HTTP-слоя. Методы безопасны для nil.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	authEvents  *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg (nil — prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biocraft_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "biocraft_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biocraft_auth_events_total",
			Help: "Authentication events by event and outcome.",
		}, []string{"event", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biocraft_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
	}

	reg.MustRegister(m.requests, m.duration, m.authEvents, m.rateLimited)
	return m
}

// Middleware считает запросы по шаблону маршрута chi, а не по сырому пути,
// чтобы id в пути не раздували кардинальность.
func (m *Metrics) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}

			m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.Status())).Inc()
			m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Исходы событий аутентификации.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthEvent учитывает событие login/signup/logout/refresh/reset/csrf_reject.
func (m *Metrics) AuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

// CSRFRejected — колбэк для csrf.Guard.OnReject.
func (m *Metrics) CSRFRejected() {
	m.AuthEvent("csrf_reject", OutcomeFailure)
}

// RateLimited — колбэк для ratelimit.Options.OnReject.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}
