package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/CellGate/internal/gateway"
	"github.com/AlexKimmel/CellGate/internal/ratelimit"
	"github.com/AlexKimmel/CellGate/internal/routing"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Admitted      *prometheus.CounterVec
	Denied        *prometheus.CounterVec
	ExceedsBurst  *prometheus.CounterVec
	RetryAfter    *prometheus.HistogramVec
	LimiterErrors *prometheus.CounterVec

	ConfigReloads *prometheus.CounterVec
	FallbackOpen  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellgate_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cellgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Admitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellgate_admitted_total",
				Help: "Requests admitted by the rate limiter",
			},
			[]string{"route"},
		),
		Denied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellgate_denied_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"route"},
		),
		ExceedsBurst: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellgate_exceeds_burst_total",
				Help: "Requests whose cost exceeded the burst ceiling",
			},
			[]string{"route"},
		),
		RetryAfter: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cellgate_retry_after_seconds",
				Help:    "Waits reported to denied clients",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		LimiterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellgate_limiter_errors_total",
				Help: "Total rate limiter errors",
			},
			[]string{"route"},
		),
		ConfigReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellgate_config_reloads_total",
				Help: "Config reload attempts by result",
			},
			[]string{"status"},
		),
		FallbackOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cellgate_limiter_fallback_open",
				Help: "1 while the shared-store breaker is open and limiting runs on the local fallback",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.Admitted, m.Denied, m.ExceedsBurst, m.RetryAfter, m.LimiterErrors,
		m.ConfigReloads, m.FallbackOpen,
	)
	return m
}

// OnLimited records a denial; wired into the admission middleware.
func (m *Metrics) OnLimited(routeID string, dec ratelimit.Decision) {
	if dec.ExceedsBurst {
		m.ExceedsBurst.WithLabelValues(routeID).Inc()
		return
	}
	m.Denied.WithLabelValues(routeID).Inc()
	m.RetryAfter.WithLabelValues(routeID).Observe(dec.RetryAfter.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics. It uses the route stored by
// RouteMatcher, and counts a 2xx/3xx on a limited path as an admission.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
				route = rt.ID
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}
			if code < http.StatusBadRequest {
				m.Admitted.WithLabelValues(route).Inc()
			}

			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
