package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	lockOps         *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	sessions        prometheus.Gauge
	denialAudits    *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covenant_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "covenant_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	lockOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covenant_lock_operations_total",
		Help: "Operasi kunci edit berdasarkan operasi dan hasil.",
	}, []string{"op", "outcome"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covenant_authz_decisions_total",
		Help: "Keputusan otorisasi berdasarkan jenis keputusan.",
	}, []string{"decision"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covenant_lock_notifications_total",
		Help: "Notifikasi status kunci yang dikirim atau dibuang.",
	}, []string{"result"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "covenant_notify_sessions",
		Help: "Jumlah sesi websocket yang sedang terhubung.",
	})
	denialAudits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covenant_denial_audit_total",
		Help: "Penolakan akses yang diantrekan, dibuang, atau gagal dicatat.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, lockOps, decisions, notifications, sessions, denialAudits)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		lockOps:         lockOps,
		decisions:       decisions,
		notifications:   notifications,
		sessions:        sessions,
		denialAudits:    denialAudits,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveLock mencatat hasil operasi kunci.
func (m *Metrics) ObserveLock(op, outcome string) {
	if m == nil {
		return
	}
	m.lockOps.WithLabelValues(op, outcome).Inc()
}

// ObserveDecision mencatat keputusan otorisasi.
func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// ObserveNotification mencatat pengiriman notifikasi ("delivered" atau "dropped").
func (m *Metrics) ObserveNotification(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifications.WithLabelValues(result).Add(float64(n))
}

// ObserveDenialAudit mencatat nasib catatan penolakan ("queued", "dropped", "failed").
func (m *Metrics) ObserveDenialAudit(result string) {
	if m == nil {
		return
	}
	m.denialAudits.WithLabelValues(result).Inc()
}

// SessionOpened menambah jumlah sesi aktif.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed mengurangi jumlah sesi aktif.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer does not support hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
