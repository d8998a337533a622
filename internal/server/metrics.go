package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry so
// several servers (and tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	LiveSockets   prometheus.Gauge
	LiveFrames    *prometheus.CounterVec
	LiveDropped   prometheus.Counter
	LiveRejected  prometheus.Counter
	RelayReceived prometheus.Counter
	SSEClients    prometheus.Gauge
	SSEDropped    prometheus.Counter
	RPCs          *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "panels",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		LiveSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panels",
			Name:      "live_sockets",
			Help:      "Open live WebSocket connections.",
		}),
		LiveFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "live_frames_total",
			Help:      "Live frames accepted, by type and origin (local or relay).",
		}, []string{"type", "origin"}),
		LiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "live_frames_dropped_total",
			Help:      "Live frames dropped because a socket's send queue was full.",
		}),
		LiveRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "live_frames_rejected_total",
			Help:      "Inbound live frames that failed to parse or validate.",
		}),
		RelayReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "relay_frames_received_total",
			Help:      "Live frames received from other instances over NATS.",
		}),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panels",
			Name:      "sse_clients",
			Help:      "Open change event streams.",
		}),
		SSEDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "sse_events_dropped_total",
			Help:      "Change events not delivered because a stream's queue was full.",
		}),
		RPCs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "grpc_requests_total",
			Help:      "LiveService calls by method and status code.",
		}, []string{"method", "code"}),
	}
	m.Registry.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.LiveSockets, m.LiveFrames, m.LiveDropped, m.LiveRejected, m.RelayReceived,
		m.SSEClients, m.SSEDropped, m.RPCs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// instrument records request count and latency under route.
func (m *Metrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status while passing through the
// Flusher and Hijacker interfaces the SSE and WebSocket handlers need.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not implement http.Hijacker")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
