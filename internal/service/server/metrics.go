package server

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	stored          prometheus.Counter
	ciphertextBytes prometheus.Histogram
	connections     prometheus.Gauge
	delivered       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_stored_total",
			Help: "Total number of sealed messages stored.",
		}),
		ciphertextBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_ciphertext_bytes",
			Help:    "Size of stored sealed payloads.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Open websocket connections on this instance.",
		}),
		delivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_delivered_total",
				Help: "Realtime events written to local connections.",
			},
			[]string{"event"},
		),
	}

	reg.MustRegister(m.requests, m.duration, m.stored, m.ciphertextBytes, m.connections, m.delivered)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		if path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(sr.status)).Inc()
		m.duration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
