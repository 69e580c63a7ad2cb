package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics carries its own registry so every Server instance exposes a
// clean /metrics and repeated construction never double registers.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_api_requests_total",
				Help: "Total number of handled HTTP requests.",
			},
			[]string{"handler", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kg_api_request_duration_seconds",
				Help:    "Time spent handling HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
	}
	m.registry.MustRegister(m.requests, m.duration)
	return m
}

func (s *Server) instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		s.metrics.requests.WithLabelValues(handler, strconv.Itoa(ww.Status())).Inc()
		s.metrics.duration.WithLabelValues(handler).Observe(time.Since(started).Seconds())
	}
}
