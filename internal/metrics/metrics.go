// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package metrics exposes run, fallback, status-transition and HTTP
// collectors for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/run"
)

const namespace = "relay"

// Recorder observes runs and backend status transitions. It satisfies
// run.Observer and availability.Publisher.
type Recorder struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsActive   prometheus.Gauge
	fallbacks    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var (
	_ run.Observer           = (*Recorder)(nil)
	_ availability.Publisher = (*Recorder)(nil)
)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by effective backend and outcome.",
		}, []string{"backend", "outcome"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of finished runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"backend"}),
		runsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Runs rerouted to a fallback backend, by resolution tier.",
		}, []string{"source"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Backend availability transitions.",
		}, []string{"backend", "type"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
	}
}

func (r *Recorder) RunStarted(rec *run.Record) {
	r.runsActive.Inc()
	if rec.UsedFallback {
		r.fallbacks.WithLabelValues(string(rec.FallbackSource)).Inc()
	}
}

func (r *Recorder) RunFinished(rec *run.Record) {
	r.runsTotal.WithLabelValues(rec.BackendID, string(rec.State())).Inc()
	if rec.DurationMS != nil {
		r.runDuration.WithLabelValues(rec.BackendID).Observe(float64(*rec.DurationMS) / 1000)
	}
	r.runsActive.Dec()
}

// Publish counts a status transition.
func (r *Recorder) Publish(e availability.Event) {
	r.transitions.WithLabelValues(e.BackendID, string(e.Type)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE handlers keep streaming.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Middleware instruments requests, labelling them by chi route pattern to
// keep cardinality bounded.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, req)

		path := routePatternOrPath(req)
		status := strconv.Itoa(sr.status)
		r.httpRequests.WithLabelValues(path, req.Method, status).Inc()
		r.httpDuration.WithLabelValues(path, req.Method, status).Observe(time.Since(start).Seconds())
	})
}

func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
