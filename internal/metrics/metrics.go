// Package metrics holds the Prometheus collectors shared by the pipeline,
// the recognizer and the HTTP server.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PreprocessDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "glyph_preprocess_duration_seconds",
		Help:    "Time spent turning a captured image into a feature vector.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glyph_inference_duration_seconds",
			Help:    "Time spent in the classifier backend.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"backend"},
	)

	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glyph_predictions_total",
			Help: "Predictions made, partitioned by character class.",
		},
		[]string{"class"},
	)

	Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glyph_failures_total",
			Help: "Failed recognitions, partitioned by stage.",
		},
		[]string{"stage"},
	)

	DebugWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glyph_debug_write_failures_total",
		Help: "Debug snapshots that could not be written.",
	})

	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glyph_http_in_flight_requests",
		Help: "Number of HTTP requests currently being served.",
	})

	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glyph_http_requests_total",
			Help: "A counter for requests to the HTTP API.",
		},
		[]string{"code", "method"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glyph_http_request_duration_seconds",
			Help:    "A histogram of latencies for requests.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PreprocessDuration,
			InferenceDuration,
			Predictions,
			Failures,
			DebugWriteFailures,
			InFlight,
			Requests,
			RequestDuration,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an http.Handler with the in-flight, counter and duration collectors
func Instrument(name string, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(InFlight,
		promhttp.InstrumentHandlerDuration(RequestDuration.MustCurryWith(prometheus.Labels{"handler": name}),
			promhttp.InstrumentHandlerCounter(Requests, next),
		),
	)
}
