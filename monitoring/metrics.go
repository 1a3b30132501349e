// Package monitoring exposes Prometheus metrics and the live prediction feed.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heartrisk"

// Metrics holds every collector the service reports. It satisfies
// prediction.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	predictions       *prometheus.CounterVec
	predictionLatency prometheus.Histogram
	reloads           *prometheus.CounterVec
	generation        prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	feedClients       prometheus.GaugeFunc
}

// NewMetrics registers the collectors on a private registry. feedClients
// may be nil when no feed is running.
func NewMetrics(feedClients func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		started:  time.Now(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served, by risk category and cache hit.",
		}, []string{"risk_category", "cached"}),
		predictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent computing a prediction and its explanation.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_reloads_total",
			Help:      "Artifact reload attempts, by outcome.",
		}, []string{"outcome"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_generation",
			Help:      "Generation of the artifact snapshot currently serving.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.predictions,
		m.predictionLatency,
		m.reloads,
		m.generation,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started serving.",
		}, func() float64 { return m.Uptime().Seconds() }),
	)

	if feedClients != nil {
		m.feedClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Websocket clients subscribed to the prediction feed.",
		}, func() float64 { return float64(feedClients()) })
		reg.MustRegister(m.feedClients)
	}
	return m
}

// ObservePrediction counts a prediction and records its latency when it was computed.
func (m *Metrics) ObservePrediction(riskCategory string, elapsed time.Duration, cached bool) {
	m.predictions.WithLabelValues(riskCategory, strconv.FormatBool(cached)).Inc()
	if !cached {
		m.predictionLatency.Observe(elapsed.Seconds())
	}
}

// ObserveReload records a watcher reload; generation is only published on success.
func (m *Metrics) ObserveReload(generation uint64, err error) {
	if err != nil {
		m.reloads.WithLabelValues("failure").Inc()
		return
	}
	m.reloads.WithLabelValues("success").Inc()
	m.generation.Set(float64(generation))
}

func (m *Metrics) SetGeneration(generation uint64) {
	m.generation.Set(float64(generation))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Uptime is the time since the metrics were created, which is process start in serve.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.started)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
