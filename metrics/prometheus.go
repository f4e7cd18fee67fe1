// Package metrics exports ductor runtime metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the process-wide metric vectors. All record methods
// are nil-safe so callers can run without metrics wired.
type Exporter struct {
	registry *prometheus.Registry

	messages    prometheus.Counter
	cliRuns     *prometheus.CounterVec
	cliDuration *prometheus.HistogramVec
	webhookReqs *prometheus.CounterVec
	cronFires   *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// NewExporter builds an exporter with its own registry.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	e := &Exporter{registry: registry}

	e.messages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ductor",
		Name:      "messages_total",
		Help:      "Total number of user messages handled",
	})
	e.cliRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ductor",
		Name:      "cli_runs_total",
		Help:      "Total number of CLI executions",
	}, []string{"provider", "status"})
	e.cliDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ductor",
		Name:      "cli_duration_seconds",
		Help:      "CLI execution duration in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"provider"})
	e.webhookReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ductor",
		Name:      "webhook_requests_total",
		Help:      "Total webhook requests by response code",
	}, []string{"code"})
	e.cronFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ductor",
		Name:      "cron_fires_total",
		Help:      "Total cron job executions by status",
	}, []string{"status"})
	e.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ductor",
		Name:      "queue_depth",
		Help:      "Messages waiting in per-chat queues",
	})

	registry.MustRegister(e.messages, e.cliRuns, e.cliDuration,
		e.webhookReqs, e.cronFires, e.queueDepth)
	return e
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// RecordMessage counts one handled user message.
func (e *Exporter) RecordMessage() {
	if e == nil {
		return
	}
	e.messages.Inc()
}

// RecordCLIRun counts one CLI execution with its duration.
func (e *Exporter) RecordCLIRun(provider, status string, seconds float64) {
	if e == nil {
		return
	}
	e.cliRuns.WithLabelValues(provider, status).Inc()
	e.cliDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordWebhookRequest counts one webhook request by response code.
func (e *Exporter) RecordWebhookRequest(code int) {
	if e == nil {
		return
	}
	e.webhookReqs.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordCronFire counts one cron execution by status.
func (e *Exporter) RecordCronFire(status string) {
	if e == nil {
		return
	}
	e.cronFires.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the current queued-message count.
func (e *Exporter) SetQueueDepth(n int) {
	if e == nil {
		return
	}
	e.queueDepth.Set(float64(n))
}
