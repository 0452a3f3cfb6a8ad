package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dev backend's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	WSMessages        *prometheus.CounterVec
	WSMessageDuration *prometheus.HistogramVec
	WSConnections     prometheus.Gauge

	BotReplies       *prometheus.CounterVec
	BotReplyDuration prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of websocket messages by action",
			},
			[]string{"action"},
		),
		WSMessageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "websocket_message_duration_seconds",
				Help:    "Time spent handling a websocket message",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"action"},
		),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of open chat sockets",
		}),

		BotReplies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_replies_total",
				Help: "Bot replies by outcome",
			},
			[]string{"outcome"},
		),
		BotReplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_reply_duration_seconds",
			Help:    "Time from dequeue to delivered bot reply",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest counts one finished request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordWSMessage counts one socket message handled under action.
func (m *Metrics) RecordWSMessage(action string, duration time.Duration) {
	m.WSMessages.WithLabelValues(action).Inc()
	m.WSMessageDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveBotReply records the outcome of a bot job.
func (m *Metrics) ObserveBotReply(err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BotReplies.WithLabelValues(outcome).Inc()
	m.BotReplyDuration.Observe(duration.Seconds())
}
