package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent  *prometheus.CounterVec
	ticksDropped  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	settlements   *prometheus.CounterVec
	interventions *prometheus.CounterVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcdesk_messages_sent_total",
				Help: "Total number of messages sent to a backend",
			},
			[]string{"backend", "symbol"},
		),
		ticksDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcdesk_ticks_dropped_total",
				Help: "Ticks dropped because a subscriber was not keeping up",
			},
			[]string{"subscriber"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcdesk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otcdesk_last_price",
				Help: "Last published price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "otcdesk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		settlements: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcdesk_settlements_total",
				Help: "Settled trades by terminal status and outcome source",
			},
			[]string{"symbol", "status", "source"},
		),
		interventions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcdesk_interventions_total",
				Help: "Administrative interventions by action type",
			},
			[]string{"action"},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordTickDropped records a tick a subscriber did not receive.
func (r *Recorder) RecordTickDropped(subscriber string) {
	r.ticksDropped.WithLabelValues(subscriber).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSettlement(symbol, status, source string) {
	r.settlements.WithLabelValues(symbol, status, source).Inc()
}

func (r *Recorder) RecordIntervention(action string) {
	r.interventions.WithLabelValues(action).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordMessageSent(string, string)          {}
func (Nop) RecordTickDropped(string)                  {}
func (Nop) RecordError(string)                        {}
func (Nop) RecordLastPrice(string, float64)           {}
func (Nop) RecordLatency(string, float64)             {}
func (Nop) RecordSettlement(string, string, string)   {}
func (Nop) RecordIntervention(string)                 {}
