package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the fan-out pipelines and the
// transaction generators. A nil *Metrics records nothing.
type Metrics struct {
	// Broadcaster metrics
	MessagesReceived  *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	SinksQuarantined  *prometheus.CounterVec
	BroadcasterHalts  *prometheus.CounterVec
	FanoutLatency     *prometheus.HistogramVec
	IngressDepth      *prometheus.GaugeVec

	// Client metrics
	TransactionsGenerated prometheus.Counter
	TransactionsDropped   prometheus.Counter
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages dequeued from an ingress queue, by category",
		}, []string{"category"}),
		MessagesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Message copies delivered to node sinks, by category",
		}, []string{"category"}),
		SinksQuarantined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sinks_quarantined_total",
			Help:      "Node sinks removed from delivery after a failed send, by category",
		}, []string{"category"}),
		BroadcasterHalts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcaster_halts_total",
			Help:      "Broadcasters terminated by a delivery failure, by category",
		}, []string{"category"}),
		FanoutLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_latency_seconds",
			Help:      "Time to deliver one message to every sink, by category",
			Buckets:   []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"category"}),
		IngressDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingress_depth",
			Help:      "Messages waiting in an ingress queue, by category",
		}, []string{"category"}),

		TransactionsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_generated_total",
			Help:      "Synthetic transactions generated by clients",
		}),
		TransactionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_dropped_total",
			Help:      "Generated transactions that could not be published",
		}),
	}
}

// RecordReceived records one dequeued message and the remaining depth.
func (m *Metrics) RecordReceived(c Category, depth int) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(c.String()).Inc()
	m.IngressDepth.WithLabelValues(c.String()).Set(float64(depth))
}

// RecordFanout records one message delivered to n sinks.
func (m *Metrics) RecordFanout(c Category, n int, duration time.Duration) {
	if m == nil {
		return
	}
	m.MessagesDelivered.WithLabelValues(c.String()).Add(float64(n))
	m.FanoutLatency.WithLabelValues(c.String()).Observe(duration.Seconds())
}

// RecordQuarantine records one quarantined sink.
func (m *Metrics) RecordQuarantine(c Category) {
	if m == nil {
		return
	}
	m.SinksQuarantined.WithLabelValues(c.String()).Inc()
}

// RecordHalt records a broadcaster stopped by a delivery failure.
func (m *Metrics) RecordHalt(c Category) {
	if m == nil {
		return
	}
	m.BroadcasterHalts.WithLabelValues(c.String()).Inc()
}

// RecordEmit records one generated transaction and whether it was published.
func (m *Metrics) RecordEmit(published bool) {
	if m == nil {
		return
	}
	m.TransactionsGenerated.Inc()
	if !published {
		m.TransactionsDropped.Inc()
	}
}
