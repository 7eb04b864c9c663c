package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cdc_worker"

type Metrics struct {
	published        *prometheus.CounterVec
	publishErrors    prometheus.Counter
	publishRetries   prometheus.Counter
	publishLatency   prometheus.Histogram
	skipped          *prometheus.CounterVec
	structural       *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	invalidations    prometheus.Counter
	checkpointErrors prometheus.Counter
	state            prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "published_total",
			Help:      "the number of change events appended to the destination",
		}, []string{"operation_type"}),
		publishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_errors_total",
			Help:      "the number of change events which could not be appended after all attempts",
		}),
		publishRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_retries_total",
			Help:      "the number of failed append attempts which were retried",
		}),
		publishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "publish_duration_seconds",
			Help:      "the time it took to append a change event, including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "skipped_total",
			Help:      "the number of change events with an unhandled operation type",
		}, []string{"operation_type"}),
		structural: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "structural_total",
			Help:      "the number of structural change events which were not published",
		}, []string{"operation_type"}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "the number of times the pipeline reconnected to the change stream",
		}, []string{"fault"}),
		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalidations_total",
			Help:      "the number of times the change stream was invalidated",
		}),
		checkpointErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoint_errors_total",
			Help:      "the number of resume positions which could not be persisted",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state",
			Help:      "the current state of the pipeline (0 stopped, 1 starting, 2 subscribed, 3 reconnecting, 4 stopping)",
		}),
	}
}
