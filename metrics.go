package capturebridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "capturebridge"

type metrics struct {
	received        prometheus.Counter
	delivered       prometheus.Counter
	timeouts        prometheus.Counter
	dropped         *prometheus.CounterVec
	transformErrors *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, sessionID string, depth func() float64) *metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"session": sessionID}

	m := &metrics{
		received: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "frames_received_total",
			Help:        "Frames handed over by the capture driver",
			ConstLabels: labels,
		}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "frames_delivered_total",
			Help:        "Frames converted and returned to the consumer",
			ConstLabels: labels,
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "get_frame_timeouts_total",
			Help:        "GetFrame calls that returned without a frame",
			ConstLabels: labels,
		}),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "frames_dropped_total",
				Help:        "Frames discarded before reaching the consumer",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		transformErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "transform_errors_total",
				Help:        "Frames that failed conversion",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "queue_depth",
		Help:        "Frames waiting for the consumer",
		ConstLabels: labels,
	}, depth)

	return m
}
