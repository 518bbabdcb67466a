package metrics

import "github.com/prometheus/client_golang/prometheus"

// DeliveryMetrics exposes counters/histograms for the outbound delivery pipeline.
type DeliveryMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	terminalTotal   *prometheus.CounterVec
	enqueuedTotal   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	retryDelay      prometheus.Histogram
}

func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	m := &DeliveryMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Provider delivery attempts by channel and classified outcome",
		}, []string{"channel", "outcome"}),
		terminalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Subsystem: "delivery",
			Name:      "terminal_total",
			Help:      "Messages reaching a terminal delivery state",
		}, []string{"channel", "state"}),
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messaging",
			Subsystem: "delivery",
			Name:      "tasks_enqueued_total",
			Help:      "Delivery tasks placed on the queue by reason",
		}, []string{"reason"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "messaging",
			Subsystem: "delivery",
			Name:      "provider_latency_seconds",
			Help:      "Latency of provider gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "messaging",
			Subsystem: "delivery",
			Name:      "retry_delay_seconds",
			Help:      "Delay before scheduled retry attempts",
			Buckets:   []float64{1, 3, 6, 12, 30, 60, 300, 900, 3600, 86400},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.terminalTotal, m.enqueuedTotal, m.providerLatency, m.retryDelay)
	return m
}

func (m *DeliveryMetrics) ObserveAttempt(channel, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(channel, outcome).Inc()
	m.providerLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *DeliveryMetrics) ObserveTerminal(channel, state string) {
	if m == nil {
		return
	}
	m.terminalTotal.WithLabelValues(channel, state).Inc()
}

func (m *DeliveryMetrics) ObserveEnqueued(reason string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(reason).Inc()
}

func (m *DeliveryMetrics) ObserveRetryDelay(seconds float64) {
	if m == nil {
		return
	}
	m.retryDelay.Observe(seconds)
}
