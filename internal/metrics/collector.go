package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the Prometheus series exported on /metrics.
type Collector struct {
	eventsTotal          *prometheus.CounterVec
	rateLimitChecksTotal *prometheus.CounterVec
	updatesTotal         *prometheus.CounterVec
	updateDuration       *prometheus.HistogramVec
	spikeAlertsTotal     prometheus.Counter
	httpRequestsTotal    *prometheus.CounterVec
}

// NewCollector registers on the default registerer.
func NewCollector() *Collector {
	return NewCollectorWithRegisterer(nil)
}

// NewCollectorWithRegisterer registers on reg, or the default registerer
// when reg is nil.
func NewCollectorWithRegisterer(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_events_total",
				Help: "Business events counted by name (uploads, errors, publications)",
			},
			[]string{"name"},
		),

		rateLimitChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_checks_total",
				Help: "Rate limit checks by limiter and outcome",
			},
			[]string{"limiter", "outcome"},
		),

		updatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegram_updates_total",
				Help: "Inbound Telegram updates by classified kind",
			},
			[]string{"kind"},
		),

		updateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telegram_update_duration_seconds",
				Help:    "Time spent handling one inbound update",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		spikeAlertsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "error_spike_alerts_total",
				Help: "Number of error spike alerts raised",
			},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

func (c *Collector) IncEvent(name string) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(name).Inc()
}

func (c *Collector) RecordRateLimitCheck(limiter, outcome string) {
	if c == nil {
		return
	}
	c.rateLimitChecksTotal.WithLabelValues(limiter, outcome).Inc()
}

func (c *Collector) RecordUpdate(kind string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.updatesTotal.WithLabelValues(kind).Inc()
	c.updateDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (c *Collector) IncSpikeAlert() {
	if c == nil {
		return
	}
	c.spikeAlertsTotal.Inc()
}

func (c *Collector) RecordHTTPRequest(route, code string) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(route, code).Inc()
}
