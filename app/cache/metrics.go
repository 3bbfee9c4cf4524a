package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache lookups per logical cache name. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	lookups *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greeting_cache_lookups_total",
				Help: "Total number of cache lookups by cache name and result",
			},
			[]string{"cache", "result"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greeting_cache_errors_total",
				Help: "Total number of cache backend errors by cache name and operation",
			},
			[]string{"cache", "operation"},
		),
	}

	reg.MustRegister(m.lookups, m.errors)
	return m
}

func (m *Metrics) Hit(cache string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) Miss(cache string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(cache, "miss").Inc()
}

func (m *Metrics) Error(cache, operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(cache, operation).Inc()
}
