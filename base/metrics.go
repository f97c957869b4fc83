package base

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the sink the core writes to on every relevant path (spec
// §4.3 "Observability contract", §6 "Metrics registry"). It is a thin,
// label-set-aware wrapper over a prometheus.Registerer so the core never
// depends on a concrete collector lifecycle beyond registration.
type Metrics struct {
	reg  prometheus.Registerer
	ns   string
	ctrs map[string]*prometheus.CounterVec
	gges map[string]*prometheus.GaugeVec
}

// NewMetrics builds a Metrics sink registered under namespace ns. Passing
// nil for reg uses prometheus.DefaultRegisterer.
func NewMetrics(ns string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		reg:  reg,
		ns:   ns,
		ctrs: make(map[string]*prometheus.CounterVec),
		gges: make(map[string]*prometheus.GaugeVec),
	}
}

// Counter creates on first use the counter named name with the given
// label names, then increments it by delta for the given label values. delta is usually 1 or a byte/line count.
func (m *Metrics) Counter(name string, labelNames []string, delta float64, labelValues ...string) {
	cv, ok := m.ctrs[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.ns,
			Name:      name,
		}, labelNames)
		m.reg.MustRegister(cv)
		m.ctrs[name] = cv
	}
	cv.WithLabelValues(labelValues...).Add(delta)
}

// Gauge creates on first use the gauge named name with the given label
// names, then sets it to value for the given label values.
func (m *Metrics) Gauge(name string, labelNames []string, value float64, labelValues ...string) {
	gv, ok := m.gges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.ns,
			Name:      name,
		}, labelNames)
		m.reg.MustRegister(gv)
		m.gges[name] = gv
	}
	gv.WithLabelValues(labelValues...).Set(value)
}

// Nop returns a Metrics sink backed by a private registry, suitable for
// tests and callers that don't want a global side effect.
func Nop() *Metrics {
	return NewMetrics("nop", prometheus.NewRegistry())
}
