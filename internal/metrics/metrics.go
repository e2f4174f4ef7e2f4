// Package metrics provides Prometheus instrumentation for registry writes,
// discovery reads and registration operations.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics tracks registry traffic and registration outcomes.
type Metrics struct {
	RegistryCalls        *prometheus.CounterVec
	RegistryCallDuration *prometheus.HistogramVec
	DiscoveryDuration    *prometheus.HistogramVec
	Operations           *prometheus.CounterVec
	Compensations        *prometheus.CounterVec
}

// New registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistryCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peppol_smp_registry_calls_total",
			Help: "Registry write calls by method and response status (0 = no response)",
		}, []string{"method", "status"}),
		RegistryCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peppol_smp_registry_call_duration_seconds",
			Help:    "Duration of registry write calls",
			Buckets: durationBuckets,
		}, []string{"method"}),
		DiscoveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peppol_discovery_duration_seconds",
			Help:    "Duration of discovery operations by outcome",
			Buckets: durationBuckets,
		}, []string{"operation", "outcome"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peppol_registration_operations_total",
			Help: "Registration operations by name and outcome",
		}, []string{"operation", "outcome"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peppol_registration_compensations_total",
			Help: "Compensation steps run after a failed registration, by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRegistryCall records one registry write. It satisfies smp.Observer.
func (m *Metrics) ObserveRegistryCall(method string, status int, start time.Time) {
	m.RegistryCalls.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RegistryCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// ObserveDiscovery records one discovery operation. It satisfies
// discovery.Observer.
func (m *Metrics) ObserveDiscovery(operation string, err error, start time.Time) {
	m.DiscoveryDuration.WithLabelValues(operation, outcome(err)).Observe(time.Since(start).Seconds())
}

// ObserveOperation counts a registration operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	m.Operations.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveCompensation counts one compensation step.
func (m *Metrics) ObserveCompensation(err error) {
	m.Compensations.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
