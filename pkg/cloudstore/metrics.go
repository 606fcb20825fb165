package cloudstore

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports service counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ingests          *prometheus.CounterVec
	ingestedBytes    prometheus.Counter
	removals         *prometheus.CounterVec
	shareTransitions *prometheus.CounterVec
	notifyFailures   prometheus.Counter
	listingFaults    *prometheus.CounterVec
}

// NewMetrics registers the service collectors on reg. Collectors already
// registered by an earlier call are reused.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "cloudstore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Ingest attempts by outcome.",
		}, []string{"outcome"}),
		ingestedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Bytes committed by successful ingests.",
		}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Object removals by outcome.",
		}, []string{"outcome"}),
		shareTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_transitions_total",
			Help:      "Share requests entering each status.",
		}, []string{"status"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
		listingFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_faults_total",
			Help:      "Read-only listings that degraded to an empty result.",
		}, []string{"listing"}),
	}

	if err := register(reg, &m.ingests); err != nil {
		return nil, err
	}
	if err := register(reg, &m.ingestedBytes); err != nil {
		return nil, err
	}
	if err := register(reg, &m.removals); err != nil {
		return nil, err
	}
	if err := register(reg, &m.shareTransitions); err != nil {
		return nil, err
	}
	if err := register(reg, &m.notifyFailures); err != nil {
		return nil, err
	}
	if err := register(reg, &m.listingFaults); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNewMetrics is NewMetrics that panics on registration errors.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics("", reg)
	if err != nil {
		panic(err)
	}
	return m
}

// register adds c to reg, swapping in the existing collector when an equal
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				*c = existing
				return nil
			}
		}
		return fmt.Errorf("register cloudstore metric: %w", err)
	}
	return nil
}

func (m *Metrics) recordIngest(size int64, err error) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.ingestedBytes.Add(float64(size))
	}
}

func (m *Metrics) recordRemoval(err error) {
	if m == nil {
		return
	}
	m.removals.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) recordShare(status ShareStatus, n int) {
	if m == nil || n == 0 {
		return
	}
	m.shareTransitions.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) recordNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) recordListingFault(listing string) {
	if m == nil {
		return
	}
	m.listingFaults.WithLabelValues(listing).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageFault):
		return "storage_fault"
	default:
		return "error"
	}
}
