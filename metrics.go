package fhirvalidator

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks validation and definition-cache activity.
//
// Counters are kept in atomics for cheap programmatic reads (Snapshot) and
// mirrored into Prometheus collectors registered on the Registerer given to
// NewMetrics. All methods are safe for concurrent use and on a nil receiver.
type Metrics struct {
	validationsTotal atomic.Uint64
	validationsValid atomic.Uint64
	validationNanos  atomic.Uint64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	validations *prometheus.CounterVec
	duration    prometheus.Histogram
	issues      *prometheus.CounterVec
	cache       *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance and registers its collectors on reg.
// A nil reg keeps the collectors unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhir_validator_validations_total",
				Help: "Total number of validated resources by resource type and outcome",
			},
			[]string{"resource_type", "valid"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fhir_validator_validation_duration_seconds",
				Help:    "Time spent validating a single resource",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		issues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhir_validator_issues_total",
				Help: "Total number of reported issues by severity",
			},
			[]string{"severity"},
		),
		cache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhir_validator_definition_cache_requests_total",
				Help: "Definition cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

// RecordValidation records a completed validation.
func (m *Metrics) RecordValidation(resourceType string, duration time.Duration, valid bool) {
	if m == nil {
		return
	}
	m.validationsTotal.Add(1)
	if valid {
		m.validationsValid.Add(1)
	}
	if duration > 0 {
		m.validationNanos.Add(uint64(duration.Nanoseconds())) //nolint:gosec // duration is positive
	}

	if m.validations != nil {
		label := "false"
		if valid {
			label = "true"
		}
		m.validations.WithLabelValues(resourceType, label).Inc()
		m.duration.Observe(duration.Seconds())
	}
}

// RecordIssues counts the issues of a result by severity.
func (m *Metrics) RecordIssues(issues []Issue) {
	if m == nil {
		return
	}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError, SeverityFatal:
			m.errorsTotal.Add(1)
		case SeverityWarning:
			m.warningsTotal.Add(1)
		default:
			m.infosTotal.Add(1)
		}
		if m.issues != nil {
			m.issues.WithLabelValues(string(issue.Severity)).Inc()
		}
	}
}

// CacheHit records a definition cache hit for a lookup kind.
func (m *Metrics) CacheHit(kind string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(1)
	if m.cache != nil {
		m.cache.WithLabelValues(kind, "hit").Inc()
	}
}

// CacheMiss records a definition cache miss for a lookup kind.
func (m *Metrics) CacheMiss(kind string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(1)
	if m.cache != nil {
		m.cache.WithLabelValues(kind, "miss").Inc()
	}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	ValidationsTotal      uint64        `json:"validationsTotal"`
	ValidationsValid      uint64        `json:"validationsValid"`
	AverageValidationTime time.Duration `json:"averageValidationTime"`
	CacheHits             uint64        `json:"cacheHits"`
	CacheMisses           uint64        `json:"cacheMisses"`
	ErrorsTotal           uint64        `json:"errorsTotal"`
	WarningsTotal         uint64        `json:"warningsTotal"`
	InfosTotal            uint64        `json:"infosTotal"`
}

// CacheHitRate returns hits / (hits + misses), or 0 with no lookups.
func (s MetricsSnapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	s := MetricsSnapshot{
		ValidationsTotal: m.validationsTotal.Load(),
		ValidationsValid: m.validationsValid.Load(),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		WarningsTotal:    m.warningsTotal.Load(),
		InfosTotal:       m.infosTotal.Load(),
	}
	if s.ValidationsTotal > 0 {
		s.AverageValidationTime = time.Duration(m.validationNanos.Load() / s.ValidationsTotal) //nolint:gosec // bounded by recorded durations
	}
	return s
}
