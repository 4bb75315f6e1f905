package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Apply failure reasons.
const (
	ReasonUnknownPrivilege = "unknown_privilege"
	ReasonStorage          = "storage"
	ReasonAudit            = "audit"
	ReasonPartial          = "partial"
)

// Metrics provides observability for the consent module: how many changes
// land per privilege, why batches fail, and how long resolution takes.
type Metrics struct {
	ChangesApplied  *prometheus.CounterVec
	ApplyFailures   *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
	ApplyDuration   prometheus.Histogram
}

// New creates consent metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChangesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privileges_consent_changes_applied_total",
			Help: "Total number of privilege changes committed, by privilege and resulting state",
		}, []string{"privilege", "state"}),
		ApplyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privileges_consent_apply_failures_total",
			Help: "Total number of rejected or failed change batches, by reason",
		}, []string{"reason"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "privileges_consent_resolve_duration_seconds",
			Help:    "Duration of resolving a user's privilege view",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "privileges_consent_apply_duration_seconds",
			Help:    "Duration of applying a change batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncChangeApplied records one committed change.
func (m *Metrics) IncChangeApplied(privilege string, granted bool) {
	state := "revoked"
	if granted {
		state = "granted"
	}
	m.ChangesApplied.WithLabelValues(privilege, state).Inc()
}

func (m *Metrics) IncApplyFailure(reason string) {
	m.ApplyFailures.WithLabelValues(reason).Inc()
}

// ObserveResolve records the duration of a Resolve call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolve(start time.Time) {
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

// ObserveApply records the duration of an Apply call.
func (m *Metrics) ObserveApply(start time.Time) {
	m.ApplyDuration.Observe(time.Since(start).Seconds())
}
