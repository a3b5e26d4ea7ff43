package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Apply pipeline metrics
	appliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poactl_applies_total",
			Help: "Total number of apply runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	applyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poactl_apply_duration_seconds",
			Help:    "Duration of apply runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poactl_rollbacks_total",
			Help: "Total number of rollbacks by result",
		},
		[]string{"result"},
	)

	validationViolations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poactl_validation_violations",
			Help: "Violations reported by the most recent validation run",
		},
	)

	backupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poactl_backups_total",
			Help: "Total number of backups taken",
		},
	)
)

func init() {
	prometheus.MustRegister(appliesTotal)
	prometheus.MustRegister(applyDuration)
	prometheus.MustRegister(rollbacksTotal)
	prometheus.MustRegister(validationViolations)
	prometheus.MustRegister(backupsTotal)
}

// RecordApply records a finished apply run.
func RecordApply(outcome string, duration time.Duration) {
	appliesTotal.WithLabelValues(outcome).Inc()
	applyDuration.Observe(duration.Seconds())
}

// RecordRollback records a rollback attempt result ("success" or "failure").
func RecordRollback(result string) {
	rollbacksTotal.WithLabelValues(result).Inc()
}

// RecordValidation records the violation count of a validation run.
func RecordValidation(violations int) {
	validationViolations.Set(float64(violations))
}

// RecordBackup records a taken backup.
func RecordBackup() {
	backupsTotal.Inc()
}

// Handler returns the Prometheus scrape handler for the admin API.
func Handler() http.Handler {
	return promhttp.Handler()
}
