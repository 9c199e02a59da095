// Package metrics provides Prometheus metrics for the orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "craftvault"

// Job kind labels.
const (
	KindBackup   = "backup"
	KindRecovery = "recovery"
)

// Collector is a prometheus.Collector for engine metrics. A nil *Collector
// is valid and records nothing, so instrumentation can be left unwired in
// tests and tooling.
type Collector struct {
	jobsSubmitted   *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	bytesBackedUp   prometheus.Counter
	bytesRestored   prometheus.Counter
	backupsPruned   prometheus.Counter
	sweepFailedJobs prometheus.Counter
	scheduleTicks   *prometheus.CounterVec
	verifications   *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		jobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Jobs accepted into the queue, by kind.",
			}, []string{"kind"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Jobs reaching a terminal state, by kind and state.",
			}, []string{"kind", "state"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock duration of completed jobs.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
			}, []string{"kind"},
		),
		bytesBackedUp: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backup_bytes_total",
				Help:      "Bytes written by completed backup jobs.",
			},
		),
		bytesRestored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restore_bytes_total",
				Help:      "Bytes written by completed recovery jobs.",
			},
		),
		backupsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backups_pruned_total",
				Help:      "Backups deleted by retention enforcement.",
			},
		),
		sweepFailedJobs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_failed_jobs_total",
				Help:      "In-progress jobs failed by the liveness sweep.",
			},
		),
		scheduleTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_runs_total",
				Help:      "Schedule firings, by outcome.",
			}, []string{"outcome"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verification runs, by overall status.",
			}, []string{"status"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.jobsSubmitted.Describe(ch)
	c.jobsFinished.Describe(ch)
	c.jobDuration.Describe(ch)
	c.bytesBackedUp.Describe(ch)
	c.bytesRestored.Describe(ch)
	c.backupsPruned.Describe(ch)
	c.sweepFailedJobs.Describe(ch)
	c.scheduleTicks.Describe(ch)
	c.verifications.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.jobsSubmitted.Collect(ch)
	c.jobsFinished.Collect(ch)
	c.jobDuration.Collect(ch)
	c.bytesBackedUp.Collect(ch)
	c.bytesRestored.Collect(ch)
	c.backupsPruned.Collect(ch)
	c.sweepFailedJobs.Collect(ch)
	c.scheduleTicks.Collect(ch)
	c.verifications.Collect(ch)
}

// JobSubmitted records a job entering the queue.
func (c *Collector) JobSubmitted(kind string) {
	if c == nil {
		return
	}
	c.jobsSubmitted.WithLabelValues(kind).Inc()
}

// JobFinished records a job reaching a terminal state.
func (c *Collector) JobFinished(kind, state string) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(kind, state).Inc()
}

// JobDuration records the wall-clock duration of a completed job.
func (c *Collector) JobDuration(kind string, seconds float64) {
	if c == nil {
		return
	}
	c.jobDuration.WithLabelValues(kind).Observe(seconds)
}

// BytesBackedUp adds to the backup byte counter.
func (c *Collector) BytesBackedUp(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesBackedUp.Add(float64(n))
}

// BytesRestored adds to the restore byte counter.
func (c *Collector) BytesRestored(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesRestored.Add(float64(n))
}

// BackupsPruned records backups removed by retention.
func (c *Collector) BackupsPruned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.backupsPruned.Add(float64(n))
}

// SweepFailedJobs records jobs failed by the liveness sweep.
func (c *Collector) SweepFailedJobs(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.sweepFailedJobs.Add(float64(n))
}

// ScheduleTick records one schedule firing with its outcome.
func (c *Collector) ScheduleTick(outcome string) {
	if c == nil {
		return
	}
	c.scheduleTicks.WithLabelValues(outcome).Inc()
}

// VerificationFinished records one verification run with its overall status.
func (c *Collector) VerificationFinished(status string) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(status).Inc()
}
