package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonDeadlock             = "deadlock"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonInvariantViolation   = "invariant_violation"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerSkipReasonLockHeld = "lock_held"
	SchedulerSkipReasonOverlap  = "overlap"
)

// ErrInvariantViolated marks a job that completed but found the books out
// of balance.
var ErrInvariantViolated = errors.New("invariant_violated")

var pgReasons = map[string]string{
	"55P03": SchedulerJobReasonDBLockTimeout,
	"40001": SchedulerJobReasonSerializationFailure,
	"40P01": SchedulerJobReasonDeadlock,
	"23505": SchedulerJobReasonUniqueViolation,
}

// SchedulerMetrics captures background job health. A nil value records
// nothing.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobTimeouts *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobSkipped  *prometheus.CounterVec
	processed   *prometheus.CounterVec
	runLoopLag  prometheus.Histogram
}

var (
	defaultSchedulerOnce sync.Once
	defaultScheduler     *SchedulerMetrics
)

// Scheduler returns instruments registered once on the default registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig is Scheduler with service and env labels taken from
// cfg. Only the first call's cfg is used.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	defaultSchedulerOnce.Do(func() {
		defaultScheduler = NewSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return defaultScheduler
}

// NewSchedulerMetrics registers scheduler instruments on registerer.
func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{
		"service": orDefault(cfg.ServiceName, "escrowd"),
		"env":     orDefault(cfg.Environment, "unknown"),
	}
	counter := func(name, help string, keys ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowd", Subsystem: "scheduler", Name: name, Help: help, ConstLabels: labels,
		}, keys)
	}

	m := &SchedulerMetrics{
		jobRuns:     counter("job_runs_total", "Scheduler job runs by name.", "job"),
		jobTimeouts: counter("job_timeouts_total", "Scheduler jobs that hit their deadline.", "job"),
		jobErrors:   counter("job_errors_total", "Scheduler job errors by low-cardinality reason.", "job", "reason"),
		jobSkipped:  counter("job_skipped_total", "Scheduler runs skipped because another run held the job.", "job", "reason"),
		processed:   counter("items_processed_total", "Items examined by scheduler jobs.", "job", "resource"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrowd", Subsystem: "scheduler", Name: "job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     prometheus.ExponentialBucketsRange(0.01, 120, 14),
			ConstLabels: labels,
		}, []string{"job"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrowd", Subsystem: "scheduler", Name: "runloop_lag_seconds",
			Help:        "Delay between the scheduled tick and the actual job start.",
			Buckets:     prometheus.ExponentialBucketsRange(0.01, 60, 11),
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.jobSkipped, m.processed, m.runLoopLag)
	return m
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m != nil {
		m.jobRuns.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m != nil {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m != nil {
		m.jobTimeouts.WithLabelValues(job).Inc()
	}
}

// IncJobError counts err under the reason ClassifySchedulerJobReason picks.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m != nil && err != nil {
		m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
	}
}

func (m *SchedulerMetrics) IncJobSkipped(job, reason string) {
	if m != nil {
		m.jobSkipped.WithLabelValues(job, reason).Inc()
	}
}

func (m *SchedulerMetrics) AddProcessed(job, resource string, count int) {
	if m != nil && count > 0 {
		m.processed.WithLabelValues(job, resource).Add(float64(count))
	}
}

// ObserveRunLoopLag records how late a tick fired. Negative lag counts as zero.
func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m != nil {
		m.runLoopLag.Observe(max(lag, 0).Seconds())
	}
}

// ClassifySchedulerJobReason maps job errors onto a fixed label set.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, ErrInvariantViolated):
		return SchedulerJobReasonInvariantViolation
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return SchedulerJobReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if reason, ok := pgReasons[pgErr.Code]; ok {
			return reason
		}
	}
	return SchedulerJobReasonUnknown
}
