package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	wrapped := func(code string) error {
		return fmt.Errorf("payout approve: %w", &pgconn.PgError{Code: code})
	}

	for name, tc := range map[string]struct {
		err  error
		want string
	}{
		"job deadline":       {context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		"invariant violated": {fmt.Errorf("invariant_check: %w", ErrInvariantViolated), SchedulerJobReasonInvariantViolation},
		"lock not available": {wrapped("55P03"), SchedulerJobReasonDBLockTimeout},
		"serializable retry": {wrapped("40001"), SchedulerJobReasonSerializationFailure},
		"deadlock detected":  {wrapped("40P01"), SchedulerJobReasonDeadlock},
		"pg unique key":      {&pgconn.PgError{Code: "23505"}, SchedulerJobReasonUniqueViolation},
		"gorm duplicate key": {gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		"other pg code":      {wrapped("42P01"), SchedulerJobReasonUnknown},
		"plain error":        {errors.New("gateway unreachable"), SchedulerJobReasonUnknown},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestSchedulerMetricsRecordJobOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg, Config{Environment: "test"})

	m.IncJobRun("invariant_check")
	m.IncJobRun("invariant_check")
	m.IncJobError("invariant_check", ErrInvariantViolated)
	m.IncJobError("invariant_check", nil)
	m.IncJobSkipped("invariant_check", SchedulerSkipReasonLockHeld)
	m.AddProcessed("stale_webhook_events", "webhook_events", 3)
	m.AddProcessed("stale_webhook_events", "webhook_events", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("invariant_check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("invariant_check", SchedulerJobReasonInvariantViolation)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobSkipped.WithLabelValues("invariant_check", SchedulerSkipReasonLockHeld)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.processed.WithLabelValues("stale_webhook_events", "webhook_events")))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			assert.Equal(t, "escrowd", labels["service"], mf.GetName())
			assert.Equal(t, "test", labels["env"], mf.GetName())
		}
	}
}

func TestSchedulerMetricsRunLoopLagClampsNegative(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg, Config{})

	m.ObserveRunLoopLag(1500 * time.Millisecond)
	m.ObserveRunLoopLag(-time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "escrowd_scheduler_runloop_lag_seconds" {
			continue
		}
		found = true
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(2), h.GetSampleCount())
		assert.InDelta(t, 1.5, h.GetSampleSum(), 1e-9)
	}
	assert.True(t, found)
}

func TestNilSchedulerMetricsIsNoop(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.IncJobRun("noop")
		m.IncJobTimeout("noop")
		m.IncJobError("noop", errors.New("x"))
		m.ObserveJobDuration("noop", time.Second)
		m.ObserveRunLoopLag(time.Second)
	})
}
