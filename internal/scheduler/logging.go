package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/escrowd/internal/observability/context"
	obslogger "github.com/smallbiznis/escrowd/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	"github.com/smallbiznis/escrowd/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. Its id doubles as the request and
// correlation id of everything the run logs or writes to the audit trail.
type jobRun struct {
	job            string
	runID          string
	startedAt      time.Time
	processedCount int
	errorCount     int
	log            *zap.Logger
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) newJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	runID := s.genID.Generate().String()
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler")
	ctx = obscontext.WithRequestID(ctx, runID)
	ctx = correlation.WithID(ctx, runID)

	run := &jobRun{
		job:       job,
		runID:     runID,
		startedAt: s.clock.Now(),
		log:       s.logger(ctx).With(zap.String("job", job), zap.String("run_id", runID)),
	}
	run.log.Info("scheduler.job.start")
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) finishJobRun(run *jobRun, err error) {
	level := zap.InfoLevel
	if run.errorCount > 0 {
		level = zap.WarnLevel
	}
	if ce := run.log.Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(
			zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
			zap.Int("processed_count", run.processedCount),
			zap.Int("error_count", run.errorCount),
		)
	}
	if err != nil {
		run.log.Error("scheduler job failed",
			zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
			zap.Error(err),
		)
	}
}
