// Package scheduler runs periodic background checks over the books. Jobs are
// read-only; every money movement stays behind the admin API.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	"github.com/smallbiznis/escrowd/internal/lock"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"github.com/smallbiznis/escrowd/pkg/log/ctxlogger"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobInvariantCheck     = "invariant_check"
	JobStaleWebhookEvents = "stale_webhook_events"
)

var ErrUnknownJob = errors.New("unknown_job")

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	GenID     *snowflake.Node
	Clock     clock.Clock
	Ledger    ledgerdomain.Service
	Payments  paymentdomain.Service
	Locker    *lock.Locker                 `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Telemetry *telemetry.Metrics           `optional:"true"`
}

type job struct {
	name    string
	spec    string
	run     func(ctx context.Context, run *jobRun) error
	running atomic.Bool
}

type Scheduler struct {
	log      *zap.Logger
	cfg      config.SchedulerConfig
	genID    *snowflake.Node
	clock    clock.Clock
	ledger   ledgerdomain.Service
	payments paymentdomain.Service
	locker   *lock.Locker
	metrics  *obsmetrics.SchedulerMetrics
	backlog  *telemetry.Metrics

	mu   sync.Mutex
	cron *cron.Cron
	jobs map[string]*job
}

func New(p Params) *Scheduler {
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	s := &Scheduler{
		log:      p.Log.Named("scheduler"),
		cfg:      p.Config.Scheduler,
		genID:    p.GenID,
		clock:    p.Clock,
		ledger:   p.Ledger,
		payments: p.Payments,
		locker:   p.Locker,
		metrics:  metrics,
		backlog:  p.Telemetry,
	}
	s.jobs = map[string]*job{
		JobInvariantCheck:     {name: JobInvariantCheck, spec: s.cfg.InvariantSpec, run: s.checkInvariant},
		JobStaleWebhookEvents: {name: JobStaleWebhookEvents, spec: s.cfg.StaleWebhookSpec, run: s.reportStaleWebhooks},
	}
	return s
}

// Jobs returns the registered job names in a stable order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start registers every job with a non-empty schedule and starts the cron
// loop. It is a no-op when already started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	for _, name := range s.Jobs() {
		j := s.jobs[name]
		if j.spec == "" {
			s.log.Info("scheduler job disabled", zap.String("job", name))
			continue
		}
		schedule, err := cron.ParseStandard(j.spec)
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, j.spec, err)
		}
		c.Schedule(schedule, s.tick(name, schedule))
		s.log.Info("scheduler job registered",
			zap.String("job", name),
			zap.String("spec", j.spec),
		)
	}
	c.Start()
	s.cron = c
	return nil
}

// tick runs the job for every cron firing and records how late the firing
// was against the schedule.
func (s *Scheduler) tick(name string, schedule cron.Schedule) cron.Job {
	var expected atomic.Int64
	expected.Store(schedule.Next(s.clock.Now()).UnixNano())
	return cron.FuncJob(func() {
		now := s.clock.Now()
		due := time.Unix(0, expected.Swap(schedule.Next(now).UnixNano()))
		s.metrics.ObserveRunLoopLag(now.Sub(due))
		_ = s.RunJob(context.Background(), name)
	})
}

// Stop halts the cron loop and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunJob executes one job immediately. A run is skipped when the same job is
// still running in this process or another instance holds its lock.
func (s *Scheduler) RunJob(parent context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return ErrUnknownJob
	}

	if !j.running.CompareAndSwap(false, true) {
		s.metrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonOverlap)
		s.log.Debug("scheduler job skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerSkipReasonOverlap))
		return nil
	}
	defer j.running.Store(false)

	lockKey := "job:" + name
	token, acquired, err := s.locker.TryLock(parent, lockKey, s.lockTTL())
	if err != nil {
		s.metrics.IncJobError(name, err)
		s.log.Warn("scheduler lock failed", zap.String("job", name), zap.Error(err))
		return err
	}
	if !acquired {
		s.metrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Debug("scheduler job skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockKey, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	return s.runJob(parent, name, s.jobTimeout(), j.run)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = ctxlogger.ContextWithOperation(ctx, "scheduler."+name)
	ctx, run := s.newJobRun(ctx, name)
	s.metrics.IncJobRun(name)

	err := fn(ctx, run)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	if err == nil {
		s.finishJobRun(run, nil)
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.finishJobRun(run, nil)
		run.log.Warn("scheduler job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	s.finishJobRun(run, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) jobTimeout() time.Duration {
	if s.cfg.JobTimeout > 0 {
		return s.cfg.JobTimeout
	}
	return time.Minute
}

func (s *Scheduler) lockTTL() time.Duration {
	if s.cfg.LockTTL > 0 {
		return s.cfg.LockTTL
	}
	return 2 * s.jobTimeout()
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
