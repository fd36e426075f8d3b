package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	obsmetrics "github.com/smallbiznis/valkyrie/internal/observability/metrics"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobCloseBillingPeriod = "close_billing_period"

	closeLockKey = "valkyrie:lock:billing:close"
)

var (
	ErrInvalidConfig  = errors.New("invalid_scheduler_config")
	ErrAlreadyRunning = errors.New("scheduler_already_running")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	BillingSvc billingdomain.Service
	PartnerSvc partnerdomain.Service
	Locker     ratelimit.Locker
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

// Scheduler drafts last month's invoices for every partner on a cron
// schedule. Only one replica runs the close at a time.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	genID      *snowflake.Node
	billingSvc billingdomain.Service
	partnerSvc partnerdomain.Service
	locker     ratelimit.Locker
	metrics    *obsmetrics.SchedulerMetrics

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.BillingSvc == nil || p.PartnerSvc == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.CronSpec); err != nil {
		return nil, fmt.Errorf("%w: cron spec %q: %v", ErrInvalidConfig, cfg.CronSpec, err)
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		clock:      p.Clock,
		genID:      p.GenID,
		billingSvc: p.BillingSvc,
		partnerSvc: p.PartnerSvc,
		locker:     p.Locker,
		metrics:    p.Metrics,
	}, nil
}

// Start registers the close job with cron. A catch-up run is fired in the
// background when RunOnStart is set, so a replica that missed the 1st of
// the month still closes it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.cfg.CronSpec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true

	s.log.Info("scheduler started", zap.String("cron", s.cfg.CronSpec))

	if s.cfg.RunOnStart {
		go func() {
			if err := s.RunOnce(ctx); err != nil {
				s.log.Warn("scheduler catch-up run failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Stop waits for a running job to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobCloseBillingPeriod, s.cfg.JobTimeout, s.CloseBillingPeriodJob)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	token, ok, err := s.locker.TryLock(ctx, closeLockKey+":"+name, s.cfg.LockTTL)
	if err != nil {
		s.metrics.IncJobError(name, err)
		return fmt.Errorf("%s: acquire lock: %w", name, err)
	}
	if !ok {
		s.metrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Info("job skipped, lock held elsewhere", zap.String("job", name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), closeLockKey+":"+name, token); err != nil {
			s.log.Warn("release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err = fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		s.metrics.SetLastSuccess(name, s.clock.Now())
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// CloseBillingPeriodJob drafts the previous month's invoice for every
// partner. Partners that already have one are counted as existing, so
// reruns are harmless. One partner failing does not stop the others.
func (s *Scheduler) CloseBillingPeriodJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	period := billingdomain.PeriodOf(s.clock.Now()).Start.AddDate(0, -1, 0).Format("2006-01")

	partners, err := s.partnerSvc.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list partners: %w", err)
	}

	var failed error
	for _, partner := range partners {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.AddProcessed(1)

		inv, created, err := s.billingSvc.ClosePeriod(ctx, partner.ID, period)
		if err != nil {
			s.metrics.IncInvoiceOutcome(obsmetrics.InvoiceOutcomeFailed)
			s.logSchedulerError(ctx, run, "close billing period failed", partner.ID, err, zap.String("period", period))
			failed = errors.Join(failed, fmt.Errorf("partner %s: %w", partner.ID, err))
			continue
		}
		if !created {
			s.metrics.IncInvoiceOutcome(obsmetrics.InvoiceOutcomeExisting)
			continue
		}
		run.IncCreated()
		s.metrics.IncInvoiceOutcome(obsmetrics.InvoiceOutcomeCreated)
		s.logInvoiceDrafted(ctx, partner.ID, inv.ID, period)
	}
	return failed
}
