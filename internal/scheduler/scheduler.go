// Package scheduler triggers the nightly settlement run and periodic
// maintenance jobs at a configured local time of day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mwukenya/settlement/internal/config"
	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/service"
	"github.com/mwukenya/settlement/internal/storage"
)

// OpDailySettlement is the orchestrator operation type for the nightly run.
const OpDailySettlement = "schedule.daily_settlement"

// Job is a named maintenance task run after each nightly settlement pass.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// CallbackCleanup returns the job that purges gateway callback audit rows
// older than the retention window.
func CallbackCleanup(store storage.Store, retentionDays int) Job {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return Job{
		Name: "callback_cleanup",
		Run: func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
			purged, err := store.PurgeCallbacks(ctx, cutoff)
			if err != nil {
				return err
			}
			if purged > 0 {
				slog.Info("Purged callback audit rows",
					"purged", purged,
					"retention_days", retentionDays,
				)
			}
			return nil
		},
	}
}

// Scheduler fires the nightly settlement run at the configured wall-clock
// time and then runs the registered jobs, all through the recovery
// orchestrator.
type Scheduler struct {
	svc  *service.SettlementService
	orch *recovery.Orchestrator
	cfg  config.ScheduleConfig
	loc  *time.Location
	now  func() time.Time

	mu   sync.Mutex
	jobs []Job
}

// New creates a scheduler. The timezone decides what "the just-closed day"
// means; an empty timezone falls back to the host's local time.
func New(svc *service.SettlementService, orch *recovery.Orchestrator, cfg config.ScheduleConfig) (*Scheduler, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Scheduler{
		svc:  svc,
		orch: orch,
		cfg:  cfg,
		loc:  loc,
		now:  time.Now,
	}, nil
}

// RegisterJob adds a maintenance job to the nightly pass.
func (s *Scheduler) RegisterJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) snapshotJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	return jobs
}

// Start runs the trigger loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting settlement scheduler",
		"hour", s.cfg.Hour,
		"minute", s.cfg.Minute,
		"timezone", s.loc.String(),
		"auto_process", s.cfg.AutoProcess,
	)
	for {
		next := s.nextRunAfter(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		slog.Info("Next scheduled settlement run", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Shutting down settlement scheduler")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// nextRunAfter returns the first trigger instant strictly after t.
// time.Date renormalizes around DST gaps, so a trigger time that does not
// exist on a transition day still resolves to a real instant.
func (s *Scheduler) nextRunAfter(t time.Time) time.Time {
	t = t.In(s.loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runOnce settles the just-closed day, then runs the registered jobs. Job
// failures are logged and never stop the remaining jobs.
func (s *Scheduler) runOnce(ctx context.Context) {
	date := models.FormatSettlementDate(s.now().In(s.loc).AddDate(0, 0, -1))

	err := s.orch.Execute(ctx, OpDailySettlement, func(ctx context.Context) error {
		return s.settleDay(ctx, date)
	})
	if err != nil {
		slog.Error("Nightly settlement run failed",
			"settlement_date", date,
			"error", err,
		)
	}

	for _, job := range s.snapshotJobs() {
		if err := s.orch.Execute(ctx, "schedule."+job.Name, job.Run); err != nil {
			slog.Error("Scheduled job failed", "job", job.Name, "error", err)
		}
	}
}

// settleDay generates the settlement for date and, when auto-processing is
// on, submits its commission payouts. The bank legs need the operator's
// confirmation secret, which is interactive; nightly runs never touch them.
func (s *Scheduler) settleDay(ctx context.Context, date string) error {
	settlement, err := s.svc.Generate(ctx, date)
	if err != nil {
		if !errs.Is(err, errs.KindConflict) {
			return err
		}
		// An operator generated the day ahead of the schedule; pick the
		// existing settlement up for processing.
		settlement, err = s.svc.GetSettlementByDate(ctx, date)
		if err != nil {
			return err
		}
	}

	if !s.cfg.AutoProcess {
		return nil
	}
	if settlement.Status != models.SettlementPending {
		slog.Info("Skipping auto-process, settlement is not pending",
			"settlement_id", settlement.ID,
			"settlement_date", date,
			"status", settlement.Status,
		)
		return nil
	}

	result, err := s.svc.Process(ctx, settlement.ID, "scheduler", service.ProcessOptions{
		InitiatePayouts: true,
	})
	if err != nil {
		return err
	}
	slog.Info("Nightly settlement run finished",
		"settlement_id", settlement.ID,
		"settlement_date", date,
		"payouts_submitted", result.PayoutsSubmitted,
		"payout_failures", result.PayoutFailures,
		"completed", result.Completed,
	)
	return nil
}
