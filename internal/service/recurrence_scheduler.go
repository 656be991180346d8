package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/metrics"
)

type jobStore interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error)
	RecordRun(ctx context.Context, id int64, u domain.JobRunUpdate) error
	RecordError(ctx context.Context, id int64, message string) error
}

type messageDispatcher interface {
	Dispatch(ctx context.Context, msg domain.NewMessage) (DispatchResult, error)
}

// RecurrenceScheduler executes due scheduled jobs. Jobs may run in parallel
// up to concurrency; recipients within a job are always sent one at a time.
type RecurrenceScheduler struct {
	jobs        jobStore
	audience    *AudienceResolver
	dispatcher  messageDispatcher
	concurrency int
}

func NewRecurrenceScheduler(
	jobs jobStore,
	audience *AudienceResolver,
	dispatcher messageDispatcher,
	concurrency int,
) *RecurrenceScheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RecurrenceScheduler{
		jobs:        jobs,
		audience:    audience,
		dispatcher:  dispatcher,
		concurrency: concurrency,
	}
}

// RunDueJobs runs one pass. A failing job is recorded on that job and does
// not abort the pass; only failing to list due jobs returns an error.
func (s *RecurrenceScheduler) RunDueJobs(ctx context.Context, now time.Time, jobLimit, leadsPerJobLimit int) (*domain.RunReport, error) {
	report := &domain.RunReport{StartedAt: now}

	jobs, err := s.jobs.FindDue(ctx, now, jobLimit)
	if err != nil {
		return report, fmt.Errorf("failed to find due jobs: %w", err)
	}

	report.JobsScanned = len(jobs)
	if len(jobs) == 0 {
		logger.Debugf("No scheduled jobs due at %s", now.Format(time.RFC3339))
		return report, nil
	}

	outcomes := make([]domain.JobOutcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range jobs {
		i := i
		g.Go(func() error {
			outcomes[i] = s.runJob(ctx, &jobs[i], now, leadsPerJobLimit)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.OK {
			report.JobsExecuted++
			metrics.JobRunsTotal.WithLabelValues("ok").Inc()
		} else {
			metrics.JobRunsTotal.WithLabelValues("error").Inc()
		}
		report.MessagesSent += o.Sent
		report.MessagesQueued += o.Queued
		report.MessagesFailed += o.Failed
	}
	report.Jobs = outcomes

	logger.Infof("Scheduler pass: %d due, %d executed, %d sent, %d queued, %d failed",
		report.JobsScanned, report.JobsExecuted, report.MessagesSent, report.MessagesQueued, report.MessagesFailed)

	return report, nil
}

func (s *RecurrenceScheduler) runJob(ctx context.Context, job *domain.ScheduledJob, now time.Time, leadsLimit int) domain.JobOutcome {
	outcome := domain.JobOutcome{JobID: job.ID}

	if err := s.executeJob(ctx, job, now, leadsLimit, &outcome); err != nil {
		logger.Errorf("Scheduled job %d (%s) failed: %v", job.ID, job.Name, err)
		outcome.OK = false
		outcome.Error = err.Error()

		if recErr := s.jobs.RecordError(ctx, job.ID, err.Error()); recErr != nil {
			logger.Errorf("Failed to record error for job %d: %v", job.ID, recErr)
		}
		return outcome
	}

	outcome.OK = true
	return outcome
}

func (s *RecurrenceScheduler) executeJob(
	ctx context.Context,
	job *domain.ScheduledJob,
	now time.Time,
	leadsLimit int,
	outcome *domain.JobOutcome,
) error {
	recipients, err := s.audience.Resolve(ctx, job.TargetType, job.TargetSpec, leadsLimit)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}
	outcome.Recipients = len(recipients)

	jobID := job.ID
	for _, lead := range recipients {
		leadID := lead.ID
		result, err := s.dispatcher.Dispatch(ctx, domain.NewMessage{
			LeadID:      &leadID,
			JobID:       &jobID,
			SenderID:    job.SenderID,
			PhoneNumber: lead.PhoneNumber,
			Direction:   domain.DirectionOutbound,
			MessageType: job.MessageType,
			Content:     job.MessageContent,
		})
		if err != nil {
			return fmt.Errorf("send to lead %d: %w", lead.ID, err)
		}

		switch result.Outcome {
		case OutcomeSent:
			outcome.Sent++
		case OutcomeQueued:
			outcome.Queued++
		case OutcomeFailed, OutcomeBlocked:
			outcome.Failed++
		default:
			outcome.Skipped++
		}
	}

	update := domain.JobRunUpdate{
		Status:    domain.JobActive,
		LastRunAt: now,
		RunCount:  job.RunCount + 1,
	}

	next, repeats := ComputeNextRunAt(job.Recurrence, now)
	if !repeats || (job.MaxRuns > 0 && update.RunCount >= job.MaxRuns) {
		update.Status = domain.JobCompleted
		outcome.Completed = true
	} else {
		update.NextRunAt = &next
	}

	if err := s.jobs.RecordRun(ctx, job.ID, update); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}

	return nil
}
