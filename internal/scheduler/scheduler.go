package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/internal/service"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

var ErrTickInProgress = errors.New("a scheduler tick is already in progress")

// jobRunner, retryRunner and purger are the slices of the services a tick needs.
type jobRunner interface {
	RunDueJobs(ctx context.Context, now time.Time, jobLimit, leadsPerJobLimit int) (*domain.RunReport, error)
}

type retryRunner interface {
	RetryDue(ctx context.Context, now time.Time, limit int) (*service.RetryReport, error)
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Scheduler struct {
	jobs    jobRunner
	retries retryRunner
	purger  purger
	cfg     environments.SchedulerConfig
	now     func() time.Time

	alertWebhook    string
	alertThreshold  int // Number of consecutive all-fail passes before alert
	alertClient     *resty.Client
	lastAlertSentAt time.Time

	// Internal state
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	ticking atomic.Bool
	mu      sync.RWMutex

	// Statistics
	lastRunAt    time.Time
	runsCount    int64
	messagesSent int64
	lastResult   *TickResult

	consecutiveAllFailCount int
}

func NewScheduler(
	jobs jobRunner,
	retries retryRunner,
	purger purger,
	cfg environments.SchedulerConfig,
	alert environments.AlertConfig,
) *Scheduler {
	return &Scheduler{
		jobs:           jobs,
		retries:        retries,
		purger:         purger,
		cfg:            cfg,
		now:            func() time.Time { return time.Now().UTC() },
		alertWebhook:   alert.WebhookURL,
		alertThreshold: alert.IterationCount,
		alertClient:    resty.New().SetTimeout(10 * time.Second),
	}
}

// TickResult summarises one scheduler tick.
type TickResult struct {
	Report  *domain.RunReport    `json:"report"`
	Retries *service.RetryReport `json:"retries,omitempty"`
	Purged  int64                `json:"purged"`
	Errors  []string             `json:"errors,omitempty"`
}

// StartWithParams overrides the cron spec and alert settings before starting.
func (s *Scheduler) StartWithParams(ctx context.Context, cronSpec, alertWebhook string, alertThreshold int) error {
	if cronSpec != "" {
		if _, err := cron.ParseStandard(cronSpec); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", cronSpec, err)
		}
	}

	s.mu.Lock()
	if cronSpec != "" {
		s.cfg.Cron = cronSpec
	}
	s.alertWebhook = alertWebhook
	s.alertThreshold = alertThreshold
	s.consecutiveAllFailCount = 0
	s.mu.Unlock()

	return s.Start(ctx)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Warnf("Scheduler is already running")
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	id, err := c.AddFunc(s.cfg.Cron, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.cfg.Cron, err)
	}

	s.cron = c
	s.entryID = id
	s.running = true
	c.Start()

	logger.Infof("Starting scheduler with cron spec: %s", s.cfg.Cron)

	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	// Wait for an in-flight tick to finish reconciling its jobs.
	<-c.Stop().Done()

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		logger.Errorf("Scheduler tick failed: %v", err)
	}
}

// RunOnce runs due jobs, then the retry sweep, then the retention purge.
// Concurrent calls are rejected with ErrTickInProgress.
func (s *Scheduler) RunOnce(ctx context.Context) (*TickResult, error) {
	if !s.ticking.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer s.ticking.Store(false)

	now := s.now()

	s.mu.Lock()
	s.lastRunAt = now
	s.runsCount++
	runNumber := s.runsCount
	cfg := s.cfg
	s.mu.Unlock()

	logger.Infof("[Run #%d] Starting scheduler pass at %s", runNumber, now.Format(time.RFC3339))

	result := &TickResult{}

	report, err := s.jobs.RunDueJobs(ctx, now, cfg.JobLimit, cfg.LeadsPerJobLimit)
	result.Report = report
	if err != nil {
		logger.Errorf("[Run #%d] Error running due jobs: %v", runNumber, err)
		result.Errors = append(result.Errors, err.Error())
	}

	retries, err := s.retries.RetryDue(ctx, now, cfg.RetryBatchSize)
	result.Retries = retries
	if err != nil {
		logger.Errorf("[Run #%d] Error retrying messages: %v", runNumber, err)
		result.Errors = append(result.Errors, err.Error())
	}

	purged, err := s.purger.PurgeExpired(ctx)
	result.Purged = purged
	if err != nil {
		logger.Errorf("[Run #%d] Error purging expired messages: %v", runNumber, err)
		result.Errors = append(result.Errors, err.Error())
	}

	s.record(runNumber, result)

	return result, nil
}

func (s *Scheduler) record(runNumber int64, result *TickResult) {
	sent := 0
	if result.Report != nil {
		sent += result.Report.MessagesSent
	}
	if result.Retries != nil {
		sent += result.Retries.Sent
	}

	allFailed := result.Report != nil && result.Report.JobsScanned > 0 && result.Report.JobsExecuted == 0

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messagesSent += int64(sent)
	s.lastResult = result

	if !allFailed {
		if s.consecutiveAllFailCount > 0 {
			logger.Debugf("[Run #%d] Resetting consecutive failure count (was: %d)", runNumber, s.consecutiveAllFailCount)
		}
		s.consecutiveAllFailCount = 0
		return
	}

	s.consecutiveAllFailCount++
	logger.Warnf("[Run #%d] All %d due jobs failed (consecutive count: %d/%d)",
		runNumber, result.Report.JobsScanned, s.consecutiveAllFailCount, s.alertThreshold)

	if s.alertThreshold > 0 && s.consecutiveAllFailCount >= s.alertThreshold && s.alertWebhook != "" {
		go s.sendAlert(s.alertWebhook, runNumber, s.consecutiveAllFailCount, result.Report.JobsScanned)
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:                 s.running,
		CronSpec:                s.cfg.Cron,
		LastRunAt:               s.lastRunAt,
		MessagesSent:            s.messagesSent,
		RunsCount:               s.runsCount,
		ConsecutiveAllFailCount: s.consecutiveAllFailCount,
		LastAlertSentAt:         s.lastAlertSentAt,
		LastResult:              s.lastResult,
	}

	if s.running && s.cron != nil {
		status.NextRunAt = s.cron.Entry(s.entryID).Next
	}

	return status
}

func (s *Scheduler) sendAlert(webhookURL string, runNumber int64, consecutiveFailures int, jobsInPass int) {
	alertPayload := map[string]any{
		"alert":               "consecutive_all_fail",
		"runNumber":           runNumber,
		"consecutiveFailures": consecutiveFailures,
		"jobsInPass":          jobsInPass,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message": fmt.Sprintf(
			"All %d due jobs failed for %d consecutive scheduler passes",
			jobsInPass,
			consecutiveFailures,
		),
	}

	resp, err := s.alertClient.R().
		SetHeader("Content-Type", "application/json").
		SetBody(alertPayload).
		Post(webhookURL)
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	if resp.IsSuccess() {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent successfully to %s (consecutive failures: %d)", webhookURL, consecutiveFailures)
	} else {
		logger.Warnf("Alert webhook returned status %d", resp.StatusCode())
	}
}

type SchedulerStatus struct {
	Running                 bool        `json:"running"`
	CronSpec                string      `json:"cronSpec"`
	LastRunAt               time.Time   `json:"lastRunAt,omitempty"`
	NextRunAt               time.Time   `json:"nextRunAt,omitempty"`
	MessagesSent            int64       `json:"messagesSent"`
	RunsCount               int64       `json:"runsCount"`
	ConsecutiveAllFailCount int         `json:"consecutiveAllFailCount"`
	LastAlertSentAt         time.Time   `json:"lastAlertSentAt,omitempty"`
	LastResult              *TickResult `json:"lastResult,omitempty"`
}

// cronLogger routes robfig/cron's logging into pkg/logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
